// Package clock abstracts wall-clock time so that components with one-shot
// timers (join/leave waits, catch-up signals) can be driven deterministically
// in tests instead of sleeping for real seconds.
package clock

import "time"

// Timer is the handle returned by Clock.AfterFunc. Stop cancels the timer;
// it returns false if the timer had already fired or been stopped. As with
// time.Timer, a false return does not guarantee the scheduled function is
// not currently running or about to run — callers must tolerate a late fire.
type Timer interface {
	Stop() bool
}

// Clock is the minimal time source consumed by the rest of this module.
// RealClock wraps the time package; FakeClock lets tests advance time in
// controlled steps and observe exactly which timers fire.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the process-wide production clock.
var Real Clock = RealClock{}

// RealClock implements Clock over the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
