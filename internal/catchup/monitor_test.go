package catchup_test

import (
	"sync"
	"testing"

	"relaycore/internal/catchup"
	"relaycore/internal/connstate"
	"relaycore/internal/infra/clock"
)

type fakeStream struct {
	mu    sync.Mutex
	last  uint64
	onOp  []func(uint64)
}

func newFakeStream(last uint64) *fakeStream { return &fakeStream{last: last} }

func (s *fakeStream) LastKnownSequenceNumber() uint64 { return s.last }

func (s *fakeStream) OnOp(f func(uint64)) func() {
	s.mu.Lock()
	idx := len(s.onOp)
	s.onOp = append(s.onOp, f)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.onOp[idx] = nil
		s.mu.Unlock()
	}
}

func (s *fakeStream) push(seq uint64) {
	s.mu.Lock()
	listeners := append([]func(uint64){}, s.onOp...)
	s.mu.Unlock()
	for _, f := range listeners {
		if f != nil {
			f(seq)
		}
	}
}

var _ connstate.DeltaStream = (*fakeStream)(nil)

func TestMonitor_FiresOnceTargetReached(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock()
	stream := newFakeStream(10)
	m := catchup.New(stream, clk)

	var fired int
	m.On(func() { fired++ })

	stream.push(5)
	if fired != 0 {
		t.Fatalf("fired = %d before target reached, want 0", fired)
	}

	stream.push(10)
	if fired != 1 {
		t.Fatalf("fired = %d at target, want 1", fired)
	}

	stream.push(11)
	if fired != 1 {
		t.Fatalf("fired = %d after a second push past target, want still 1 (one-shot)", fired)
	}
}

func TestMonitor_LateRegistrationStillFires(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock()
	stream := newFakeStream(10)
	m := catchup.New(stream, clk)

	stream.push(10)

	var fired bool
	m.On(func() { fired = true })

	if !fired {
		t.Fatalf("listener registered after the signal must fire immediately")
	}
}

func TestMonitor_ZeroTargetFiresAsynchronously(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock()
	stream := newFakeStream(0)
	m := catchup.New(stream, clk)

	var fired bool
	m.On(func() { fired = true })
	if fired {
		t.Fatalf("zero-target signal must not fire synchronously within registration")
	}

	clk.Advance(0)
	if !fired {
		t.Fatalf("expected the scheduled zero-target signal to have fired")
	}
}

func TestMonitor_DisposeSuppressesFutureFires(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock()
	stream := newFakeStream(10)
	m := catchup.New(stream, clk)
	m.Dispose()

	var fired bool
	m.On(func() { fired = true })
	stream.push(10)

	if fired {
		t.Fatalf("disposed monitor must not fire")
	}
}
