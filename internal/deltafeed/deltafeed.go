// Package deltafeed is the in-memory op stream a relaycore demo process
// reads from: each Push advances the locally-processed sequence number and
// notifies subscribers, most importantly catchup.Monitor.
package deltafeed

import "sync"

// Feed implements connstate.DeltaStream.
type Feed struct {
	mu        sync.Mutex
	lastKnown uint64
	listeners map[int]func(uint64)
	nextID    int
}

// New returns a Feed whose last-known sequence number starts at lastKnown —
// typically the server-reported watermark at connect time.
func New(lastKnown uint64) *Feed {
	return &Feed{lastKnown: lastKnown, listeners: map[int]func(uint64){}}
}

// LastKnownSequenceNumber implements connstate.DeltaStream.
func (f *Feed) LastKnownSequenceNumber() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastKnown
}

// OnOp implements connstate.DeltaStream.
func (f *Feed) OnOp(listener func(uint64)) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = listener
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Push records seq as locally processed and notifies every OnOp listener.
// Callers (the op applier) must call Push in increasing sequence order;
// Feed does not itself enforce ordering.
func (f *Feed) Push(seq uint64) {
	f.mu.Lock()
	if seq > f.lastKnown {
		f.lastKnown = seq
	}
	listeners := make([]func(uint64), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(seq)
	}
}
