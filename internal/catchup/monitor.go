// Package catchup watches a delta (op) stream and signals once local
// processing has reached a target sequence number snapshotted at
// construction — the condition connstate.CatchUpGate waits on before
// forwarding a Connected transition to external observers.
package catchup

import (
	"sync"

	"relaycore/internal/connstate"
	"relaycore/internal/infra/clock"
)

// Monitor observes a DeltaStream and fires every registered listener at
// most once, the moment the stream's locally-processed sequence number
// reaches or exceeds the target captured at construction.
type Monitor struct {
	mu        sync.Mutex
	target    uint64
	caughtUp  bool
	listeners []func()
	cancelOp  func()
	clk       clock.Clock
	disposed  bool
}

// New snapshots stream's current last-known sequence number as the target.
// If that target is already satisfied, the caught-up signal is scheduled to
// fire asynchronously — never synchronously within New — so a caller can
// register a listener with On before it fires.
func New(stream connstate.DeltaStream, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real
	}
	m := &Monitor{target: stream.LastKnownSequenceNumber(), clk: clk}
	m.cancelOp = stream.OnOp(m.onOp)

	if m.target == 0 {
		// A target of zero means nothing has to arrive for catch-up to be
		// satisfied already; fire on the next tick rather than inline.
		clk.AfterFunc(0, m.fire)
	}
	return m
}

// On registers a one-shot listener for the caught-up signal. If the monitor
// has already fired, listener runs immediately.
func (m *Monitor) On(listener func()) {
	m.mu.Lock()
	if m.caughtUp {
		m.mu.Unlock()
		listener()
		return
	}
	m.listeners = append(m.listeners, listener)
	m.mu.Unlock()
}

// Dispose cancels the delta-stream subscription; any not-yet-fired signal
// is abandoned and registered listeners will never run.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	if m.cancelOp != nil {
		m.cancelOp()
	}
	m.listeners = nil
}

func (m *Monitor) onOp(seq uint64) {
	if seq < m.target {
		return
	}
	m.fire()
}

func (m *Monitor) fire() {
	m.mu.Lock()
	if m.disposed || m.caughtUp {
		m.mu.Unlock()
		return
	}
	m.caughtUp = true
	listeners := m.listeners
	m.listeners = nil
	if m.cancelOp != nil {
		m.cancelOp()
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}
