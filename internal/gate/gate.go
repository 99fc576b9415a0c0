// Package gate adapts connstate.Core so a Connected transition is further
// delayed until a catchup.Monitor reports the delta stream has caught up —
// installed in front of the core only when a deployment's configuration
// enables catch_up_before_declaring_connected.
package gate

import (
	"fmt"
	"sync"

	"relaycore/internal/catchup"
	"relaycore/internal/connstate"
	"relaycore/internal/infra/clock"
)

// Core is the subset of *connstate.Core the gate drives directly. Declared
// as an interface so tests can substitute a double if ever needed; in
// production it is always a *connstate.Core.
type Core interface {
	OnTransition(connstate.Listener) (cancel func())
	OnConnect(mode connstate.ConnectionMode, details connstate.ConnectDetails)
	OnDisconnect(reason string)
	ContainerSaved()
	Dispose()
	ConnectionState() connstate.ConnectionState
	PendingClientID() connstate.ClientID
}

// Gate wraps an inner Core, presenting the same external transition
// interface but caching and re-sequencing what it forwards. Its externally
// observed state can lag the inner core's Connected state by up to one
// catch-up interval.
type Gate struct {
	inner  Core
	stream connstate.DeltaStream
	clk    clock.Clock

	mu          sync.Mutex
	cachedState connstate.ConnectionState
	monitor     *catchup.Monitor

	listeners  []listenerEntry
	listenerID int
}

type listenerEntry struct {
	id int
	fn connstate.Listener
}

// New wraps inner, constructing a fresh catchup.Monitor against stream each
// time the inner core transitions into CatchingUp.
func New(inner Core, stream connstate.DeltaStream, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.Real
	}
	g := &Gate{inner: inner, stream: stream, clk: clk, cachedState: inner.ConnectionState()}
	inner.OnTransition(g.onInnerTransition)
	return g
}

// OnTransition registers l against the gate's forwarded (possibly delayed)
// transitions.
func (g *Gate) OnTransition(l connstate.Listener) (cancel func()) {
	g.mu.Lock()
	id := g.listenerID
	g.listenerID++
	g.listeners = append(g.listeners, listenerEntry{id: id, fn: l})
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, e := range g.listeners {
			if e.id == id {
				g.listeners = append(g.listeners[:i], g.listeners[i+1:]...)
				return
			}
		}
	}
}

func (g *Gate) ConnectionState() connstate.ConnectionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cachedState
}

func (g *Gate) OnConnect(mode connstate.ConnectionMode, details connstate.ConnectDetails) {
	g.inner.OnConnect(mode, details)
}

func (g *Gate) OnDisconnect(reason string) {
	g.inner.OnDisconnect(reason)
}

func (g *Gate) ContainerSaved() {
	g.inner.ContainerSaved()
}

func (g *Gate) Dispose() {
	g.mu.Lock()
	if g.monitor != nil {
		g.monitor.Dispose()
		g.monitor = nil
	}
	g.mu.Unlock()
	g.inner.Dispose()
}

// onInnerTransition is registered on the wrapped core; it runs on whatever
// goroutine the core's own emission happens on (already outside the core's
// internal lock), so it takes its own lock before touching gate state.
func (g *Gate) onInnerTransition(newState, oldState connstate.ConnectionState, reason string) {
	switch newState {
	case connstate.CatchingUp:
		g.mu.Lock()
		if g.monitor != nil {
			g.mu.Unlock()
			panic("gate: transition to CatchingUp while a catch-up monitor already exists")
		}
		g.monitor = catchup.New(g.stream, g.clk)
		g.mu.Unlock()
		g.forward(newState, oldState, reason)

	case connstate.Connected:
		g.mu.Lock()
		m := g.monitor
		g.mu.Unlock()
		if m == nil {
			panic(fmt.Sprintf("gate: transition to Connected with no catch-up monitor (reason=%q)", reason))
		}
		m.On(func() {
			g.forward(connstate.Connected, connstate.CatchingUp, "caught up")
		})

	case connstate.Disconnected:
		g.mu.Lock()
		if g.monitor != nil {
			g.monitor.Dispose()
			g.monitor = nil
		}
		g.mu.Unlock()
		g.forward(newState, oldState, reason)
	}
}

func (g *Gate) forward(newState, oldState connstate.ConnectionState, reason string) {
	g.mu.Lock()
	g.cachedState = newState
	listeners := append([]listenerEntry(nil), g.listeners...)
	g.mu.Unlock()

	for _, e := range listeners {
		e.fn(newState, oldState, reason)
	}
}
