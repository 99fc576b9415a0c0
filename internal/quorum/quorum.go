// Package quorum is the in-memory membership set a relaycore demo process
// builds from the Join/Leave ops it observes on its delta stream. It
// implements connstate.QuorumClients and is the only concrete component
// that mutates Member.ShouldHaveLeft — every other reader treats members as
// read-only.
package quorum

import (
	"sync"

	"relaycore/internal/connstate"
)

// member is Table's concrete Member: a quorum entry plus the promotion hint
// the core sets on the previous client when a new one takes over.
type member struct {
	id             connstate.ClientID
	shouldHaveLeft bool
}

func (m *member) ID() connstate.ClientID { return m.id }

func (m *member) MarkShouldHaveLeft() { m.shouldHaveLeft = true }

// ShouldHaveLeft reports whether the core has flagged this member stale.
func (m *member) ShouldHaveLeft() bool { return m.shouldHaveLeft }

// Table is a thread-safe membership set driven by Join/Leave op callbacks
// from a transport or op-stream reader. It satisfies connstate.QuorumClients.
type Table struct {
	mu      sync.RWMutex
	members map[connstate.ClientID]*member

	addListeners map[int]func(connstate.ClientID)
	remListeners map[int]func(connstate.ClientID)
	nextID       int
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		members:      map[connstate.ClientID]*member{},
		addListeners: map[int]func(connstate.ClientID){},
		remListeners: map[int]func(connstate.ClientID){},
	}
}

// GetMember implements connstate.QuorumClients.
func (t *Table) GetMember(id connstate.ClientID) (connstate.Member, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.members[id]
	if !ok {
		return nil, false
	}
	return m, true
}

// OnAddMember implements connstate.QuorumClients.
func (t *Table) OnAddMember(f func(connstate.ClientID)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.addListeners[id] = f
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.addListeners, id)
		t.mu.Unlock()
	}
}

// OnRemoveMember implements connstate.QuorumClients.
func (t *Table) OnRemoveMember(f func(connstate.ClientID)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.remListeners[id] = f
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.remListeners, id)
		t.mu.Unlock()
	}
}

// HandleJoin applies a sequenced Join op: adds id to the table and notifies
// every add-member listener. Calling HandleJoin for an already-present id
// is a no-op re-notification — Join ops are assumed idempotent upstream.
func (t *Table) HandleJoin(id connstate.ClientID) {
	t.mu.Lock()
	if _, exists := t.members[id]; !exists {
		t.members[id] = &member{id: id}
	}
	listeners := snapshot(t.addListeners)
	t.mu.Unlock()

	for _, f := range listeners {
		f(id)
	}
}

// HandleLeave applies a sequenced Leave op: removes id and notifies every
// remove-member listener.
func (t *Table) HandleLeave(id connstate.ClientID) {
	t.mu.Lock()
	delete(t.members, id)
	listeners := snapshot(t.remListeners)
	t.mu.Unlock()

	for _, f := range listeners {
		f(id)
	}
}

// Members returns a snapshot of the current membership ids, for diagnostics.
func (t *Table) Members() []connstate.ClientID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]connstate.ClientID, 0, len(t.members))
	for id := range t.members {
		out = append(out, id)
	}
	return out
}

func snapshot(m map[int]func(connstate.ClientID)) []func(connstate.ClientID) {
	out := make([]func(connstate.ClientID), 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	return out
}
