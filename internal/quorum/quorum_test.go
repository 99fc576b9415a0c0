package quorum_test

import (
	"testing"

	"relaycore/internal/connstate"
	"relaycore/internal/quorum"
)

func TestTable_JoinLeaveNotifyListeners(t *testing.T) {
	t.Parallel()

	q := quorum.New()

	var added, removed []connstate.ClientID
	q.OnAddMember(func(id connstate.ClientID) { added = append(added, id) })
	q.OnRemoveMember(func(id connstate.ClientID) { removed = append(removed, id) })

	q.HandleJoin("c1")
	if _, ok := q.GetMember("c1"); !ok {
		t.Fatalf("expected c1 to be a member after HandleJoin")
	}
	if len(added) != 1 || added[0] != "c1" {
		t.Fatalf("added = %v, want [c1]", added)
	}

	q.HandleLeave("c1")
	if _, ok := q.GetMember("c1"); ok {
		t.Fatalf("expected c1 to be removed after HandleLeave")
	}
	if len(removed) != 1 || removed[0] != "c1" {
		t.Fatalf("removed = %v, want [c1]", removed)
	}
}

func TestTable_CancelStopsFurtherNotifications(t *testing.T) {
	t.Parallel()

	q := quorum.New()
	var count int
	cancel := q.OnAddMember(func(connstate.ClientID) { count++ })

	q.HandleJoin("a")
	cancel()
	q.HandleJoin("b")

	if count != 1 {
		t.Fatalf("count = %d, want 1 (listener cancelled before second join)", count)
	}
}

func TestTable_MarkShouldHaveLeft(t *testing.T) {
	t.Parallel()

	q := quorum.New()
	q.HandleJoin("c1")

	m, ok := q.GetMember("c1")
	if !ok {
		t.Fatalf("expected c1 present")
	}
	m.MarkShouldHaveLeft()

	m2, _ := q.GetMember("c1")
	if sh, ok := m2.(interface{ ShouldHaveLeft() bool }); !ok || !sh.ShouldHaveLeft() {
		t.Fatalf("expected ShouldHaveLeft to stick on the same member")
	}
}
