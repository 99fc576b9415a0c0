package gate_test

import (
	"sync"
	"testing"
	"time"

	"relaycore/internal/connstate"
	"relaycore/internal/gate"
	"relaycore/internal/infra/clock"
)

type fakeMember struct{ id connstate.ClientID }

func (m *fakeMember) ID() connstate.ClientID { return m.id }
func (m *fakeMember) MarkShouldHaveLeft()     {}

type fakeQuorum struct {
	mu      sync.Mutex
	members map[connstate.ClientID]*fakeMember
}

func newFakeQuorum() *fakeQuorum { return &fakeQuorum{members: map[connstate.ClientID]*fakeMember{}} }

func (q *fakeQuorum) GetMember(id connstate.ClientID) (connstate.Member, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.members[id]
	if !ok {
		return nil, false
	}
	return m, true
}
func (q *fakeQuorum) OnAddMember(func(connstate.ClientID)) func()    { return func() {} }
func (q *fakeQuorum) OnRemoveMember(func(connstate.ClientID)) func() { return func() {} }

type fakeOwner struct{}

func (fakeOwner) ShouldClientJoinWrite() bool                    { return false }
func (fakeOwner) MaxClientLeaveWait() (time.Duration, bool)      { return 0, false }
func (fakeOwner) QuorumClients() (connstate.QuorumClients, bool) { return nil, false }

type fakeTelemetry struct{}

func (fakeTelemetry) LogConnectionIssue(string, map[string]any)       {}
func (fakeTelemetry) SendTelemetryEvent(connstate.TelemetryEvent)     {}
func (fakeTelemetry) StartSpan(string) connstate.Span                { return noopSpan{} }

type noopSpan struct{}

func (noopSpan) End(map[string]any) {}

type fakeDeltaStream struct {
	mu       sync.Mutex
	last     uint64
	onOp     []func(uint64)
}

func newFakeDeltaStream(last uint64) *fakeDeltaStream { return &fakeDeltaStream{last: last} }

func (s *fakeDeltaStream) LastKnownSequenceNumber() uint64 { return s.last }

func (s *fakeDeltaStream) OnOp(f func(uint64)) func() {
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

func (s *fakeDeltaStream) Process(seq uint64) {
	s.mu.Lock()
	listeners := append([]func(uint64){}, s.onOp...)
	s.mu.Unlock()
	for _, f := range listeners {
		if f != nil {
			f(seq)
		}
	}
}

func TestGate_DelaysConnectedUntilCaughtUp(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock()
	stream := newFakeDeltaStream(100)
	core := connstate.New(fakeOwner{}, fakeTelemetry{}, clk, "")
	core.InitProtocol(newFakeQuorum())

	g := gate.New(core, stream, clk)

	var mu sync.Mutex
	var seen []string
	g.OnTransition(func(newState, oldState connstate.ConnectionState, reason string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, newState.String()+"/"+reason)
	})

	core.OnConnect(connstate.ModeRead, connstate.ConnectDetails{ClientID: "c1"})

	if g.ConnectionState() != connstate.CatchingUp {
		t.Fatalf("gate state = %v, want CatchingUp (inner already Connected, gate must still withhold)", g.ConnectionState())
	}

	stream.Process(80)
	if g.ConnectionState() != connstate.CatchingUp {
		t.Fatalf("gate state = %v, want CatchingUp after partial catch-up", g.ConnectionState())
	}

	stream.Process(100)
	if g.ConnectionState() != connstate.Connected {
		t.Fatalf("gate state = %v, want Connected once caught up", g.ConnectionState())
	}

	mu.Lock()
	defer mu.Unlock()
	last := seen[len(seen)-1]
	if last != "Connected/caught up" {
		t.Fatalf("last forwarded transition = %q, want \"Connected/caught up\"", last)
	}
}
