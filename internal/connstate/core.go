package connstate

import (
	"fmt"
	"sync"

	"relaycore/internal/infra/clock"
)

// listenerEntry lets OnTransition's cancel function remove exactly the
// listener it registered, even if others were added or removed since.
type listenerEntry struct {
	id int
	fn Listener
}

// Core is ConnectionStateCore: the state machine proper. It accepts
// connect/disconnect/membership events, manages the Join and Leave timers,
// and emits one transition per state change to every registered listener.
//
// All public methods serialize through mu: Go's time.AfterFunc runs its
// callback on its own goroutine, so nothing here can assume a single calling
// thread. Listener calls and telemetry events/diagnostics are made after the
// lock is released (collected as emissions during the critical section) so a
// callback that re-enters the core cannot deadlock against itself. The
// WaitBeforeClientLeave span is the exception: Telemetry.StartSpan and
// Span.End are called while mu is held.
type Core struct {
	owner     Owner
	telemetry Telemetry
	clk       clock.Clock

	mu sync.Mutex

	state           ConnectionState
	mode            ConnectionMode
	clientID        ClientID
	pendingClientID ClientID

	quorum             QuorumClients
	quorumAddCancel    func()
	quorumRemoveCancel func()

	joinTimer      clock.Timer
	joinTimerArmed bool

	leaveTimer      clock.Timer
	leaveTimerArmed bool

	waitSpan Span

	listeners  []listenerEntry
	listenerID int
}

// New constructs a Core in Disconnected. initialClientID is non-empty only
// when resuming with a prior session's identifier; InitProtocol uses it to
// decide whether a Leave for that identifier is still owed.
func New(owner Owner, telemetry Telemetry, clk clock.Clock, initialClientID ClientID) *Core {
	if clk == nil {
		clk = clock.Real
	}
	return &Core{
		owner:     owner,
		telemetry: telemetry,
		clk:       clk,
		state:     Disconnected,
		clientID:  initialClientID,
	}
}

// OnTransition registers l to be called with every future state change.
// The returned cancel function unregisters it; calling cancel twice is a
// no-op.
func (c *Core) OnTransition(l Listener) (cancel func()) {
	c.mu.Lock()
	id := c.listenerID
	c.listenerID++
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: l})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// ConnectionState returns the current state.
func (c *Core) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingClientID returns the identifier of the just-established transport,
// set on OnConnect. Absent (the zero ClientID) only while Disconnected: it is
// not cleared on promotion, so in Connected it equals ClientID().
func (c *Core) PendingClientID() ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingClientID
}

// ClientID returns the identifier currently live for the outgoing op stream.
func (c *Core) ClientID() ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// InitProtocol registers add/remove member listeners on quorum. If an
// initial client id was supplied to New and it is currently a quorum member,
// the leave-wait timer is armed immediately — the prior session's Leave may
// still be outstanding.
func (c *Core) InitProtocol(quorum QuorumClients) {
	if quorum == nil {
		panic("connstate: InitProtocol requires a non-nil quorum")
	}

	c.mu.Lock()
	if c.quorum != nil {
		c.mu.Unlock()
		panic("connstate: InitProtocol called more than once")
	}
	c.quorum = quorum
	c.quorumAddCancel = quorum.OnAddMember(c.OnMemberAdded)
	c.quorumRemoveCancel = quorum.OnRemoveMember(c.OnMemberRemoved)

	if c.clientID.Present() {
		if _, ok := quorum.GetMember(c.clientID); ok {
			c.armLeaveTimerLocked()
		}
	}
	c.mu.Unlock()
}

// Dispose cancels outstanding timers and unregisters quorum listeners. The
// join-wait timer must already be disarmed — a still-armed join timer at
// dispose time is a programmer error (the caller tore down the core without
// resolving or disconnecting the pending connection).
func (c *Core) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.joinTimerArmed {
		panic("connstate: Dispose called with join_op_timer still armed")
	}
	if c.leaveTimer != nil {
		c.leaveTimer.Stop()
	}
	c.leaveTimer = nil
	c.leaveTimerArmed = false

	if c.quorumAddCancel != nil {
		c.quorumAddCancel()
	}
	if c.quorumRemoveCancel != nil {
		c.quorumRemoveCancel()
	}
}

// OnConnect is called by the transport layer once a socket is open and
// details.ClientID has been assigned. Precondition: current state is
// Disconnected — any other state is a contract violation.
func (c *Core) OnConnect(mode ConnectionMode, details ConnectDetails) {
	var emissions []func()

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		panic(fmt.Sprintf("connstate: OnConnect called in state %s, must be Disconnected", c.state))
	}

	c.pendingClientID = details.ClientID
	c.mode = mode

	if c.ownerShouldClientJoinWriteLocked() && mode != ModeWrite {
		c.mu.Unlock()
		panic("connstate: should_client_join_write is true but connection is not Write")
	}
	if c.leaveTimerArmed && mode != ModeWrite {
		c.mu.Unlock()
		panic("connstate: leave-wait timer armed but connection is not Write")
	}

	c.transitionLocked(&emissions, CatchingUp, "")

	waitingForJoin := false
	if mode == ModeWrite {
		q, ok := c.quorumLocked()
		if !ok {
			waitingForJoin = true
		} else if _, inQuorum := q.GetMember(c.pendingClientID); !inQuorum {
			waitingForJoin = true
		}
	}

	switch {
	case waitingForJoin:
		c.armJoinTimerLocked()
	case c.leaveTimerArmed:
		// The Leave or its timeout will drive promotion.
	default:
		c.setConnectedLocked(&emissions, "")
	}

	c.mu.Unlock()
	runEmissions(emissions)
}

// OnDisconnect is called when the transport reports loss of connection.
// Accepted in any state; a redundant call while already Disconnected is
// tolerated (logged, no state mutation) rather than treated as a contract
// violation — transports can report the same drop twice in a race.
func (c *Core) OnDisconnect(reason string) {
	var emissions []func()

	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		c.telemetry.LogConnectionIssue(EventSetConnectionStateSame, map[string]any{
			"reason": reason,
		})
		return
	}

	var prevClient Member
	if q, ok := c.quorumLocked(); ok && c.clientID.Present() {
		if m, found := q.GetMember(c.clientID); found {
			prevClient = m
		}
	}

	c.pendingClientID = ""
	if c.joinTimerArmed {
		c.cancelJoinTimerLocked()
	}

	shouldJoinWrite := c.ownerShouldClientJoinWriteLocked()
	if !c.leaveTimerArmed {
		if prevClient != nil && shouldJoinWrite {
			c.armLeaveTimerLocked()
		} else {
			details := map[string]any{
				"inQuorum":          prevClient != nil,
				"waitingForLeaveOp": false,
				"hadOutstandingOps": shouldJoinWrite,
			}
			emissions = append(emissions, func() {
				c.telemetry.LogConnectionIssue(EventNoWaitOnDisconnected, details)
			})
		}
	}
	// If the timer was already armed, it survives Disconnect untouched: it
	// protects the NEXT connection attempt from promoting before the prior
	// Leave arrives.

	c.transitionLocked(&emissions, Disconnected, reason)

	c.mu.Unlock()
	runEmissions(emissions)
}

// ContainerSaved is called when the owning container reports no outstanding
// ops. If a leave-wait is in progress, there is nothing the old Leave could
// still reorder, so it shortcuts straight to the promotion gate.
func (c *Core) ContainerSaved() {
	var emissions []func()

	c.mu.Lock()
	if c.leaveTimerArmed {
		c.cancelLeaveTimerLocked()
		c.applyForConnectedLocked(&emissions, "containerSaved")
	}
	c.mu.Unlock()
	runEmissions(emissions)
}

// OnMemberAdded is the quorum's Join notification.
func (c *Core) OnMemberAdded(id ClientID) {
	var emissions []func()

	c.mu.Lock()
	if !id.Present() || id != c.pendingClientID {
		c.mu.Unlock()
		return
	}

	if c.joinTimerArmed {
		c.cancelJoinTimerLocked()
	} else {
		details := map[string]any{"pendingClientId": string(id)}
		emissions = append(emissions, func() {
			c.telemetry.LogConnectionIssue(EventReceivedJoinOp, details)
		})
	}

	if c.leaveTimerArmed && c.waitSpan == nil {
		c.waitSpan = c.telemetry.StartSpan(SpanWaitBeforeClientLeave)
	}

	c.applyForConnectedLocked(&emissions, "addMemberEvent")
	c.mu.Unlock()
	runEmissions(emissions)
}

// OnMemberRemoved is the quorum's Leave notification.
func (c *Core) OnMemberRemoved(id ClientID) {
	var emissions []func()

	c.mu.Lock()
	if !c.clientID.Present() || id != c.clientID {
		c.mu.Unlock()
		return
	}

	if c.leaveTimerArmed {
		c.cancelLeaveTimerLocked()
	}
	c.applyForConnectedLocked(&emissions, "removeMemberEvent")
	c.mu.Unlock()
	runEmissions(emissions)
}

// applyForConnectedLocked is the promotion gate. Caller holds mu.
func (c *Core) applyForConnectedLocked(emissions *[]func(), source string) {
	q, hasQuorum := c.quorumLocked()
	if !hasQuorum {
		panic("connstate: apply_for_connected requires a registered quorum")
	}

	if c.leaveTimerArmed {
		if !c.clientID.Present() {
			panic("connstate: leave-wait active but client_id is absent")
		}
		if _, inQ := q.GetMember(c.clientID); !inQ {
			panic("connstate: leave-wait active but client_id is not a quorum member")
		}
	}

	inQuorum := false
	if c.pendingClientID.Present() {
		_, inQuorum = q.GetMember(c.pendingClientID)
	}

	promote := c.pendingClientID.Present() &&
		c.pendingClientID != c.clientID &&
		inQuorum &&
		!c.leaveTimerArmed

	if promote {
		if c.waitSpan != nil {
			span := c.waitSpan
			c.waitSpan = nil
			span.End(map[string]any{"source": source})
		}
		reason := ""
		if source == "timeout" || source == "containerSaved" {
			reason = source
		}
		c.setConnectedLocked(emissions, reason)
		return
	}

	category := CategoryGeneric
	if source == "timeout" {
		category = CategoryError
	}
	details := map[string]any{
		"source":            source,
		"pendingClientId":   string(c.pendingClientID),
		"clientId":          string(c.clientID),
		"waitingForLeaveOp": c.leaveTimerArmed,
		"inQuorum":          inQuorum,
	}
	*emissions = append(*emissions, func() {
		c.telemetry.SendTelemetryEvent(TelemetryEvent{
			Name:     EventConnectedStateRejected,
			Category: category,
			Details:  details,
		})
	})
}

// setConnectedLocked performs the CatchingUp -> Connected transition.
// pendingClientID is deliberately left untouched here: it is cleared only on
// Disconnect, which briefly lets clientID == pendingClientID hold right
// after promotion.
func (c *Core) setConnectedLocked(emissions *[]func(), reason string) {
	if c.state != CatchingUp {
		panic(fmt.Sprintf("connstate: setConnected called in state %s, must be CatchingUp", c.state))
	}

	if q, ok := c.quorumLocked(); ok && c.clientID.Present() {
		if m, found := q.GetMember(c.clientID); found {
			m.MarkShouldHaveLeft()
		}
	}

	c.clientID = c.pendingClientID
	c.transitionLocked(emissions, Connected, reason)
}

// transitionLocked validates and performs new state = to, and records the
// listener fan-out as a deferred emission. Caller holds mu.
func (c *Core) transitionLocked(emissions *[]func(), to ConnectionState, reason string) {
	validateTransition(c.state, to)
	old := c.state
	c.state = to

	snapshot := append([]listenerEntry(nil), c.listeners...)
	*emissions = append(*emissions, func() {
		for _, e := range snapshot {
			e.fn(to, old, reason)
		}
	})
}

func (c *Core) armJoinTimerLocked() {
	if c.joinTimerArmed {
		panic("connstate: join_op_timer already armed")
	}
	c.joinTimerArmed = true
	pendingAtArm := c.pendingClientID
	c.joinTimer = c.clk.AfterFunc(JoinOpTimeout, func() {
		c.handleJoinTimeout(pendingAtArm)
	})
}

func (c *Core) cancelJoinTimerLocked() {
	if c.joinTimer != nil {
		c.joinTimer.Stop()
	}
	c.joinTimer = nil
	c.joinTimerArmed = false
}

// handleJoinTimeout fires 45s after CatchingUp without observing pendingAtArm's
// Join. Cancellation is best-effort — Stop can race a callback that already
// started — so this re-validates state before acting instead of trusting
// that armed still means relevant.
func (c *Core) handleJoinTimeout(pendingAtArm ClientID) {
	var emissions []func()

	c.mu.Lock()
	if c.state != CatchingUp || !c.joinTimerArmed || c.pendingClientID != pendingAtArm {
		c.mu.Unlock()
		return
	}
	c.joinTimerArmed = false
	c.joinTimer = nil

	q, hasQuorum := c.quorumLocked()
	inQuorum := false
	if hasQuorum {
		_, inQuorum = q.GetMember(c.pendingClientID)
	}
	details := map[string]any{
		"quorumInitialized": hasQuorum,
		"pendingClientId":   string(c.pendingClientID),
		"inQuorum":          inQuorum,
		"waitingForLeaveOp": c.leaveTimerArmed,
	}
	emissions = append(emissions, func() {
		c.telemetry.LogConnectionIssue(EventNoJoinOp, details)
	})
	c.mu.Unlock()
	runEmissions(emissions)
}

func (c *Core) armLeaveTimerLocked() {
	if c.leaveTimerArmed {
		panic("connstate: prev_client_left_timer already armed")
	}
	c.leaveTimerArmed = true
	wait := DefaultLeaveWait
	if d, ok := c.owner.MaxClientLeaveWait(); ok && d > 0 {
		wait = d
	}
	c.leaveTimer = c.clk.AfterFunc(wait, c.handleLeaveTimeout)
}

func (c *Core) cancelLeaveTimerLocked() {
	if c.leaveTimer != nil {
		c.leaveTimer.Stop()
	}
	c.leaveTimer = nil
	c.leaveTimerArmed = false
}

// handleLeaveTimeout fires after the configured leave-wait while waiting for
// the prior client's Leave. Unlike the join timer, firing DOES advance the
// machine: it invokes applyForConnectedLocked("timeout"). The defensive
// re-check here is state != Connected, not state == CatchingUp — the
// leave-wait timer can legitimately still be armed while Disconnected (it
// survives Disconnect to protect the next connect attempt).
func (c *Core) handleLeaveTimeout() {
	var emissions []func()

	c.mu.Lock()
	if c.state == Connected || !c.leaveTimerArmed {
		c.mu.Unlock()
		return
	}
	c.leaveTimerArmed = false
	c.leaveTimer = nil

	c.applyForConnectedLocked(&emissions, "timeout")
	c.mu.Unlock()
	runEmissions(emissions)
}

// quorumLocked returns the quorum registered via InitProtocol if any,
// otherwise falls back to the owner's accessor, which may not have one yet
// this early in a connection's life.
func (c *Core) quorumLocked() (QuorumClients, bool) {
	if c.quorum != nil {
		return c.quorum, true
	}
	return c.owner.QuorumClients()
}

func (c *Core) ownerShouldClientJoinWriteLocked() bool {
	return c.owner.ShouldClientJoinWrite()
}

func runEmissions(emissions []func()) {
	for _, e := range emissions {
		if e != nil {
			e()
		}
	}
}
