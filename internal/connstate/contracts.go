package connstate

import "time"

// ClientID is an opaque identifier assigned by the relay service per
// connection. The zero value "" means absent.
type ClientID string

// Present reports whether id is a real, assigned identifier.
func (id ClientID) Present() bool { return id != "" }

// ConnectDetails carries the information a transport layer supplies when a
// socket has opened and a client id has been assigned.
type ConnectDetails struct {
	ClientID ClientID
}

// Member is a quorum's view of one client. The core mutates only the
// ShouldHaveLeft hint, and only at the moment it promotes to Connected —
// everything else about the quorum is read-only from the core's perspective.
type Member interface {
	ID() ClientID
	MarkShouldHaveLeft()
}

// QuorumClients is the membership set maintained by the relay from Join/Leave
// ops in the sequenced stream. The core treats it as read-only and borrowed:
// it never owns a QuorumClients, only holds a back-reference to one.
type QuorumClients interface {
	GetMember(id ClientID) (Member, bool)
	// OnAddMember registers a listener for Join events and returns a
	// function that unregisters it.
	OnAddMember(func(id ClientID)) (cancel func())
	// OnRemoveMember registers a listener for Leave events and returns a
	// function that unregisters it.
	OnRemoveMember(func(id ClientID)) (cancel func())
}

// DeltaStream is the op stream CatchUpMonitor watches; it is not consumed by
// ConnectionStateCore directly.
type DeltaStream interface {
	LastKnownSequenceNumber() uint64
	// OnOp registers a listener invoked with each op's sequence number as it
	// is locally processed, and returns a function that unregisters it.
	OnOp(func(seq uint64)) (cancel func())
}

// Owner is the set of callbacks the core's host container supplies.
type Owner interface {
	// ShouldClientJoinWrite reports whether there are local write ops
	// outstanding from a previous connection that require waiting for that
	// connection's Leave before promoting the new one.
	ShouldClientJoinWrite() bool
	// MaxClientLeaveWait returns the configured leave-wait timeout, or
	// ok=false to use DefaultLeaveWait.
	MaxClientLeaveWait() (d time.Duration, ok bool)
	// QuorumClients returns the current quorum, or ok=false if it has not
	// been registered yet (see InitProtocol).
	QuorumClients() (q QuorumClients, ok bool)
}

// Diagnostic event names. These are part of the telemetry contract — exact
// strings, never renamed or translated.
const (
	EventNoJoinOp               = "NoJoinOp"
	EventReceivedJoinOp         = "ReceivedJoinOp"
	SpanWaitBeforeClientLeave   = "WaitBeforeClientLeave"
	EventConnectedStateRejected = "connectedStateRejected"
	EventNoWaitOnDisconnected   = "noWaitOnDisconnected"
	EventSetConnectionStateSame = "setConnectionStateSame"
)

// TelemetryCategory distinguishes routine diagnostics from error-worthy ones.
type TelemetryCategory string

const (
	CategoryGeneric TelemetryCategory = "generic"
	CategoryError   TelemetryCategory = "error"
)

// TelemetryEvent is a one-shot telemetry emission, as opposed to a Span.
type TelemetryEvent struct {
	Name     string
	Category TelemetryCategory
	Details  map[string]any
}

// Span is an open-ended performance span, started by Telemetry.StartSpan and
// closed by End once the operation it brackets completes.
type Span interface {
	End(details map[string]any)
}

// Telemetry is the sink for every diagnostic and performance signal the core
// emits. Implementations must not block the caller for long — the core calls
// these synchronously. LogConnectionIssue and SendTelemetryEvent run with its
// internal lock released (see core.go); StartSpan and Span.End run while the
// core still holds that lock, so they must not call back into the core.
type Telemetry interface {
	LogConnectionIssue(event string, details map[string]any)
	SendTelemetryEvent(event TelemetryEvent)
	StartSpan(name string) Span
}

// Listener receives every state transition the core makes. reason is ""
// unless a specific cause (e.g. "timeout", "containerSaved", "caught up")
// applies — see core.go's applyForConnectedLocked for exactly when that
// happens on a Connected transition.
type Listener func(newState, oldState ConnectionState, reason string)

// Timer durations governing the join-wait and leave-wait timers.
const (
	JoinOpTimeout    = 45 * time.Second
	DefaultLeaveWait = 300 * time.Second
)
