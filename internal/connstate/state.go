// Package connstate implements the client-side connection state machine
// that bookends a collaborative document client's session with a relay
// service: ConnectionStateCore coordinates the Join membership event, the
// Leave membership event, and an optional catch-up condition before
// promoting a new connection to Connected.
package connstate

import "fmt"

// ConnectionState is the finite set of states the core can be in.
// EstablishingConnection and CatchingUp are deliberately collapsed into one
// state: nothing downstream of this core cares which phase of catching up
// a connection is in, only whether it has finished.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	CatchingUp
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case CatchingUp:
		return "CatchingUp"
	case Connected:
		return "Connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ConnectionMode says whether a connection must be acknowledged by a Join
// event before it can be promoted (Write), or not (Read).
type ConnectionMode int

const (
	ModeRead ConnectionMode = iota
	ModeWrite
)

func (m ConnectionMode) String() string {
	if m == ModeWrite {
		return "Write"
	}
	return "Read"
}

// legalTransitions enumerates the DFA edges the core may traverse. Every
// state change it makes goes through validateTransition first; any other
// edge is a programmer error.
var legalTransitions = map[ConnectionState]map[ConnectionState]bool{
	Disconnected: {CatchingUp: true},
	CatchingUp:   {Connected: true, Disconnected: true},
	Connected:    {Disconnected: true},
}

// validateTransition panics if from->to is not one of the legal edges above.
// Invariant violations are programmer errors, not runtime conditions the
// core recovers from.
func validateTransition(from, to ConnectionState) {
	if legalTransitions[from][to] {
		return
	}
	panic(fmt.Sprintf("connstate: illegal transition %s -> %s", from, to))
}
