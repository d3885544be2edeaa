package filter

import "fmt"

// State is the device state as reported by the driver.
type State uint8

const (
	StateUnconfigured State = iota
	StateInvalidParameters
	StateReady
	StateRunning
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "Unconfigured"
	case StateInvalidParameters:
		return "InvalidParameters"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	return s <= StateRunning
}

// Op is a driver operation gated by the device state.
type Op uint8

const (
	OpConfigure Op = iota
	OpStart
	OpStop
	OpRead
)

func (op Op) String() string {
	switch op {
	case OpConfigure:
		return "configure"
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	case OpRead:
		return "read"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// legalOps is indexed [state][op].
//
//	state              configure start stop  read
//	Unconfigured       yes       no    no    no
//	InvalidParameters  yes       no    no    no
//	Ready              yes       yes   no    no
//	Running            no        no    yes   yes
var legalOps = [4][4]bool{
	StateUnconfigured:      {OpConfigure: true},
	StateInvalidParameters: {OpConfigure: true},
	StateReady:             {OpConfigure: true, OpStart: true},
	StateRunning:           {OpStop: true, OpRead: true},
}

// Legal reports whether op may be issued while the device is in state s.
// Unknown states and operations are never legal.
func Legal(op Op, s State) bool {
	if !s.Valid() || op > OpRead {
		return false
	}
	return legalOps[s][op]
}

// checkLegal returns an ErrWrongState-wrapped error when op is not legal in s.
func checkLegal(op Op, s State) error {
	if Legal(op, s) {
		return nil
	}
	return fmt.Errorf("%w: %s not allowed while %s", ErrWrongState, op, s)
}
