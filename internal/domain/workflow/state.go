package workflow

import (
	"fmt"
	"strings"
)

// State is the decision status of a single approval role on a request.
type State string

const (
	StatePending  State = "Pending"
	StateApproved State = "Approved"
	StateRejected State = "Rejected"
)

var validStates = map[State]bool{
	StatePending:  true,
	StateApproved: true,
	StateRejected: true,
}

var terminalStates = map[State]bool{
	StateApproved: true,
	StateRejected: true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid role state
func (s State) IsValid() bool {
	return validStates[s]
}

// ParseState reads a status cell. A blank cell is Pending; any other value
// must name a state, ignoring case and surrounding space.
func ParseState(cell string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "", "pending":
		return StatePending, nil
	case "approved":
		return StateApproved, nil
	case "rejected":
		return StateRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, cell)
	}
}
