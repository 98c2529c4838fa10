package workflow

import (
	"fmt"
	"strings"
)

// Trigger represents an approver action on a role
type Trigger string

const (
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// ParseAction maps a deep-link action ("approve" / "reject") to a trigger.
func ParseAction(action string) (Trigger, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "approve":
		return TriggerApprove, nil
	case "reject":
		return TriggerReject, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, action)
	}
}

// TriggerFor returns the trigger that moves a pending role into the given
// terminal state.
func TriggerFor(target State) (Trigger, error) {
	switch target {
	case StateApproved:
		return TriggerApprove, nil
	case StateRejected:
		return TriggerReject, nil
	default:
		return "", fmt.Errorf("%w: %s is not a decision", ErrInvalidTransition, target)
	}
}

// Target is the state a pending role moves to when the trigger fires.
func (t Trigger) Target() State {
	switch t {
	case TriggerApprove:
		return StateApproved
	case TriggerReject:
		return StateRejected
	default:
		return ""
	}
}
