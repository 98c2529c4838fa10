package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")
)

var (
	// ErrSchemaMismatch means a required column is absent from a table header.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrNotFound means no record exists for the given request id.
	ErrNotFound = errors.New("request not found")

	// ErrDuplicateIdentity means a request id already exists in the store.
	ErrDuplicateIdentity = errors.New("duplicate request identity")

	// ErrNotAssignee means the actor is not the frozen assignee for the role.
	ErrNotAssignee = errors.New("actor is not the assignee for this role")

	// ErrSelfApprovalForbidden means the requester tried to decide their own request.
	ErrSelfApprovalForbidden = errors.New("requester cannot approve own request")

	// ErrAlreadyResolved means the role already carries a terminal status.
	ErrAlreadyResolved = errors.New("role already resolved")

	// ErrStoreUnavailable means the backing tabular store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidRequest means caller input failed validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrOpenRequestExists means the requester already holds an unresolved request of that kind.
	ErrOpenRequestExists = errors.New("requester already has an open request")
)

// AuthorizationError reports who was expected to act on a role.
type AuthorizationError struct {
	Reason    error
	RequestID string
	Role      string
	Expected  string
	Actor     string
}

func (e *AuthorizationError) Error() string {
	if errors.Is(e.Reason, ErrSelfApprovalForbidden) {
		return fmt.Sprintf("%s: %s requested %s and cannot decide the %s role", e.Reason, e.Actor, e.RequestID, e.Role)
	}
	return fmt.Sprintf("%s: request %s role %s must be decided by %s, not %s", e.Reason, e.RequestID, e.Role, e.Expected, e.Actor)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Reason
}
