// Package workflow runs the per-role approval lifecycle of access requests
// on top of a RequestStore.
package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/access-approval/internal/domain/entity"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
)

// WorkflowEngine creates requests and applies role decisions to them
type WorkflowEngine interface {
	// Create assigns an id and appends the request with every role Pending.
	// UserCreation requests are refused while the requester has another
	// one still Pending.
	Create(ctx context.Context, in CreateInput) (*entity.Request, error)

	// Get loads a request by id
	Get(ctx context.Context, id string) (*entity.Request, error)

	// ListAssignedTo returns requests where identity is the frozen assignee
	// of a still-Pending role, latest id first. Sources that could not be
	// read are reported in the returned error as *SourceError values while
	// the readable ones still contribute results.
	ListAssignedTo(ctx context.Context, identity string) ([]Assignment, error)

	// ListByRequester returns the requests submitted by identity, latest
	// first, with the same partial-failure reporting as ListAssignedTo.
	ListByRequester(ctx context.Context, identity string) ([]*entity.Request, error)

	// Transition records one role's decision and returns the updated view
	Transition(ctx context.Context, in TransitionInput) (*entity.Request, error)

	// OverallStatus derives the aggregate decision of a request
	OverallStatus(req *entity.Request) domainwf.State

	// History returns the transition log for a request, oldest first
	History(ctx context.Context, id string) ([]*entity.TransitionRecord, error)
}

// CreateInput is a new request with its assignees already resolved
type CreateInput struct {
	Kind         entity.Kind
	Requester    string
	Entity       string
	BusinessUnit string
	Payload      entity.Payload
	Assignees    map[entity.Role]string
}

// TransitionInput is one decision on one role
type TransitionInput struct {
	RequestID string
	Role      entity.Role
	Actor     string
	Target    domainwf.State
	Note      string
}

// Assignment is a request together with the roles the caller still has to
// decide on it.
type Assignment struct {
	Request *entity.Request `json:"request"`
	Roles   []entity.Role   `json:"roles"`
}

// SourceError reports a request table that could not be read
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// IDGenerator produces request identities
type IDGenerator interface {
	Next() string
}
