package port

import (
	"context"

	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
)

// RowHandle locates a request row within its table. Request is the row as
// it was read when the handle was produced.
type RowHandle struct {
	Table   string
	Row     int
	Request *entity.Request
}

// SourceResult is the outcome of reading one request table. A failed source
// carries Err and no requests; siblings are unaffected.
type SourceResult struct {
	Source   string
	Requests []*entity.Request
	Err      error
}

// Precondition is checked by the store under its write lock, immediately
// before a new row is appended. A non-nil error aborts the append.
type Precondition func(ctx context.Context) error

// RequestStore persists requests as rows of the tabular store
type RequestStore interface {
	// Append writes a new request row with Pending cells for every role.
	// Fails with workflow.ErrDuplicateIdentity if the id exists in any request table.
	// Preconditions run after the id check, under the same lock as the write.
	Append(ctx context.Context, req *entity.Request, preconditions ...Precondition) error

	// FindRowByRequestID returns the first row whose id matches.
	// Fails with workflow.ErrNotFound when no row matches.
	FindRowByRequestID(ctx context.Context, id string) (*RowHandle, error)

	// UpdateStatusCell writes a single status cell for the role.
	// Fails with workflow.ErrAlreadyResolved if the stored cell is already
	// terminal.
	UpdateStatusCell(ctx context.Context, handle RowHandle, role entity.Role, status workflow.State) error

	// ListAll reads every request table independently.
	ListAll(ctx context.Context) []SourceResult

	// ListKind reads the single table holding requests of the kind.
	ListKind(ctx context.Context, kind entity.Kind) ([]*entity.Request, error)
}

// HistoryRepository defines persistence operations for the transition log
type HistoryRepository interface {
	Create(ctx context.Context, record *entity.TransitionRecord) error
	GetByRequestID(ctx context.Context, requestID string) ([]*entity.TransitionRecord, error)
}
