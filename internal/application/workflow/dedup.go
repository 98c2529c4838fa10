package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
)

// DedupGuard detects requesters who already hold an unresolved request
type DedupGuard struct {
	store port.RequestStore
}

// NewDedupGuard creates a dedup guard reading from store
func NewDedupGuard(store port.RequestStore) *DedupGuard {
	return &DedupGuard{store: store}
}

// HasOpenRequest reports whether requester has a request of kind whose
// overall status is still Pending. A read failure is returned as an error;
// callers must not treat it as "no open request".
func (g *DedupGuard) HasOpenRequest(ctx context.Context, requester string, kind entity.Kind) (bool, error) {
	reqs, err := g.store.ListKind(ctx, kind)
	if err != nil {
		return false, fmt.Errorf("check open requests: %w", err)
	}
	for _, r := range reqs {
		if entity.SameIdentity(r.Requester, requester) && r.OverallStatus() == domainwf.StatePending {
			return true, nil
		}
	}
	return false, nil
}

// NoOpenRequest is a store precondition failing with ErrOpenRequestExists
// while requester has an open request of kind. Passed to Append, the check
// and the write happen under the store's write lock.
func (g *DedupGuard) NoOpenRequest(requester string, kind entity.Kind) port.Precondition {
	return func(ctx context.Context) error {
		open, err := g.HasOpenRequest(ctx, requester, kind)
		if err != nil {
			return err
		}
		if open {
			return fmt.Errorf("%w: %s", domainwf.ErrOpenRequestExists, requester)
		}
		return nil
	}
}
