package workflow

import (
	"fmt"

	"github.com/garyjia/access-approval/internal/domain/entity"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
)

// CheckAuthorization decides whether actor may act on role of req. It
// compares against the assignee frozen on the request, never against
// directory membership or any identity claimed by a link.
func CheckAuthorization(req *entity.Request, role entity.Role, actor string) error {
	if !req.Kind.Applies(role) {
		return fmt.Errorf("%w: role %s does not apply to %s", domainwf.ErrInvalidRequest, role, req.Kind)
	}

	expected := req.Assignee(role)
	if !entity.SameIdentity(expected, actor) {
		return &domainwf.AuthorizationError{
			Reason:    domainwf.ErrNotAssignee,
			RequestID: req.ID,
			Role:      role.String(),
			Expected:  expected,
			Actor:     actor,
		}
	}

	if req.Kind.ForbidsSelfApproval() && entity.SameIdentity(req.Requester, actor) {
		return &domainwf.AuthorizationError{
			Reason:    domainwf.ErrSelfApprovalForbidden,
			RequestID: req.ID,
			Role:      role.String(),
			Expected:  expected,
			Actor:     actor,
		}
	}
	return nil
}
