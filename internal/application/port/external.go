package port

import (
	"context"

	"github.com/garyjia/access-approval/internal/domain/entity"
)

// ApproverRoles reports which reference tables list an identity as approver.
type ApproverRoles struct {
	RM      bool `json:"rm"`
	Data    bool `json:"data"`
	Manager bool `json:"manager"`
}

// Any reports whether the identity holds any approver role.
func (r ApproverRoles) Any() bool {
	return r.RM || r.Data || r.Manager
}

// AssigneeDirectory resolves assignees from the reference tables. Lookups
// fail with workflow.ErrNotFound when no mapping exists.
type AssigneeDirectory interface {
	RMApprover(ctx context.Context, requester string) (string, error)
	DataApprover(ctx context.Context, database string) (string, error)
	Manager(ctx context.Context, requester string) (string, error)
	RolesOf(ctx context.Context, identity string) (ApproverRoles, error)
}

// ActionLink is one approve or reject link for an assignee.
type ActionLink struct {
	Role     entity.Role `json:"role"`
	Assignee string      `json:"assignee"`
	Action   string      `json:"action"`
	URL      string      `json:"url"`
}

// ApprovalNotice carries everything a notifier needs to tell the assignees
// about a new request. Rendering and delivery are up to the notifier.
type ApprovalNotice struct {
	RequestID string
	Kind      entity.Kind
	Requester string
	Assignees map[entity.Role]string
	Links     []ActionLink
	Request   *entity.Request
}

// LinksFor returns the links addressed to one role.
func (n ApprovalNotice) LinksFor(role entity.Role) []ActionLink {
	var out []ActionLink
	for _, l := range n.Links {
		if l.Role == role {
			out = append(out, l)
		}
	}
	return out
}

// Notifier delivers one message per assignee
type Notifier interface {
	NotifyAssignees(ctx context.Context, notice ApprovalNotice) error
}
