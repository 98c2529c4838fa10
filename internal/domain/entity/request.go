package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/access-approval/internal/domain/workflow"
)

// Payload holds the kind-specific attributes captured at submission.
// Access kinds use the object fields; UserCreation uses ManagerEmail and
// RequestedRole.
type Payload struct {
	RequesterName string `json:"requester_name,omitempty"`
	DefaultRole   string `json:"default_role,omitempty"`
	ObjectSource  string `json:"object_source,omitempty"`
	Database      string `json:"database,omitempty"`
	Schema        string `json:"schema,omitempty"`
	Table         string `json:"table,omitempty"`
	Columns       string `json:"columns,omitempty"`
	SharedStatus  string `json:"shared_status,omitempty"`
	Grantee       string `json:"grantee,omitempty"`
	RequestingFor string `json:"requesting_for,omitempty"`
	Validity      string `json:"validity,omitempty"`
	Reason        string `json:"reason,omitempty"`

	ManagerEmail  string `json:"manager_email,omitempty"`
	RequestedRole string `json:"requested_role,omitempty"`
}

// Approval is one role's decision slot, with the assignee frozen at creation.
type Approval struct {
	Role     Role           `json:"role"`
	Assignee string         `json:"assignee"`
	Status   workflow.State `json:"status"`
}

// Request is a single access-grant or user-provisioning request.
type Request struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	Requester    string     `json:"requester"`
	Entity       string     `json:"entity"`
	BusinessUnit string     `json:"business_unit,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	Payload      Payload    `json:"payload"`
	Approvals    []Approval `json:"approvals"`
}

// NewRequest builds a request with one Pending approval per role of the kind.
func NewRequest(id string, kind Kind, requester, entityName, businessUnit string, payload Payload, assignees map[Role]string, now time.Time) *Request {
	req := &Request{
		ID:           id,
		Kind:         kind,
		Requester:    strings.TrimSpace(requester),
		Entity:       entityName,
		BusinessUnit: businessUnit,
		SubmittedAt:  now,
		Payload:      payload,
	}
	for _, role := range kind.Roles() {
		req.Approvals = append(req.Approvals, Approval{
			Role:     role,
			Assignee: strings.TrimSpace(assignees[role]),
			Status:   workflow.StatePending,
		})
	}
	return req
}

// Approval returns the decision slot for a role.
func (r *Request) Approval(role Role) (*Approval, bool) {
	for i := range r.Approvals {
		if r.Approvals[i].Role == role {
			return &r.Approvals[i], true
		}
	}
	return nil, false
}

// Assignee returns the frozen assignee for a role, "" when none.
func (r *Request) Assignee(role Role) string {
	if a, ok := r.Approval(role); ok {
		return a.Assignee
	}
	return ""
}

// Assignees returns the role→identity mapping.
func (r *Request) Assignees() map[Role]string {
	out := make(map[Role]string, len(r.Approvals))
	for _, a := range r.Approvals {
		out[a.Role] = a.Assignee
	}
	return out
}

// OverallStatus aggregates the applicable roles: any Rejected wins, all
// Approved is Approved, anything else is Pending. Roles that do not apply
// to the request kind are ignored.
func (r *Request) OverallStatus() workflow.State {
	counted, approved := 0, 0
	for _, a := range r.Approvals {
		if !r.Kind.Applies(a.Role) {
			continue
		}
		counted++
		switch a.Status {
		case workflow.StateRejected:
			return workflow.StateRejected
		case workflow.StateApproved:
			approved++
		}
	}
	if counted > 0 && approved == counted {
		return workflow.StateApproved
	}
	return workflow.StatePending
}

// PendingRolesFor returns the roles still Pending whose assignee is identity.
func (r *Request) PendingRolesFor(identity string) []Role {
	var roles []Role
	for _, a := range r.Approvals {
		if a.Status == workflow.StatePending && SameIdentity(a.Assignee, identity) {
			roles = append(roles, a.Role)
		}
	}
	return roles
}

// Validate checks that every applicable role has exactly one approval slot
// with a non-blank assignee.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: request id is empty", workflow.ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Requester) == "" {
		return fmt.Errorf("%w: requester is empty", workflow.ErrInvalidRequest)
	}

	roles := r.Kind.Roles()
	if len(roles) == 0 {
		return fmt.Errorf("%w: unknown kind %q", workflow.ErrInvalidRequest, r.Kind)
	}
	if len(r.Approvals) != len(roles) {
		return fmt.Errorf("%w: %s needs %d approvals, got %d", workflow.ErrInvalidRequest, r.Kind, len(roles), len(r.Approvals))
	}
	for _, role := range roles {
		a, ok := r.Approval(role)
		if !ok {
			return fmt.Errorf("%w: missing %s approval", workflow.ErrInvalidRequest, role.Label())
		}
		if strings.TrimSpace(a.Assignee) == "" {
			return fmt.Errorf("%w: no %s assignee", workflow.ErrInvalidRequest, role.Label())
		}
	}

	if r.Kind.IsAccess() && strings.TrimSpace(r.Payload.Database) == "" {
		return fmt.Errorf("%w: database is required", workflow.ErrInvalidRequest)
	}
	return nil
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	c := *r
	c.Approvals = append([]Approval(nil), r.Approvals...)
	return &c
}

// SameIdentity compares two identities (emails) case-insensitively.
func SameIdentity(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
