package service

import (
	"net/url"
	"strings"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
)

// Deep-link actions and query parameters
const (
	ActionApprove = "approve"
	ActionReject  = "reject"

	ParamRequestID = "approve_id"
	ParamRole      = "type"
	ParamAction    = "action"
	ParamApprover  = "approver"
)

// LinkBuilder renders the approve and reject links sent to assignees
type LinkBuilder struct {
	base string
}

// NewLinkBuilder creates a builder for links rooted at base
func NewLinkBuilder(base string) *LinkBuilder {
	return &LinkBuilder{base: strings.TrimSpace(base)}
}

// Link renders one action link. Parameters keep a fixed order so links
// stay stable across releases.
func (b *LinkBuilder) Link(requestID string, role entity.Role, action, approver string) string {
	sep := "?"
	if strings.Contains(b.base, "?") {
		sep = "&"
	}

	var sb strings.Builder
	sb.WriteString(b.base)
	sb.WriteString(sep)
	sb.WriteString(ParamRequestID + "=" + url.QueryEscape(requestID))
	sb.WriteString("&" + ParamRole + "=" + url.QueryEscape(role.String()))
	sb.WriteString("&" + ParamAction + "=" + url.QueryEscape(action))
	sb.WriteString("&" + ParamApprover + "=" + url.QueryEscape(approver))
	return sb.String()
}

// LinksFor renders one link per trigger each role's state machine still
// permits, so a decided role gets no links.
func (b *LinkBuilder) LinksFor(req *entity.Request) []port.ActionLink {
	links := make([]port.ActionLink, 0, 2*len(req.Approvals))
	for _, a := range req.Approvals {
		for _, trigger := range domainwf.BuildRoleStateMachine(a.Status).PermittedTriggers() {
			action := actionFor(trigger)
			links = append(links, port.ActionLink{
				Role:     a.Role,
				Assignee: a.Assignee,
				Action:   action,
				URL:      b.Link(req.ID, a.Role, action, a.Assignee),
			})
		}
	}
	return links
}

func actionFor(trigger domainwf.Trigger) string {
	if trigger == domainwf.TriggerReject {
		return ActionReject
	}
	return ActionApprove
}
