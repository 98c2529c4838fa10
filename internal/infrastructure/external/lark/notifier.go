package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
)

// receive_id_type for addressing users by mailbox
const receiveIDEmail = "email"

// Notifier implements port.Notifier by sending each assignee one
// interactive card with approve and reject buttons for their roles.
type Notifier struct {
	sender MessageSender
	logger *zap.Logger
}

// NewNotifier creates a new Lark notifier
func NewNotifier(sender MessageSender, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

// NotifyAssignees implements port.Notifier. Every assignee is attempted;
// failures are combined.
func (n *Notifier) NotifyAssignees(ctx context.Context, notice port.ApprovalNotice) error {
	var errs error
	for _, group := range groupByAssignee(notice) {
		card, err := json.Marshal(buildCard(notice, group))
		if err != nil {
			return fmt.Errorf("failed to marshal card content: %w", err)
		}

		if _, err := n.sender.SendMessage(ctx, receiveIDEmail, group.assignee, "interactive", string(card)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", group.assignee, err))
			continue
		}
		n.logger.Info("Approval card sent",
			zap.String("request_id", notice.RequestID),
			zap.String("assignee", group.assignee),
			zap.Int("roles", len(group.roles)))
	}
	return errs
}

type assigneeGroup struct {
	assignee string
	roles    []entity.Role
}

// groupByAssignee folds roles held by the same person into one message,
// keeping the kind's role order.
func groupByAssignee(notice port.ApprovalNotice) []assigneeGroup {
	var groups []assigneeGroup
	index := map[string]int{}
	for _, role := range notice.Kind.Roles() {
		who := strings.TrimSpace(notice.Assignees[role])
		if who == "" {
			continue
		}
		key := strings.ToLower(who)
		if i, ok := index[key]; ok {
			groups[i].roles = append(groups[i].roles, role)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, assigneeGroup{assignee: who, roles: []entity.Role{role}})
	}
	return groups
}

func buildCard(notice port.ApprovalNotice, group assigneeGroup) map[string]interface{} {
	elements := []interface{}{
		map[string]interface{}{
			"tag": "div",
			"fields": []map[string]interface{}{
				shortField("Request", notice.RequestID),
				shortField("Requester", notice.Requester),
			},
		},
	}

	if detail := describe(notice.Request); detail != "" {
		elements = append(elements, map[string]interface{}{
			"tag": "div",
			"text": map[string]interface{}{
				"tag":     "lark_md",
				"content": detail,
			},
		})
	}
	elements = append(elements, map[string]interface{}{"tag": "hr"})

	for _, role := range group.roles {
		var buttons []map[string]interface{}
		for _, link := range notice.LinksFor(role) {
			buttons = append(buttons, map[string]interface{}{
				"tag": "button",
				"text": map[string]interface{}{
					"tag":     "plain_text",
					"content": buttonLabel(role, link.Action),
				},
				"type": buttonType(link.Action),
				"url":  link.URL,
			})
		}
		elements = append(elements, map[string]interface{}{
			"tag":     "action",
			"actions": buttons,
		})
	}

	return map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"header": map[string]interface{}{
			"template": "blue",
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": fmt.Sprintf("%s awaiting your approval", notice.Kind),
			},
		},
		"elements": elements,
	}
}

func shortField(label, value string) map[string]interface{} {
	return map[string]interface{}{
		"is_short": true,
		"text": map[string]interface{}{
			"tag":     "lark_md",
			"content": fmt.Sprintf("**%s**\n%s", label, value),
		},
	}
}

func describe(req *entity.Request) string {
	if req == nil {
		return ""
	}
	p := req.Payload
	var lines []string
	add := func(label, v string) {
		if strings.TrimSpace(v) != "" {
			lines = append(lines, fmt.Sprintf("**%s:** %s", label, v))
		}
	}
	add("Entity", req.Entity)
	add("Business unit", req.BusinessUnit)
	if req.Kind.IsAccess() {
		add("Object", strings.Trim(strings.Join([]string{p.Database, p.Schema, p.Table}, "."), "."))
		add("Columns", p.Columns)
		add("Grantee", p.Grantee)
		add("Validity", p.Validity)
		add("Reason", p.Reason)
	} else {
		add("Role", p.RequestedRole)
	}
	return strings.Join(lines, "\n")
}

func buttonLabel(role entity.Role, action string) string {
	verb := "Approve"
	if action == "reject" {
		verb = "Reject"
	}
	return fmt.Sprintf("%s (%s)", verb, role.Label())
}

func buttonType(action string) string {
	if action == "reject" {
		return "danger"
	}
	return "primary"
}

// Verify interface compliance
var _ port.Notifier = (*Notifier)(nil)
