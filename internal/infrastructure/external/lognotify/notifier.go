// Package lognotify is a port.Notifier that writes the approval links to the
// log instead of delivering them. Used when no messaging backend is set up.
package lognotify

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/access-approval/internal/application/port"
)

// Notifier logs one entry per link
type Notifier struct {
	logger *zap.Logger
}

// New creates a log notifier
func New(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// NotifyAssignees implements port.Notifier
func (n *Notifier) NotifyAssignees(ctx context.Context, notice port.ApprovalNotice) error {
	for _, link := range notice.Links {
		n.logger.Info("Approval link",
			zap.String("request_id", notice.RequestID),
			zap.String("kind", notice.Kind.String()),
			zap.String("role", link.Role.String()),
			zap.String("assignee", link.Assignee),
			zap.String("action", link.Action),
			zap.String("url", link.URL))
	}
	return nil
}

var _ port.Notifier = (*Notifier)(nil)
