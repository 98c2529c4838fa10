package service

import (
	"context"
	"fmt"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/event"
)

// NotificationService turns new requests into assignee notices
type NotificationService struct {
	notifier port.Notifier
	links    *LinkBuilder
	logger   Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notifier port.Notifier, links *LinkBuilder, logger Logger) *NotificationService {
	return &NotificationService{
		notifier: notifier,
		links:    links,
		logger:   logger,
	}
}

// Notice builds the notice for req without sending it
func (s *NotificationService) Notice(req *entity.Request) port.ApprovalNotice {
	return port.ApprovalNotice{
		RequestID: req.ID,
		Kind:      req.Kind,
		Requester: req.Requester,
		Assignees: req.Assignees(),
		Links:     s.links.LinksFor(req),
		Request:   req,
	}
}

// HandleRequestCreated is a dispatcher handler for request.created
func (s *NotificationService) HandleRequestCreated(ctx context.Context, evt *event.Event) error {
	req, ok := evt.Subject.(*entity.Request)
	if !ok || req == nil {
		return fmt.Errorf("event %s for %s carries no request", evt.Type, evt.RequestID)
	}

	notice := s.Notice(req)
	if err := s.notifier.NotifyAssignees(ctx, notice); err != nil {
		s.logger.Error("Failed to notify assignees", "request_id", req.ID, "error", err)
		return fmt.Errorf("notify assignees: %w", err)
	}

	s.logger.Info("Assignees notified", "request_id", req.ID, "assignees", len(notice.Assignees))
	return nil
}
