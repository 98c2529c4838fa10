package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/application/workflow"
	"github.com/garyjia/access-approval/internal/domain/entity"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
)

// SubmitInput is a request as entered by the requester. Assignees are not
// part of it; they come from the reference tables.
type SubmitInput struct {
	Kind         entity.Kind
	Requester    string
	Entity       string
	BusinessUnit string
	Payload      entity.Payload
}

// SubmissionService resolves assignees and creates requests
type SubmissionService struct {
	engine    workflow.WorkflowEngine
	directory port.AssigneeDirectory
	logger    Logger
}

// NewSubmissionService creates a new SubmissionService
func NewSubmissionService(engine workflow.WorkflowEngine, directory port.AssigneeDirectory, logger Logger) *SubmissionService {
	return &SubmissionService{
		engine:    engine,
		directory: directory,
		logger:    logger,
	}
}

// Submit resolves the assignees for in and creates the request
func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) (*entity.Request, error) {
	assignees, err := s.ResolveAssignees(ctx, in.Kind, in.Requester, in.Payload)
	if err != nil {
		s.logger.Error("Failed to resolve assignees", "requester", in.Requester, "kind", in.Kind, "error", err)
		return nil, err
	}

	payload := in.Payload
	if in.Kind == entity.KindUserCreation {
		payload.ManagerEmail = assignees[entity.RoleManager]
	}

	return s.engine.Create(ctx, workflow.CreateInput{
		Kind:         in.Kind,
		Requester:    in.Requester,
		Entity:       in.Entity,
		BusinessUnit: in.BusinessUnit,
		Payload:      payload,
		Assignees:    assignees,
	})
}

// ResolveAssignees looks up who decides each role of a new request
func (s *SubmissionService) ResolveAssignees(ctx context.Context, kind entity.Kind, requester string, payload entity.Payload) (map[entity.Role]string, error) {
	assignees := make(map[entity.Role]string, 2)
	for _, role := range kind.Roles() {
		var (
			who string
			err error
		)
		switch role {
		case entity.RoleRM:
			who, err = s.directory.RMApprover(ctx, requester)
		case entity.RoleData:
			if payload.Database == "" {
				return nil, fmt.Errorf("%w: database is required", domainwf.ErrInvalidRequest)
			}
			who, err = s.directory.DataApprover(ctx, payload.Database)
		case entity.RoleManager:
			who, err = s.directory.Manager(ctx, requester)
		}
		if errors.Is(err, domainwf.ErrNotFound) {
			return nil, fmt.Errorf("%w: no %s approver configured: %v", domainwf.ErrInvalidRequest, role.Label(), err)
		}
		if err != nil {
			return nil, err
		}
		assignees[role] = who
	}
	if len(assignees) == 0 {
		return nil, fmt.Errorf("%w: unknown kind %q", domainwf.ErrInvalidRequest, kind)
	}
	return assignees, nil
}

// RolesOf reports which approver roles identity holds anywhere in the
// reference tables. Holding a role does not grant access to any request.
func (s *SubmissionService) RolesOf(ctx context.Context, identity string) (port.ApproverRoles, error) {
	return s.directory.RolesOf(ctx, identity)
}
