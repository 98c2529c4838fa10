package service

import (
	"context"

	"github.com/garyjia/access-approval/internal/application/workflow"
	"github.com/garyjia/access-approval/internal/domain/entity"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
)

// DecisionItem names one role of one request. Role accepts the same tokens
// as action links, in any case.
type DecisionItem struct {
	RequestID string      `json:"request_id"`
	Role      entity.Role `json:"role"`
}

// DecisionResult is the outcome of one item of a bulk decision
type DecisionResult struct {
	DecisionItem
	Request *entity.Request
	Err     error
}

// DecisionService applies the same decision to several roles
type DecisionService struct {
	engine workflow.WorkflowEngine
	logger Logger
}

// NewDecisionService creates a new DecisionService
func NewDecisionService(engine workflow.WorkflowEngine, logger Logger) *DecisionService {
	return &DecisionService{engine: engine, logger: logger}
}

// Decide runs one transition per item. Items are independent: a refusal or
// failure on one does not stop the others.
func (s *DecisionService) Decide(ctx context.Context, actor string, items []DecisionItem, target domainwf.State, note string) []DecisionResult {
	results := make([]DecisionResult, 0, len(items))
	failed := 0
	for _, item := range items {
		role, err := entity.ParseRole(string(item.Role))
		if err != nil {
			failed++
			results = append(results, DecisionResult{DecisionItem: item, Err: err})
			continue
		}
		item.Role = role

		req, err := s.engine.Transition(ctx, workflow.TransitionInput{
			RequestID: item.RequestID,
			Role:      item.Role,
			Actor:     actor,
			Target:    target,
			Note:      note,
		})
		if err != nil {
			failed++
		}
		results = append(results, DecisionResult{DecisionItem: item, Request: req, Err: err})
	}

	s.logger.Info("Bulk decision applied",
		"actor", actor,
		"status", target,
		"items", len(items),
		"failed", failed)
	return results
}

// DecideAllPending applies target to every role still waiting on actor
func (s *DecisionService) DecideAllPending(ctx context.Context, actor string, target domainwf.State, note string) ([]DecisionResult, error) {
	assigned, err := s.engine.ListAssignedTo(ctx, actor)
	if err != nil && !workflow.IsSourceError(err) {
		return nil, err
	}

	var items []DecisionItem
	for _, a := range assigned {
		for _, role := range a.Roles {
			items = append(items, DecisionItem{RequestID: a.Request.ID, Role: role})
		}
	}
	return s.Decide(ctx, actor, items, target, note), err
}
