package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/garyjia/access-approval/internal/application/dispatcher"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/event"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
)

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	store      port.RequestStore
	ids        IDGenerator
	dedup      *DedupGuard
	history    port.HistoryRepository
	dispatcher dispatcher.Dispatcher
	logger     Logger
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithHistory records creations and decisions in repo
func WithHistory(repo port.HistoryRepository) EngineOption {
	return func(e *engineImpl) {
		e.history = repo
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(store port.RequestStore, ids IDGenerator, opts ...EngineOption) WorkflowEngine {
	e := &engineImpl{
		store:  store,
		ids:    ids,
		dedup:  NewDedupGuard(store),
		logger: nopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *engineImpl) Create(ctx context.Context, in CreateInput) (*entity.Request, error) {
	if strings.TrimSpace(in.Requester) == "" {
		return nil, fmt.Errorf("%w: requester is empty", domainwf.ErrInvalidRequest)
	}

	req := entity.NewRequest(e.ids.Next(), in.Kind, in.Requester, in.Entity, in.BusinessUnit,
		in.Payload, in.Assignees, e.now())
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var preconditions []port.Precondition
	if in.Kind == entity.KindUserCreation {
		preconditions = append(preconditions, e.dedup.NoOpenRequest(req.Requester, in.Kind))
	}

	if err := e.store.Append(ctx, req, preconditions...); err != nil {
		e.logger.Error("Failed to append request", "request_id", req.ID, "kind", req.Kind, "error", err)
		return nil, err
	}

	e.logger.Info("Request created",
		"request_id", req.ID,
		"kind", req.Kind,
		"requester", req.Requester)

	e.record(ctx, &entity.TransitionRecord{
		RequestID: req.ID,
		Actor:     req.Requester,
		NewStatus: domainwf.StatePending.String(),
		Action:    entity.ActionCreate,
		Timestamp: req.SubmittedAt,
	})

	e.emit(ctx, event.NewEvent(event.TypeRequestCreated, req.ID, map[string]interface{}{
		event.KeyKind:      req.Kind.String(),
		event.KeyRequester: req.Requester,
	}).WithSubject(req.Clone()))

	return req, nil
}

func (e *engineImpl) Get(ctx context.Context, id string) (*entity.Request, error) {
	handle, err := e.store.FindRowByRequestID(ctx, id)
	if err != nil {
		return nil, err
	}
	return handle.Request, nil
}

func (e *engineImpl) ListAssignedTo(ctx context.Context, identity string) ([]Assignment, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: identity is empty", domainwf.ErrInvalidRequest)
	}

	var (
		items []Assignment
		errs  error
	)
	for _, src := range e.store.ListAll(ctx) {
		if src.Err != nil {
			errs = multierr.Append(errs, &SourceError{Source: src.Source, Err: src.Err})
			continue
		}
		for _, req := range src.Requests {
			if roles := req.PendingRolesFor(identity); len(roles) > 0 {
				items = append(items, Assignment{Request: req, Roles: roles})
			}
		}
	}

	slices.SortStableFunc(items, func(a, b Assignment) int {
		return strings.Compare(b.Request.ID, a.Request.ID)
	})
	return items, errs
}

func (e *engineImpl) ListByRequester(ctx context.Context, identity string) ([]*entity.Request, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: identity is empty", domainwf.ErrInvalidRequest)
	}

	var (
		reqs []*entity.Request
		errs error
	)
	for _, src := range e.store.ListAll(ctx) {
		if src.Err != nil {
			errs = multierr.Append(errs, &SourceError{Source: src.Source, Err: src.Err})
			continue
		}
		for _, req := range src.Requests {
			if entity.SameIdentity(req.Requester, identity) {
				reqs = append(reqs, req)
			}
		}
	}

	slices.SortStableFunc(reqs, func(a, b *entity.Request) int {
		return strings.Compare(b.ID, a.ID)
	})
	return reqs, errs
}

func (e *engineImpl) Transition(ctx context.Context, in TransitionInput) (*entity.Request, error) {
	trigger, err := domainwf.TriggerFor(in.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: target must be Approved or Rejected", domainwf.ErrInvalidRequest)
	}

	handle, err := e.store.FindRowByRequestID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	req := handle.Request

	if err := CheckAuthorization(req, in.Role, in.Actor); err != nil {
		e.logger.Info("Transition refused",
			"request_id", req.ID,
			"role", in.Role,
			"actor", in.Actor,
			"reason", err)
		return nil, err
	}

	approval, ok := req.Approval(in.Role)
	if !ok {
		return nil, fmt.Errorf("%w: request %s has no %s slot", domainwf.ErrInvalidRequest, req.ID, in.Role)
	}
	previous := approval.Status
	machine := domainwf.BuildRoleStateMachine(previous)
	if !machine.CanFire(trigger) {
		return nil, fmt.Errorf("%w: %s role on %s is already %s", domainwf.ErrAlreadyResolved, in.Role.Label(), req.ID, previous)
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, err
	}
	next := machine.State()

	if err := e.store.UpdateStatusCell(ctx, *handle, in.Role, next); err != nil {
		e.logger.Error("Failed to write status",
			"request_id", req.ID,
			"role", in.Role,
			"status", next,
			"error", err)
		return nil, err
	}

	updated := req.Clone()
	slot, _ := updated.Approval(in.Role)
	slot.Status = next

	e.logger.Info("Role decided",
		"request_id", req.ID,
		"role", in.Role,
		"actor", in.Actor,
		"status", next,
		"overall_status", updated.OverallStatus())

	e.record(ctx, &entity.TransitionRecord{
		RequestID:      req.ID,
		Role:           in.Role,
		Actor:          in.Actor,
		PreviousStatus: previous.String(),
		NewStatus:      next.String(),
		Action:         actionFor(next),
		Note:           in.Note,
		Timestamp:      e.now(),
	})

	e.emit(ctx, event.NewEvent(event.TypeRoleDecided, req.ID, map[string]interface{}{
		event.KeyKind:    updated.Kind.String(),
		event.KeyRole:    in.Role.String(),
		event.KeyActor:   in.Actor,
		event.KeyStatus:  next.String(),
		event.KeyOverall: updated.OverallStatus().String(),
	}).WithSubject(updated.Clone()))

	return updated, nil
}

func (e *engineImpl) OverallStatus(req *entity.Request) domainwf.State {
	return req.OverallStatus()
}

func (e *engineImpl) History(ctx context.Context, id string) ([]*entity.TransitionRecord, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.GetByRequestID(ctx, id)
}

// record appends to the history log. The tabular store stays the source of
// truth, so a failure here is logged and otherwise ignored.
func (e *engineImpl) record(ctx context.Context, rec *entity.TransitionRecord) {
	if e.history == nil {
		return
	}
	if err := e.history.Create(ctx, rec); err != nil {
		e.logger.Error("Failed to record history",
			"request_id", rec.RequestID,
			"action", rec.Action,
			"error", err)
	}
}

func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher != nil {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

func actionFor(s domainwf.State) string {
	if s == domainwf.StateRejected {
		return entity.ActionReject
	}
	return entity.ActionApprove
}

// IsSourceError reports whether err (or any error combined into it) is a
// per-source read failure rather than a failure of the whole query.
func IsSourceError(err error) bool {
	for _, e := range multierr.Errors(err) {
		var se *SourceError
		if !errors.As(e, &se) {
			return false
		}
	}
	return err != nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
