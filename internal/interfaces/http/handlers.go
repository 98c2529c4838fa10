package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/access-approval/internal/application/service"
	"github.com/garyjia/access-approval/internal/application/workflow"
	"github.com/garyjia/access-approval/internal/container"
	"github.com/garyjia/access-approval/internal/domain/entity"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/pkg/utils"
)

const (
	maxNoteLength = 500
	healthTimeout = 3 * time.Second
)

// HealthChecker reports whether the backing components are reachable
type HealthChecker interface {
	Health(ctx context.Context) *container.HealthStatus
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine      workflow.WorkflowEngine
	submissions *service.SubmissionService
	decisions   *service.DecisionService
	health      HealthChecker
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine workflow.WorkflowEngine,
	submissions *service.SubmissionService,
	decisions *service.DecisionService,
	logger Logger,
) *Handlers {
	return &Handlers{
		engine:      engine,
		submissions: submissions,
		decisions:   decisions,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string                               `json:"status"`
	Timestamp  string                               `json:"timestamp"`
	Version    string                               `json:"version"`
	Components map[string]container.ComponentHealth `json:"components,omitempty"`
}

// RequestView is a request plus its derived overall status
type RequestView struct {
	*entity.Request
	OverallStatus domainwf.State `json:"overall_status"`
}

// AssignmentView is one entry of the caller's pending approvals
type AssignmentView struct {
	Request RequestView   `json:"request"`
	Roles   []entity.Role `json:"roles"`
}

// ListResponse carries a listing and the sources left out of it
type ListResponse struct {
	Items         interface{}     `json:"items"`
	Count         int             `json:"count"`
	FailedSources []SourceFailure `json:"failed_sources,omitempty"`
}

// SubmitRequest is the body of POST /api/requests
type SubmitRequest struct {
	Kind         string         `json:"kind" binding:"required"`
	Entity       string         `json:"entity"`
	BusinessUnit string         `json:"business_unit"`
	Payload      entity.Payload `json:"payload"`
}

// DecideRequest is the body of POST /api/approvals/decide. Either Items is
// non-empty or All is set.
type DecideRequest struct {
	Items  []service.DecisionItem `json:"items"`
	All    bool                   `json:"all"`
	Action string                 `json:"action" binding:"required"`
	Note   string                 `json:"note"`
}

// DecisionView is the outcome of one bulk decision item
type DecisionView struct {
	RequestID string       `json:"request_id"`
	Role      entity.Role  `json:"role"`
	Success   bool         `json:"success"`
	Request   *RequestView `json:"request,omitempty"`
	Code      string       `json:"code,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// AuthorizationDetails explains a refused decision
type AuthorizationDetails struct {
	RequestID string      `json:"request_id"`
	Role      entity.Role `json:"role"`
	Expected  string      `json:"expected,omitempty"`
	Actor     string      `json:"actor"`
}

// HealthCheck handles GET /health. Without a checker only liveness is
// reported.
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	status := http.StatusOK

	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		report := h.health.Health(ctx)
		response.Components = report.Components
		if !report.Overall {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			h.logger.Error("Health check failed", "components", report.Components)
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// SubmitRequest handles POST /api/requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Code:    CodeInvalidRequest,
			Error:   "invalid request body",
		})
		return
	}

	kind, err := entity.ParseKind(body.Kind)
	if err != nil {
		h.fail(c, err)
		return
	}

	req, err := h.submissions.Submit(c.Request.Context(), service.SubmitInput{
		Kind:         kind,
		Requester:    caller(c),
		Entity:       body.Entity,
		BusinessUnit: body.BusinessUnit,
		Payload:      body.Payload,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    h.view(req),
	})
}

// ListMine handles GET /api/requests/mine
func (h *Handlers) ListMine(c *gin.Context) {
	reqs, err := h.engine.ListByRequester(c.Request.Context(), caller(c))
	if err != nil && !workflow.IsSourceError(err) {
		h.fail(c, err)
		return
	}

	views := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, h.view(r))
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: ListResponse{
			Items:         views,
			Count:         len(views),
			FailedSources: sourceFailures(err),
		},
	})
}

// GetRequest handles GET /api/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	req, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.view(req),
	})
}

// GetHistory handles GET /api/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	records, err := h.engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []*entity.TransitionRecord{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: ListResponse{
			Items: records,
			Count: len(records),
		},
	})
}

// ListPending handles GET /api/approvals/pending
func (h *Handlers) ListPending(c *gin.Context) {
	assigned, err := h.engine.ListAssignedTo(c.Request.Context(), caller(c))
	if err != nil && !workflow.IsSourceError(err) {
		h.fail(c, err)
		return
	}

	views := make([]AssignmentView, 0, len(assigned))
	for _, a := range assigned {
		views = append(views, AssignmentView{Request: h.view(a.Request), Roles: a.Roles})
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: ListResponse{
			Items:         views,
			Count:         len(views),
			FailedSources: sourceFailures(err),
		},
	})
}

// GetRoles handles GET /api/approvals/roles
func (h *Handlers) GetRoles(c *gin.Context) {
	roles, err := h.submissions.RolesOf(c.Request.Context(), caller(c))
	if err != nil {
		// Partial answers still list the tables that were readable.
		h.logger.Error("Failed to read some reference tables", "caller", caller(c), "error", err)
		if errors.Is(err, domainwf.ErrStoreUnavailable) && !roles.Any() {
			h.fail(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    roles,
	})
}

// Decide handles POST /api/approvals/decide
func (h *Handlers) Decide(c *gin.Context) {
	var body DecideRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Error("Invalid decision body", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Code:    CodeInvalidRequest,
			Error:   "invalid request body",
		})
		return
	}

	trigger, err := domainwf.ParseAction(body.Action)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !body.All && len(body.Items) == 0 {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Code:    CodeInvalidRequest,
			Error:   "items or all is required",
		})
		return
	}

	ctx := c.Request.Context()
	actor := caller(c)
	note := utils.SanitizeString(body.Note, maxNoteLength)

	var (
		results []service.DecisionResult
		listErr error
	)
	if body.All {
		results, listErr = h.decisions.DecideAllPending(ctx, actor, trigger.Target(), note)
		if listErr != nil && !workflow.IsSourceError(listErr) {
			h.fail(c, listErr)
			return
		}
	} else {
		results = h.decisions.Decide(ctx, actor, body.Items, trigger.Target(), note)
	}

	views := make([]DecisionView, 0, len(results))
	for _, r := range results {
		v := DecisionView{RequestID: r.RequestID, Role: r.Role, Success: r.Err == nil}
		if r.Err != nil {
			_, v.Code = classify(r.Err)
			v.Error = r.Err.Error()
		} else {
			rv := h.view(r.Request)
			v.Request = &rv
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: ListResponse{
			Items:         views,
			Count:         len(views),
			FailedSources: sourceFailures(listErr),
		},
	})
}

// Action handles GET /action, the entrypoint reached from a notification
// link. The actor is always the authenticated caller; the approver query
// parameter only tells who the link was addressed to.
func (h *Handlers) Action(c *gin.Context) {
	requestID := strings.TrimSpace(c.Query(service.ParamRequestID))
	if requestID == "" {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Code:    CodeInvalidRequest,
			Error:   "missing " + service.ParamRequestID,
		})
		return
	}

	role, err := entity.ParseRole(c.Query(service.ParamRole))
	if err != nil {
		h.fail(c, err)
		return
	}
	trigger, err := domainwf.ParseAction(c.Query(service.ParamAction))
	if err != nil {
		h.fail(c, err)
		return
	}

	actor := caller(c)
	if addressed := c.Query(service.ParamApprover); addressed != "" && !entity.SameIdentity(addressed, actor) {
		h.logger.Info("Action link opened by another identity",
			"request_id", requestID,
			"addressed_to", addressed,
			"caller", actor)
	}

	req, err := h.engine.Transition(c.Request.Context(), workflow.TransitionInput{
		RequestID: requestID,
		Role:      role,
		Actor:     actor,
		Target:    trigger.Target(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.view(req),
	})
}

func (h *Handlers) view(req *entity.Request) RequestView {
	return RequestView{Request: req, OverallStatus: h.engine.OverallStatus(req)}
}

// fail writes the error response for err
func (h *Handlers) fail(c *gin.Context, err error) {
	status, code := classify(err)

	resp := Response{
		Success: false,
		Code:    code,
		Error:   err.Error(),
	}

	var authErr *domainwf.AuthorizationError
	if errors.As(err, &authErr) {
		resp.Details = AuthorizationDetails{
			RequestID: authErr.RequestID,
			Role:      entity.Role(authErr.Role),
			Expected:  authErr.Expected,
			Actor:     authErr.Actor,
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.Request.URL.Path, "code", code, "error", err)
	}
	c.JSON(status, resp)
}

func caller(c *gin.Context) string {
	return c.GetString(callerKey)
}
