package http

import (
	"errors"
	"net/http"

	"go.uber.org/multierr"

	"github.com/garyjia/access-approval/internal/application/workflow"
	domainwf "github.com/garyjia/access-approval/internal/domain/workflow"
)

// Error codes reported to clients
const (
	CodeNotFound              = "NOT_FOUND"
	CodeNotAssignee           = "NOT_ASSIGNEE"
	CodeSelfApprovalForbidden = "SELF_APPROVAL_FORBIDDEN"
	CodeAlreadyResolved       = "ALREADY_RESOLVED"
	CodeSchemaMismatch        = "SCHEMA_MISMATCH"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
	CodeDuplicateIdentity     = "DUPLICATE_IDENTITY"
	CodeOpenRequestExists     = "OPEN_REQUEST_EXISTS"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInternal              = "INTERNAL"
)

// classify maps a workflow error to an HTTP status and error code.
// Authorization outcomes are checked first so they are never reported as
// a missing request.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domainwf.ErrNotAssignee):
		return http.StatusForbidden, CodeNotAssignee
	case errors.Is(err, domainwf.ErrSelfApprovalForbidden):
		return http.StatusForbidden, CodeSelfApprovalForbidden
	case errors.Is(err, domainwf.ErrAlreadyResolved):
		return http.StatusConflict, CodeAlreadyResolved
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domainwf.ErrDuplicateIdentity):
		return http.StatusConflict, CodeDuplicateIdentity
	case errors.Is(err, domainwf.ErrOpenRequestExists):
		return http.StatusConflict, CodeOpenRequestExists
	case errors.Is(err, domainwf.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, domainwf.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	case errors.Is(err, domainwf.ErrSchemaMismatch):
		return http.StatusInternalServerError, CodeSchemaMismatch
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// SourceFailure names a request table left out of a listing
type SourceFailure struct {
	Source string `json:"source"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// sourceFailures unpacks per-source errors from a listing
func sourceFailures(err error) []SourceFailure {
	var out []SourceFailure
	for _, e := range multierr.Errors(err) {
		var se *workflow.SourceError
		if !errors.As(e, &se) {
			continue
		}
		_, code := classify(se.Err)
		out = append(out, SourceFailure{Source: se.Source, Code: code, Error: se.Err.Error()})
	}
	return out
}
