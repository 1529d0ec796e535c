package rest

import (
	"errors"
	"net/http"

	"github.com/cellmesh/cellmesh/internal/application/auth"
	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/pkg/depgraph"
)

type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func NewAPIErrorWithDetails(code, message string, httpStatus int, details map[string]interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		HTTPStatus: httpStatus,
	}
}

var (
	ErrBadRequest       = NewAPIError("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrUnauthorized     = NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrForbidden        = NewAPIError("FORBIDDEN", "Access denied", http.StatusForbidden)
	ErrNotFound         = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrConflict         = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)
	ErrValidationFailed = NewAPIError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	ErrInternalServer   = NewAPIError("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrTooManyRequests  = NewAPIError("RATE_LIMIT_EXCEEDED", "Too many requests", http.StatusTooManyRequests)
	ErrInvalidJSON      = NewAPIError("INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
	ErrMissingParameter = NewAPIError("MISSING_PARAMETER", "Required parameter is missing", http.StatusBadRequest)
	ErrInvalidParameter = NewAPIError("INVALID_PARAMETER", "Invalid parameter value", http.StatusBadRequest)
	ErrInvalidToken     = NewAPIError("INVALID_TOKEN", "Invalid token", http.StatusUnauthorized)
)

// errorKindStatus maps each model.ErrorKind to the HTTP status a synchronous
// REST response should carry; kernel-only kinds (RUNTIME_ERROR, KERNEL_DIED,
// TIMEOUT) never reach here — they go out over the live channel instead.
var errorKindStatus = map[model.ErrorKind]int{
	model.ErrorKindParse:                   http.StatusBadRequest,
	model.ErrorKindCycleDetected:           http.StatusConflict,
	model.ErrorKindCellNotFound:            http.StatusNotFound,
	model.ErrorKindNotebookNotFound:        http.StatusNotFound,
	model.ErrorKindForbidden:               http.StatusForbidden,
	model.ErrorKindRevisionConflict:        http.StatusConflict,
	model.ErrorKindCellNotRegistered:       http.StatusConflict,
	model.ErrorKindBackendNotConfigured:    http.StatusUnprocessableEntity,
	model.ErrorKindTemplateVariableMissing: http.StatusUnprocessableEntity,
	model.ErrorKindRuntime:                 http.StatusUnprocessableEntity,
	model.ErrorKindKernelDied:              http.StatusServiceUnavailable,
	model.ErrorKindTimeout:                 http.StatusGatewayTimeout,
	model.ErrorKindStorageFailure:          http.StatusInternalServerError,
}

// TranslateError maps a domain error into the REST envelope. Sentinel errors
// and the depgraph/model error types are checked before falling back to a
// generic 500 — unmatched errors most likely indicate a missing case here
// rather than a client mistake.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var engineErr *model.EngineError
	if errors.As(err, &engineErr) {
		status, ok := errorKindStatus[engineErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		details := map[string]interface{}{}
		if engineErr.CellID != "" {
			details["cell_id"] = engineErr.CellID
		}
		return NewAPIErrorWithDetails(string(engineErr.Kind), engineErr.Message, status, details)
	}

	var cycleErr *depgraph.CycleError
	if errors.As(err, &cycleErr) {
		return NewAPIErrorWithDetails(string(model.ErrorKindCycleDetected), cycleErr.Error(), http.StatusConflict,
			map[string]interface{}{"cell_id": cycleErr.CellID})
	}

	var validationErr *model.ValidationError
	if errors.As(err, &validationErr) {
		return NewAPIErrorWithDetails("VALIDATION_FAILED", validationErr.Message, http.StatusBadRequest,
			map[string]interface{}{"field": validationErr.Field})
	}

	switch {
	case errors.Is(err, model.ErrNotebookNotFound):
		return NewAPIError(string(model.ErrorKindNotebookNotFound), "Notebook not found", http.StatusNotFound)
	case errors.Is(err, model.ErrCellNotFound):
		return NewAPIError(string(model.ErrorKindCellNotFound), "Cell not found", http.StatusNotFound)
	case errors.Is(err, model.ErrRevisionConflict):
		return NewAPIError(string(model.ErrorKindRevisionConflict), "Revision conflict, reload the notebook", http.StatusConflict)
	case errors.Is(err, model.ErrCycleDetected):
		return NewAPIError(string(model.ErrorKindCycleDetected), "Cell would create a dependency cycle", http.StatusConflict)
	case errors.Is(err, model.ErrForbidden):
		return NewAPIError(string(model.ErrorKindForbidden), "Access denied", http.StatusForbidden)
	case errors.Is(err, auth.ErrTokenNotIssuedHere):
		return NewAPIError("TOKEN_NOT_ISSUED_HERE", "Tokens are issued by the external identity provider", http.StatusBadRequest)
	}

	return NewAPIError("INTERNAL_ERROR", "An unexpected error occurred", http.StatusInternalServerError)
}
