package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/kiwi/internal/credentials"
	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/mappings"
	"evalgo.org/kiwi/internal/orchestration"
	"evalgo.org/kiwi/internal/validation"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	FieldError map[string]string      `json:"field_errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message string, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Context: map[string]interface{}{"id": id},
	}
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Message:    message,
		FieldError: fieldErrors,
	}
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message, details)
}

func ConflictError(message, details string) *APIError {
	return NewAPIError(http.StatusConflict, message, details)
}

// toAPIError maps domain errors onto HTTP statuses.
func toAPIError(err error) *APIError {
	var (
		apiErr    *APIError
		he        *echo.HTTPError
		credsReq  *orchestration.CredentialsRequiredError
		pre       *orchestration.PreconditionError
		mismatch  *orchestration.AuthMismatchError
		transport *dispatch.TransportError
		verr      *validation.Error
	)

	switch {
	// Already shaped by a handler or middleware
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &he):
		return &APIError{Code: he.Code, Message: getHTTPMessage(he.Code), Details: fmt.Sprintf("%v", he.Message)}
	// The operation is parked until the session is submitted
	case errors.As(err, &credsReq):
		return &APIError{
			Code:    http.StatusPreconditionRequired,
			Message: "Credentials required",
			Details: err.Error(),
			Context: map[string]interface{}{"session": credsReq.Session},
		}
	case errors.As(err, &pre):
		return &APIError{
			Code:    http.StatusPreconditionFailed,
			Message: "Precondition failed",
			Details: pre.Reason,
			Context: map[string]interface{}{"op": pre.Op, "infraId": pre.InfraID},
		}
	case errors.As(err, &mismatch):
		return &APIError{
			Code:    http.StatusConflict,
			Message: "Authentication mismatch",
			Details: err.Error(),
			Context: map[string]interface{}{"hopIndex": mismatch.HopIndex},
		}
	// The backend never accepted the command
	case errors.As(err, &transport):
		return NewAPIError(http.StatusBadGateway, "Backend dispatch failed", err.Error())
	case errors.As(err, &verr):
		fields := make(map[string]string, len(verr.Errors))
		for _, fe := range verr.Errors {
			fields[fe.Field] = fe.Message
		}
		return ValidationError("Validation failed", fields)
	case errors.Is(err, orchestration.ErrInvalidRequest),
		errors.Is(err, orchestration.ErrInvalidStorageRef),
		errors.Is(err, credentials.ErrInputLength),
		errors.Is(err, credentials.ErrIncomplete):
		return BadRequestError("Invalid request", err.Error())
	case errors.Is(err, credentials.ErrSessionNotFound):
		return NewAPIError(http.StatusNotFound, "Auth session not found", err.Error())
	case errors.Is(err, orchestration.ErrUnknownJob):
		return NewAPIError(http.StatusNotFound, "Job not found", err.Error())
	case errors.Is(err, mappings.ErrStorageNotFound):
		return NewAPIError(http.StatusNotFound, "External storage not found", err.Error())
	// Submitting twice, or after cancel
	case errors.Is(err, credentials.ErrSessionClosed):
		return ConflictError("Auth session closed", err.Error())
	}
	return InternalError("Internal server error", err.Error())
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	// Nothing can be written once the response started
	if c.Response().Committed {
		return
	}

	// Convert to APIError
	apiErr := toAPIError(err)
	code := apiErr.Code

	// Don't expose internal errors in production
	if code == http.StatusInternalServerError && !c.Echo().Debug {
		logging.Errorf("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		apiErr = &APIError{Code: code, Message: apiErr.Message, Details: "An internal error occurred. Please try again later."}
	}

	// Send JSON error response
	if err := c.JSON(code, apiErr); err != nil {
		logging.Errorf("failed to write error response: %v", err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:           "Bad request",
		http.StatusUnauthorized:         "Unauthorized",
		http.StatusForbidden:            "Forbidden",
		http.StatusNotFound:             "Resource not found",
		http.StatusMethodNotAllowed:     "Method not allowed",
		http.StatusConflict:             "Conflict",
		http.StatusPreconditionFailed:   "Precondition failed",
		http.StatusUnprocessableEntity:  "Unprocessable entity",
		http.StatusPreconditionRequired: "Precondition required",
		http.StatusTooManyRequests:      "Too many requests",
		http.StatusInternalServerError:  "Internal server error",
		http.StatusBadGateway:           "Bad gateway",
		http.StatusServiceUnavailable:   "Service unavailable",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
