package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"evalgo.org/kiwi/internal/credentials"
	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/mappings"
	"evalgo.org/kiwi/internal/orchestration"
	"evalgo.org/kiwi/internal/validation"
	"evalgo.org/kiwi/models"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		want     string
	}{
		{
			name: "error with details",
			apiError: &APIError{
				Code:    400,
				Message: "Bad Request",
				Details: "Invalid JSON format",
			},
			want: "Bad Request: Invalid JSON format",
		},
		{
			name: "error without details",
			apiError: &APIError{
				Code:    404,
				Message: "Not Found",
			},
			want: "Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.want {
				t.Errorf("APIError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBadRequestError(t *testing.T) {
	err := BadRequestError("Invalid input", "Field 'name' is required")

	if err.Code != http.StatusBadRequest {
		t.Errorf("BadRequestError().Code = %v, want %v", err.Code, http.StatusBadRequest)
	}
	if err.Message != "Invalid input" {
		t.Errorf("BadRequestError().Message = %v, want %v", err.Message, "Invalid input")
	}
	if err.Details != "Field 'name' is required" {
		t.Errorf("BadRequestError().Details = %v, want %v", err.Details, "Field 'name' is required")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("Job", "backup:abc123")

	if err.Code != http.StatusNotFound {
		t.Errorf("NotFoundError().Code = %v, want %v", err.Code, http.StatusNotFound)
	}
	if err.Message != "Job not found" {
		t.Errorf("NotFoundError().Message = %v, want %v", err.Message, "Job not found")
	}
	if err.Context == nil {
		t.Error("NotFoundError().Context is nil, want non-nil")
	}
	if id, ok := err.Context["id"].(string); !ok || id != "backup:abc123" {
		t.Errorf("NotFoundError().Context['id'] = %v, want 'backup:abc123'", id)
	}
}

func TestValidationError(t *testing.T) {
	fieldErrors := map[string]string{
		"name":  "Name is required",
		"email": "Invalid email format",
	}
	err := ValidationError("Validation failed", fieldErrors)

	if err.Code != http.StatusBadRequest {
		t.Errorf("ValidationError().Code = %v, want %v", err.Code, http.StatusBadRequest)
	}
	if err.Message != "Validation failed" {
		t.Errorf("ValidationError().Message = %v, want %v", err.Message, "Validation failed")
	}
	if len(err.FieldError) != 2 {
		t.Errorf("ValidationError().FieldError length = %v, want 2", len(err.FieldError))
	}
	if err.FieldError["name"] != "Name is required" {
		t.Errorf("ValidationError().FieldError['name'] = %v, want 'Name is required'", err.FieldError["name"])
	}
}

func TestInternalError(t *testing.T) {
	err := InternalError("Database connection failed", "Connection timeout")

	if err.Code != http.StatusInternalServerError {
		t.Errorf("InternalError().Code = %v, want %v", err.Code, http.StatusInternalServerError)
	}
	if err.Message != "Database connection failed" {
		t.Errorf("InternalError().Message = %v, want %v", err.Message, "Database connection failed")
	}
	if err.Details != "Connection timeout" {
		t.Errorf("InternalError().Details = %v, want %v", err.Details, "Connection timeout")
	}
}

func TestConflictError(t *testing.T) {
	err := ConflictError("Resource conflict", "Resource already exists")

	if err.Code != http.StatusConflict {
		t.Errorf("ConflictError().Code = %v, want %v", err.Code, http.StatusConflict)
	}
	if err.Message != "Resource conflict" {
		t.Errorf("ConflictError().Message = %v, want %v", err.Message, "Resource conflict")
	}
	if err.Details != "Resource already exists" {
		t.Errorf("ConflictError().Details = %v, want %v", err.Details, "Resource already exists")
	}
}

func TestGetHTTPMessage(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"Bad Request", http.StatusBadRequest, "Bad request"},
		{"Not Found", http.StatusNotFound, "Resource not found"},
		{"Internal Server Error", http.StatusInternalServerError, "Internal server error"},
		{"Unknown Code", 999, http.StatusText(999)}, // Falls back to http.StatusText for unknown codes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getHTTPMessage(tt.code); got != tt.want {
				t.Errorf("getHTTPMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"api error", ConflictError("x", "y"), http.StatusConflict},
		{"echo error", echo.NewHTTPError(http.StatusUnauthorized, "no"), http.StatusUnauthorized},
		{"credentials required", &orchestration.CredentialsRequiredError{Session: models.AuthSessionView{ID: "s1"}}, http.StatusPreconditionRequired},
		{"precondition", &orchestration.PreconditionError{Op: "createBackup", InfraID: 3, Reason: "engine not active"}, http.StatusPreconditionFailed},
		{"auth mismatch", &orchestration.AuthMismatchError{HopIndex: 1, Host: "jump"}, http.StatusConflict},
		{"transport", &dispatch.TransportError{Action: dispatch.ActionCreateBackup, StatusCode: 500, Message: "boom"}, http.StatusBadGateway},
		{"validation", &validation.Error{Errors: []validation.ValidationError{{Field: "hops", Message: "required"}}}, http.StatusBadRequest},
		{"invalid request", fmt.Errorf("%w: no hops", orchestration.ErrInvalidRequest), http.StatusBadRequest},
		{"storage ref", orchestration.ErrInvalidStorageRef, http.StatusBadRequest},
		{"input length", credentials.ErrInputLength, http.StatusBadRequest},
		{"session not found", credentials.ErrSessionNotFound, http.StatusNotFound},
		{"unknown job", fmt.Errorf("%w: job:backup:1:x", orchestration.ErrUnknownJob), http.StatusNotFound},
		{"storage not found", mappings.ErrStorageNotFound, http.StatusNotFound},
		{"session closed", credentials.ErrSessionClosed, http.StatusConflict},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toAPIError(tt.err).Code; got != tt.want {
				t.Errorf("toAPIError() code = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestToAPIErrorContext(t *testing.T) {
	view := models.AuthSessionView{ID: "s1", Purpose: models.PurposeBackup}
	apiErr := toAPIError(&orchestration.CredentialsRequiredError{Session: view})
	if got, ok := apiErr.Context["session"].(models.AuthSessionView); !ok || got.ID != "s1" {
		t.Errorf("session context = %#v", apiErr.Context["session"])
	}

	apiErr = toAPIError(&validation.Error{Errors: []validation.ValidationError{{Field: "hops[0].host", Message: "required"}}})
	if apiErr.FieldError["hops[0].host"] != "required" {
		t.Errorf("field errors = %v", apiErr.FieldError)
	}
}
