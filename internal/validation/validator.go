// Package validation checks orchestration requests before anything is
// dispatched.
//
// It uses go-playground/validator for struct tags and adds the hop-chain
// checks that tags cannot express: host syntax, port range, and the
// per-class requirements of backup and restore requests.
//
// # Usage Example
//
//	v := validation.New()
//	result := v.Struct(req)
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"evalgo.org/kiwi/models"
)

// Validator validates request structs and hop chains.
type Validator struct {
	// structValidator validates Go struct constraints and tags
	structValidator *validator.Validate
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the JSON path of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// Error is returned by Err for an invalid result.
type Error struct {
	Errors []ValidationError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", ve.Field, ve.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Err returns nil for a valid result and an *Error otherwise.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &Error{Errors: r.Errors}
}

// Add records an error and marks the result invalid.
func (r *ValidationResult) Add(field, message string, value interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Value: value})
}

// New creates a validator that reports fields by their JSON names.
func New() *Validator {
	sv := validator.New()
	sv.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{structValidator: sv}
}

// Struct validates the tags of s. A non-empty Hops field is checked with HopErrors.
func (v *Validator) Struct(s interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if err := v.structValidator.Struct(s); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			result.Add("", err.Error(), nil)
			return result
		}
		for _, fe := range verrs {
			result.Add(fieldPath(fe), message(fe), fe.Value())
		}
	}

	if hops, ok := hopsOf(s); ok && len(hops) > 0 {
		for _, ve := range v.HopErrors(hops) {
			result.Add(ve.Field, ve.Message, ve.Value)
		}
	}
	return result
}

// HopErrors validates a hop chain: at least one hop, each with a usable
// host and a port in range.
func (v *Validator) HopErrors(hops []models.Hop) []ValidationError {
	var errs []ValidationError
	if len(hops) == 0 {
		return append(errs, ValidationError{Field: "hops", Message: "at least one hop is required"})
	}

	for i, h := range hops {
		field := fmt.Sprintf("hops[%d]", i)
		host := strings.TrimSpace(h.Host)
		if host == "" {
			errs = append(errs, ValidationError{Field: field + ".host", Message: "host is required"})
		} else if !isValidHost(host) {
			errs = append(errs, ValidationError{Field: field + ".host", Message: "invalid host", Value: h.Host})
		}
		if h.Port < 0 || h.Port > 65535 {
			errs = append(errs, ValidationError{Field: field + ".port", Message: "port must be between 1 and 65535", Value: int(h.Port)})
		}
	}
	return errs
}

// hopsOf finds an exported Hops field of type []models.Hop on s.
func hopsOf(s interface{}) ([]models.Hop, bool) {
	rv := reflect.ValueOf(s)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	f := rv.FieldByName("Hops")
	if !f.IsValid() {
		return nil, false
	}
	hops, ok := f.Interface().([]models.Hop)
	return hops, ok
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s item(s)", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

// isValidHost accepts IP addresses and RFC 1123 host names.
func isValidHost(host string) bool {
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return false
			}
		}
	}
	return true
}
