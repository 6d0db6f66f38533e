package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no schema matches the lookup.
	ErrNotFound = errors.New("schema not found")
	// ErrAlreadyExists is returned when registering over an existing version.
	ErrAlreadyExists = errors.New("schema already exists")
	// ErrDeprecated is returned when a deprecated version is used for validation.
	ErrDeprecated = errors.New("schema is deprecated")
)

// ValidationError is one payload failure against an event type's schema.
// Schema names the event type, Version the schema version it was checked
// against.
type ValidationError struct {
	Schema        string   `json:"schema"`
	Version       int      `json:"version"`
	Format        string   `json:"format,omitempty"`
	Message       string   `json:"message"`
	Field         string   `json:"field,omitempty"`
	ExpectedType  string   `json:"expected_type,omitempty"`
	ActualType    string   `json:"actual_type,omitempty"`
	UnknownFields []string `json:"unknown_fields,omitempty"`
}

func (e *ValidationError) Error() string {
	switch {
	case len(e.UnknownFields) > 0:
		return fmt.Sprintf("unknown field(s) %v not allowed in schema %s v%d",
			e.UnknownFields, e.Schema, e.Version)
	case e.Field != "":
		return fmt.Sprintf("field '%s': %s (schema %s v%d)",
			e.Field, e.Message, e.Schema, e.Version)
	default:
		return fmt.Sprintf("%s (schema %s v%d)", e.Message, e.Schema, e.Version)
	}
}

// Details exposes the failure as structured key/value pairs for
// error responses.
func (e *ValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	if len(e.UnknownFields) > 0 {
		d["unknown_fields"] = e.UnknownFields
	}
	if e.Field != "" {
		d["field"] = e.Field
	}
	return d
}

// NewUnknownFieldsError reports payload fields the schema does not declare.
func NewUnknownFieldsError(schema string, version int, fields []string) *ValidationError {
	return &ValidationError{
		Schema:        schema,
		Version:       version,
		Message:       fmt.Sprintf("unknown field(s) not allowed: %v", fields),
		UnknownFields: fields,
	}
}

// NewTypeMismatchError reports a payload value of the wrong JSON type.
func NewTypeMismatchError(schema string, version int, field, expected, actual string) *ValidationError {
	return &ValidationError{
		Schema:       schema,
		Version:      version,
		Message:      fmt.Sprintf("expected %s, got %s", expected, actual),
		Field:        field,
		ExpectedType: expected,
		ActualType:   actual,
	}
}

// NewRequiredFieldError reports an absent required payload field.
func NewRequiredFieldError(schema string, version int, field string) *ValidationError {
	return &ValidationError{
		Schema:  schema,
		Version: version,
		Message: "required field is missing",
		Field:   field,
	}
}

// MultiValidationError carries every failure found in one payload, so a
// client can fix all of them in one round trip.
type MultiValidationError struct {
	Errors []*ValidationError
}

func (e *MultiValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Details collects the failing field names across all child errors.
func (e *MultiValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	var fields []string
	for _, ve := range e.Errors {
		if ve.Field != "" {
			fields = append(fields, ve.Field)
		}
	}
	if len(fields) > 0 {
		d["fields"] = fields
	}
	return d
}

// ValidationDetailer surfaces structured validation details for API error
// responses without type-asserting concrete structs.
type ValidationDetailer interface {
	Details() map[string]interface{}
}
