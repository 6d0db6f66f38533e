package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpInvalidQueryError     = "invalid_query"
	HttpSchemaNotFoundError   = "schema_not_found"
	HttpSchemaValidationError = "schema_validation_failed"
	HttpDuplicateEventError   = "duplicate_event"
	HttpUnknownStreamError    = "unknown_event_type"
	HttpUnknownTargetError    = "unknown_aggregation"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
