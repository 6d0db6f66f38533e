package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/statkit/statkit/internal/api/v1"
	httperr "github.com/statkit/statkit/internal/core/errors"
	"github.com/statkit/statkit/internal/core/query"
	"github.com/statkit/statkit/internal/core/storage"
	"github.com/statkit/statkit/internal/schema"
)

const (
	msgReadBodyFailed  = "Failed to read request body"
	msgInvalidJSON     = "Invalid JSON body"
	msgPersistFailed   = "Failed to persist event"
	msgDuplicateEvent  = "Event already exists"
	msgUnknownStream   = "Event type is not a registered stream"
	msgPreprocessError = "Failed to preprocess event"

	defaultListLimit = 1000
)

// ingestionError is the structured failure a pipeline stage hands back
// instead of writing to the gin context itself; only writeError turns
// it into HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

func ingestFailure(status int, errType, message string) *ingestionError {
	return &ingestionError{statusCode: status, errorType: errType, message: message}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}

// IngestHandler accepts one event over HTTP POST: parse, validate,
// preprocess, persist.
func (s *Service) IngestHandler(c *gin.Context) {
	evt, payloadSize, err := s.parseEvent(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.validateEvent(c.Request.Context(), evt); err != nil {
		writeError(c, err)
		return
	}

	if err := s.preprocessEvent(evt); err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received Event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"schema_version", evt.SchemaVersion,
		"is_robot", evt.IsRobot,
		"payload_size", payloadSize)

	if err := s.persistEvent(c.Request.Context(), evt); err != nil {
		writeError(c, err)
		return
	}

	// Event persisted into its period partition. The aggregation scheduler
	// folds it into documents on the next cycle.
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "id": evt.ID})
}

// readLimitedBody reads the request body up to the configured cap.
// Oversized requests come back as 413 rather than truncating silently.
func (s *Service) readLimitedBody(c *gin.Context) ([]byte, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limited := io.LimitReader(c.Request.Body, maxBytes+1)

	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, ingestFailure(http.StatusInternalServerError, httperr.HttpInternalError, msgReadBodyFailed)
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return bodyBytes, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}
	return bodyBytes, nil
}

// parseEvent binds the request body into an event envelope, stamping
// IngestedAt with the arrival time. The returned size feeds the access
// log line.
func (s *Service) parseEvent(c *gin.Context) (*v1.Event, int, *ingestionError) {
	bodyBytes, readErr := s.readLimitedBody(c)
	if readErr != nil {
		return nil, len(bodyBytes), readErr
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var evt v1.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), ingestFailure(http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON)
	}

	evt.IngestedAt = time.Now().UTC()
	return &evt, len(bodyBytes), nil
}

// validateEvent runs envelope validation, then schema validation if the
// event declares a SchemaVersion. Returns nil on success.
func (s *Service) validateEvent(ctx context.Context, evt *v1.Event) *ingestionError {
	if err := evt.Validate(); err != nil {
		slog.Warn("Envelope validation failed", "error", err, "event_type", evt.Type)
		return ingestFailure(http.StatusBadRequest, httperr.HttpInvalidJsonError, err.Error())
	}

	if evt.SchemaVersion == 0 {
		return nil
	}

	sch, err := s.schemas.Get(ctx, evt.Type, evt.SchemaVersion)
	if err != nil {
		slog.Warn("Schema not found for event", "event_type", evt.Type, "schema_version", evt.SchemaVersion, "error", err)
		return ingestFailure(http.StatusBadRequest, httperr.HttpSchemaNotFoundError, err.Error())
	}

	if sch.State == schema.StateDeprecated {
		slog.Warn("Using deprecated schema", "event_type", evt.Type, "schema_version", evt.SchemaVersion)
	}

	if err := s.validator.ValidateData(ctx, sch, evt.Data); err != nil {
		slog.Warn("Schema validation failed for event data", "event_type", evt.Type, "schema_version", evt.SchemaVersion, "error", err)

		details := map[string]interface{}{
			"schema":  evt.Type,
			"version": evt.SchemaVersion,
		}
		if d, ok := err.(schema.ValidationDetailer); ok {
			for k, v := range d.Details() {
				details[k] = v
			}
		}

		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpSchemaValidationError,
			message:    err.Error(),
			details:    details,
		}
	}

	return nil
}

// preprocessEvent runs the stream's processor chain: robot flagging, subject
// key derivation and the deterministic ID. Rejects events whose type no
// stream registers, since such events would have no partition to land in.
func (s *Service) preprocessEvent(evt *v1.Event) *ingestionError {
	chain, ok := s.chains[evt.Type]
	if !ok {
		slog.Warn("Event for unregistered stream rejected", "event_type", evt.Type)
		return ingestFailure(http.StatusBadRequest, httperr.HttpUnknownStreamError, msgUnknownStream)
	}

	stream, _ := s.streams.Event(evt.Type)
	if err := runChain(chain, stream, evt); err != nil {
		slog.Error("Processor chain failed", "event_type", evt.Type, "error", err)
		return ingestFailure(http.StatusInternalServerError, httperr.HttpInternalError, msgPreprocessError)
	}

	return nil
}

// persistEvent writes the event through the store, mapping duplicate
// IDs to 409.
func (s *Service) persistEvent(ctx context.Context, evt *v1.Event) *ingestionError {
	if err := s.store.SaveEvent(ctx, evt); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Info("Duplicate event rejected", "event_id", evt.ID, "event_type", evt.Type)
			return ingestFailure(http.StatusConflict, httperr.HttpDuplicateEventError, msgDuplicateEvent)
		}

		slog.Error("Failed to persist event", "error", err, "event_id", evt.ID)
		return ingestFailure(http.StatusInternalServerError, httperr.HttpInternalError, msgPersistFailed)
	}

	return nil
}

// ListEventsHandler handles GET /v1/events/:type - a raw event listing used
// to verify what a stream has received.
func (s *Service) ListEventsHandler(c *gin.Context) {
	eventType := c.Param("type")
	if _, ok := s.streams.Event(eventType); !ok {
		writeError(c, ingestFailure(http.StatusBadRequest, httperr.HttpUnknownStreamError, msgUnknownStream))
		return
	}

	window, err := parseListWindow(c)
	if err != nil {
		writeError(c, err)
		return
	}

	q := query.New(eventType, window.start, window.end)
	events, listErr := s.store.ListEvents(c.Request.Context(), q, window.limit)
	if listErr != nil {
		slog.Error("Failed to list events", "event_type", eventType, "error", listErr)
		writeError(c, ingestFailure(http.StatusInternalServerError, httperr.HttpInternalError, "Failed to list events"))
		return
	}

	if events == nil {
		events = []*v1.Event{}
	}
	c.JSON(http.StatusOK, events)
}

type listWindow struct {
	start time.Time
	end   time.Time
	limit int
}

// parseListWindow reads the start/end/limit query parameters. Both bounds
// are optional; an inverted range is rejected.
func parseListWindow(c *gin.Context) (listWindow, *ingestionError) {
	w := listWindow{limit: defaultListLimit}

	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return w, invalidQuery("start must be an RFC3339 timestamp")
		}
		w.start = t.UTC()
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return w, invalidQuery("end must be an RFC3339 timestamp")
		}
		w.end = t.UTC()
	}
	if !w.start.IsZero() && !w.end.IsZero() && w.end.Before(w.start) {
		return w, invalidQuery("end must not be before start")
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return w, invalidQuery("limit must be a positive integer")
		}
		w.limit = n
	}

	return w, nil
}

func invalidQuery(msg string) *ingestionError {
	return ingestFailure(http.StatusBadRequest, httperr.HttpInvalidQueryError, msg)
}
