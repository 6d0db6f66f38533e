package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"github.com/statkit/statkit/internal/schema"
)

// Handler serves the schema discovery endpoints.
type Handler struct {
	registry  *schema.Registry
	validator *schema.Validator
}

// NewHandler creates a schema API handler.
func NewHandler(reg *schema.Registry, val *schema.Validator) *Handler {
	return &Handler{registry: reg, validator: val}
}

// SchemaResponse describes a single schema version, metadata only.
type SchemaResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Version     int    `json:"version"`
	Format      string `json:"format"`
	State       string `json:"state"`
	StrictMode  bool   `json:"strict_mode"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"created_at"`
}

// ListedSchemaResponse carries the definition body too. YAML
// definitions are returned parsed; other formats come back raw.
type ListedSchemaResponse struct {
	Type       string      `json:"type"`
	Version    int         `json:"version"`
	Format     string      `json:"format"`
	StrictMode bool        `json:"strict_mode"`
	State      string      `json:"state"`
	Definition interface{} `json:"definition"`
}

// ErrorResponse is the error envelope for schema endpoints.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// versionParam parses the :version path segment. On failure it writes
// the 400 response and reports false.
func versionParam(c *gin.Context) (int, bool) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_version", Message: "version must be an integer"})
		return 0, false
	}
	return version, true
}

// HandleGet serves GET /v1/schemas/{type}/{version}.
func (h *Handler) HandleGet(c *gin.Context) {
	version, ok := versionParam(c)
	if !ok {
		return
	}

	s, err := h.registry.Get(c.Request.Context(), c.Param("type"), version)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "schema_not_found", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, &SchemaResponse{
		ID:          s.ID,
		Type:        s.Type,
		Version:     s.Version,
		Format:      string(s.Format),
		State:       string(s.State),
		StrictMode:  s.StrictMode,
		Fingerprint: s.Fingerprint,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
	})
}

// HandleList serves GET /v1/schemas, with an optional ?type= filter.
func (h *Handler) HandleList(c *gin.Context) {
	schemas, err := h.registry.List(c.Request.Context(), c.Query("type"))
	if err != nil {
		slog.Error("Listing schemas failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Failed to list schemas"})
		return
	}

	responses := make([]*ListedSchemaResponse, len(schemas))
	for i, s := range schemas {
		resp, convErr := listedResponse(s)
		if convErr != nil {
			slog.Error("Rendering schema definition failed", "error", convErr, "type", s.Type, "version", s.Version)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Failed to convert schema definition"})
			return
		}
		responses[i] = resp
	}

	c.JSON(http.StatusOK, responses)
}

// HandleValidate serves POST /v1/schemas/{type}/{version}/validate.
// It dry-runs a payload against the schema without storing anything.
func (h *Handler) HandleValidate(c *gin.Context) {
	version, ok := versionParam(c)
	if !ok {
		return
	}

	var data map[string]interface{}
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_json", Message: "Invalid JSON body"})
		return
	}

	eventType := c.Param("type")
	s, err := h.registry.Get(c.Request.Context(), eventType, version)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "schema_not_found", Message: err.Error()})
		return
	}

	if err := h.validator.ValidateData(c.Request.Context(), s, data); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":   true,
		"schema":  eventType,
		"version": version,
	})
}

func listedResponse(s *schema.Schema) (*ListedSchemaResponse, error) {
	resp := &ListedSchemaResponse{
		Type:       s.Type,
		Version:    s.Version,
		Format:     string(s.Format),
		StrictMode: s.StrictMode,
		State:      string(s.State),
	}

	switch s.Format {
	case schema.FormatYaml:
		var parsed map[string]interface{}
		if err := yaml.Unmarshal(s.Definition, &parsed); err != nil {
			return nil, err
		}
		resp.Definition = parsed
	default:
		resp.Definition = map[string]interface{}{"raw": string(s.Definition)}
	}
	return resp, nil
}
