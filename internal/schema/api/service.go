package api

import (
	"github.com/gin-gonic/gin"

	"github.com/statkit/statkit/internal/schema"
)

// Service wires the schema discovery endpoints onto a router.
type Service struct {
	registry  *schema.Registry
	validator *schema.Validator
}

// NewService creates the schema API service.
func NewService(reg *schema.Registry, val *schema.Validator) *Service {
	return &Service{registry: reg, validator: val}
}

// RegisterRoutes mounts the discovery API under /v1/schemas:
// listing, per-version lookup, and dry-run payload validation.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	handler := NewHandler(s.registry, s.validator)

	group := r.Group("/v1/schemas")
	group.GET("", handler.HandleList)
	group.GET("/:type/:version", handler.HandleGet)
	group.POST("/:type/:version/validate", handler.HandleValidate)
}
