package ingestion

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/statkit/statkit/internal/core/stats"
	"github.com/statkit/statkit/internal/core/storage"
	"github.com/statkit/statkit/internal/schema"
)

type Service struct {
	streams          *stats.Registry
	schemas          *schema.Registry
	validator        *schema.Validator
	store            storage.EventStore
	chains           map[string][]Processor
	maxBodySizeBytes int
}

// NewService wires the ingestion surface for every registered stream. Each
// stream's processor chain is resolved up front, so a typo in a configured
// processor name fails construction rather than the first event.
func NewService(streams *stats.Registry, reg *schema.Registry, val *schema.Validator, repo storage.EventStore, maxBodySizeMB int) (*Service, error) {
	if streams == nil {
		panic("ingestion: stream registry must not be nil")
	}
	if reg == nil {
		panic("ingestion: schema registry must not be nil")
	}
	if val == nil {
		panic("ingestion: validator must not be nil")
	}
	if repo == nil {
		panic("ingestion: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}

	chains, err := resolveChains(streams)
	if err != nil {
		return nil, err
	}

	return &Service{
		streams:          streams,
		schemas:          reg,
		validator:        val,
		store:            repo,
		chains:           chains,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}, nil
}

// resolveChains maps every registered stream to its processor chain.
func resolveChains(streams *stats.Registry) (map[string][]Processor, error) {
	chains := make(map[string][]Processor)
	for _, stream := range streams.Events() {
		procs, err := chainFor(stream)
		if err != nil {
			return nil, fmt.Errorf("ingestion: %w", err)
		}
		chains[stream.Type] = procs
	}
	return chains, nil
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.IngestHandler)
	r.GET("/v1/events/:type", s.ListEventsHandler)
}
