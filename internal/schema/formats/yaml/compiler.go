package yaml

import (
	"context"
	"fmt"

	"github.com/statkit/statkit/internal/schema"
	"gopkg.in/yaml.v3"
)

// Compiler compiles YAML schema definitions.
type Compiler struct{}

// NewCompiler creates a new YAML compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile parses and validates one YAML schema document. The document's
// own event name and version must agree with the registration it was
// stored under.
func (c *Compiler) Compile(ctx context.Context, s *schema.Schema) (*schema.CompiledSchema, error) {
	if s.Format != schema.FormatYaml {
		return nil, fmt.Errorf("expected yaml format, got %s", s.Format)
	}

	var spec SchemaSpec
	if err := yaml.Unmarshal(s.Definition, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML schema: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid YAML schema: %w", err)
	}
	if spec.Event != s.Type {
		return nil, fmt.Errorf("schema event type %q does not match schema.Type %q", spec.Event, s.Type)
	}
	if spec.Version != s.Version {
		return nil, fmt.Errorf("schema version %d does not match schema.Version %d", spec.Version, s.Version)
	}

	return &schema.CompiledSchema{
		EventType:  s.Type,
		Version:    s.Version,
		Format:     schema.FormatYaml,
		// either the registration flag or the document's own flag
		// engages strict mode
		StrictMode: s.StrictMode || spec.StrictMode,
		YAMLSpec:   &spec,
	}, nil
}
