package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// State is a schema's lifecycle state.
type State string

const (
	StateActive     State = "active"
	StateDeprecated State = "deprecated"
	StateDeleted    State = "deleted"
)

// Format names the language a schema definition is written in.
type Format string

const (
	FormatProtobuf Format = "protobuf"
	FormatYaml     Format = "yaml"
	FormatJSON     Format = "json"
)

/// Schema is one registered payload schema: the rules a given version of
// an event type's data field must satisfy.
type Schema struct {
	// ID is the unique schema identifier.
	ID string `json:"id"`

	// Type is the event type this schema validates (e.g. "file-download").
	Type string `json:"type"`

	// Version counts up from 1 per event type.
	Version int `json:"version"`

	// Format selects the compiler and validator pair.
	Format Format `json:"format"`

	// Definition is the raw schema source (.yaml or .proto content).
	Definition []byte `json:"definition"`

	// Fingerprint is the SHA-256 of Definition. It keys the compile
	// cache, so redefining a version invalidates naturally.
	Fingerprint string `json:"fingerprint"`

	// State is the lifecycle state.
	State State `json:"state"`

	// StrictMode rejects payloads carrying undeclared fields.
	StrictMode bool `json:"strict_mode"`

	// CreatedAt is when the schema was registered.
	CreatedAt time.Time `json:"created_at"`

	// DeprecatedAt is set when the schema is deprecated, nil while active.
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}

// Key uniquely identifies a schema version for lookup.
type Key struct {
	Type    string
	Version int
}

// Key returns the lookup key for this schema.
func (s *Schema) Key() Key {
	return Key{Type: s.Type, Version: s.Version}
}

// ComputeFingerprint hashes a definition with SHA-256.
func ComputeFingerprint(definition []byte) string {
	hash := sha256.Sum256(definition)
	return hex.EncodeToString(hash[:])
}

// CompiledSchema is a schema ready for validation. Format discriminates
// which representation field is populated.
type CompiledSchema struct {
	EventType  string
	Version    int
	Format     Format
	StrictMode bool

	// exactly one of these is set, per Format
	ProtoDescriptor *protoreflect.MessageDescriptor
	YAMLSpec        interface{} // *yaml.SchemaSpec
}

// GetProtoDescriptor unwraps the protobuf representation.
func (c *CompiledSchema) GetProtoDescriptor() (protoreflect.MessageDescriptor, error) {
	if c.Format != FormatProtobuf || c.ProtoDescriptor == nil {
		return nil, fmt.Errorf("not a protobuf schema (format: %s)", c.Format)
	}
	return *c.ProtoDescriptor, nil
}

// GetYAMLSpec unwraps the YAML representation. Callers assert the result
// to *yaml.SchemaSpec; the indirection breaks an import cycle.
func (c *CompiledSchema) GetYAMLSpec() (interface{}, error) {
	if c.Format != FormatYaml || c.YAMLSpec == nil {
		return nil, fmt.Errorf("not a YAML schema (format: %s)", c.Format)
	}
	return c.YAMLSpec, nil
}
