package schema

import (
	"context"
	"fmt"
	"sync"
)

// FormatCompiler turns a stored schema definition into its runtime
// representation. Each format (yaml, protobuf) brings one.
type FormatCompiler interface {
	Compile(ctx context.Context, schema *Schema) (*CompiledSchema, error)
}

// FormatValidator checks payloads against a compiled schema.
type FormatValidator interface {
	ValidateData(ctx context.Context, compiled *CompiledSchema, data map[string]interface{}) error
}

// formatEntry pairs a format's compiler with its validator. Both halves
// are registered together.
type formatEntry struct {
	compiler  FormatCompiler
	validator FormatValidator
}

// FormatRegistry holds the pluggable format implementations.
type FormatRegistry struct {
	mu      sync.RWMutex
	entries map[Format]formatEntry
}

// NewFormatRegistry creates an empty format registry.
func NewFormatRegistry() *FormatRegistry {
	return &FormatRegistry{entries: make(map[Format]formatEntry)}
}

// RegisterFormat registers a format's compiler and validator. Called
// during startup before any validation runs.
func (r *FormatRegistry) RegisterFormat(format Format, compiler FormatCompiler, validator FormatValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[format] = formatEntry{compiler: compiler, validator: validator}
}

// GetCompiler returns the compiler for a format, or an error when the
// format was never registered.
func (r *FormatRegistry) GetCompiler(format Format) (FormatCompiler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[format]
	if !ok {
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
	return entry.compiler, nil
}

// GetValidator returns the validator for a format, or an error when the
// format was never registered.
func (r *FormatRegistry) GetValidator(format Format) (FormatValidator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[format]
	if !ok {
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
	return entry.validator, nil
}

// IsFormatSupported reports whether the format has been registered.
func (r *FormatRegistry) IsFormatSupported(format Format) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[format]
	return ok
}

// SupportedFormats lists every registered format.
func (r *FormatRegistry) SupportedFormats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]Format, 0, len(r.entries))
	for format := range r.entries {
		formats = append(formats, format)
	}
	return formats
}
