package schema

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Validator compiles registered schemas on demand and checks payloads
// against them. Compiles are cached by (type, version, fingerprint) so a
// redefined schema never serves a stale compile.
type Validator struct {
	formats *FormatRegistry

	mu       sync.RWMutex
	compiled map[string]*CompiledSchema
	inflight singleflight.Group
}

// NewValidator creates a validator over the given format registry.
func NewValidator(formats *FormatRegistry) *Validator {
	return &Validator{
		formats:  formats,
		compiled: make(map[string]*CompiledSchema),
	}
}

// RegisterFormat registers a format's compiler and validator pair.
func (v *Validator) RegisterFormat(format Format, compiler FormatCompiler, validator FormatValidator) {
	v.formats.RegisterFormat(format, compiler, validator)
}

// compileKey identifies one compiled definition in the cache.
func compileKey(s *Schema) string {
	return fmt.Sprintf("%s:%d:%s", s.Type, s.Version, s.Fingerprint)
}

// ValidateData checks the payload against the schema, compiling the
// definition first if this fingerprint has not been seen yet.
func (v *Validator) ValidateData(ctx context.Context, s *Schema, payload map[string]interface{}) error {
	compiled, err := v.compileOnce(ctx, s)
	if err != nil {
		return err
	}

	validator, err := v.formats.GetValidator(s.Format)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return validator.ValidateData(ctx, compiled, payload)
}

// compileOnce returns the cached compile or builds it. Concurrent calls
// for the same definition collapse into a single compilation.
func (v *Validator) compileOnce(ctx context.Context, s *Schema) (*CompiledSchema, error) {
	key := compileKey(s)
	if compiled, ok := v.lookup(key); ok {
		return compiled, nil
	}

	result, err, _ := v.inflight.Do(key, func() (interface{}, error) {
		// a racing caller may have finished the compile already
		if compiled, ok := v.lookup(key); ok {
			return compiled, nil
		}

		compiler, err := v.formats.GetCompiler(s.Format)
		if err != nil {
			return nil, fmt.Errorf("compilation failed: %w", err)
		}
		compiled, err := compiler.Compile(ctx, s)
		if err != nil {
			return nil, err
		}

		v.mu.Lock()
		v.compiled[key] = compiled
		v.mu.Unlock()
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CompiledSchema), nil
}

func (v *Validator) lookup(key string) (*CompiledSchema, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	compiled, ok := v.compiled[key]
	return compiled, ok
}

// InvalidateCache drops the compiled entry for this definition.
func (v *Validator) InvalidateCache(s *Schema) {
	v.mu.Lock()
	delete(v.compiled, compileKey(s))
	v.mu.Unlock()
}
