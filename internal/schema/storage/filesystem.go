package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/statkit/statkit/internal/schema"
)

// FileSystemRepository serves schemas straight from disk, laid out as
// root/{event_type}/v{version}.yaml or .proto. The repository is
// read-only; definitions change by editing files, not through the API.
// When both formats exist for a version, YAML wins.
type FileSystemRepository struct {
	rootDir string
}

// NewFileSystemRepository creates a repository rooted at rootDir.
func NewFileSystemRepository(rootDir string) *FileSystemRepository {
	return &FileSystemRepository{rootDir: rootDir}
}

// Create is rejected; add the definition file to the tree instead.
func (r *FileSystemRepository) Create(ctx context.Context, s *schema.Schema) error {
	ext := ".yaml"
	if s.Format == schema.FormatProtobuf {
		ext = ".proto"
	}
	return fmt.Errorf("create not supported in filesystem mode: please add %s file directly to %s/%s/v%d%s",
		ext, r.rootDir, s.Type, s.Version, ext)
}

// Get reads one schema version from disk.
func (r *FileSystemRepository) Get(ctx context.Context, key schema.Key) (*schema.Schema, error) {
	candidates := []struct {
		path   string
		format schema.Format
	}{
		{filepath.Join(r.rootDir, key.Type, fmt.Sprintf("v%d.yaml", key.Version)), schema.FormatYaml},
		{filepath.Join(r.rootDir, key.Type, fmt.Sprintf("v%d.proto", key.Version)), schema.FormatProtobuf},
	}

	if fileExists(candidates[0].path) && fileExists(candidates[1].path) {
		slog.Warn("Both .yaml and .proto exist for schema - using .yaml (precedence rule)",
			"type", key.Type, "version", key.Version)
	}

	for _, c := range candidates {
		if !fileExists(c.path) {
			continue
		}
		content, err := os.ReadFile(c.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s schema: %w", c.format, err)
		}
		return r.buildSchema(key, content, c.format), nil
	}
	return nil, schema.ErrNotFound
}

// buildSchema wraps file content in a schema record. Disk files are
// always active and strict; CreatedAt is synthetic.
func (r *FileSystemRepository) buildSchema(key schema.Key, content []byte, format schema.Format) *schema.Schema {
	return &schema.Schema{
		ID:          fmt.Sprintf("%s-%d", key.Type, key.Version),
		Type:        key.Type,
		Version:     key.Version,
		Format:      format,
		Definition:  content,
		Fingerprint: schema.ComputeFingerprint(content),
		State:       schema.StateActive,
		StrictMode:  true,
		CreatedAt:   time.Now(),
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// List scans the tree for schemas, optionally limited to one event type.
func (r *FileSystemRepository) List(ctx context.Context, eventType string) ([]*schema.Schema, error) {
	if eventType != "" {
		return r.scanTypeDir(eventType)
	}

	entries, err := os.ReadDir(r.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*schema.Schema{}, nil
		}
		return nil, err
	}

	var result []*schema.Schema
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		schemas, err := r.scanTypeDir(entry.Name())
		if err != nil {
			return nil, err
		}
		result = append(result, schemas...)
	}
	return result, nil
}

// versionFromFileName parses "v<N>.yaml" or "v<N>.proto" file names.
func versionFromFileName(name string) (int, bool) {
	if !strings.HasPrefix(name, "v") {
		return 0, false
	}
	var trimmed string
	switch {
	case strings.HasSuffix(name, ".yaml"):
		trimmed = strings.TrimSuffix(name, ".yaml")
	case strings.HasSuffix(name, ".proto"):
		trimmed = strings.TrimSuffix(name, ".proto")
	default:
		return 0, false
	}
	version, err := strconv.Atoi(strings.TrimPrefix(trimmed, "v"))
	if err != nil {
		return 0, false
	}
	return version, true
}

func (r *FileSystemRepository) scanTypeDir(eventType string) ([]*schema.Schema, error) {
	entries, err := os.ReadDir(filepath.Join(r.rootDir, eventType))
	if err != nil {
		if os.IsNotExist(err) {
			return []*schema.Schema{}, nil
		}
		return nil, err
	}

	var schemas []*schema.Schema
	seen := make(map[int]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, ok := versionFromFileName(entry.Name())
		if !ok || seen[version] {
			continue
		}
		// Get applies the YAML-over-proto precedence for this version.
		s, err := r.Get(context.Background(), schema.Key{Type: eventType, Version: version})
		if err != nil {
			continue
		}
		schemas = append(schemas, s)
		seen[version] = true
	}
	return schemas, nil
}

// UpdateState is rejected; disk schemas have no mutable state.
func (r *FileSystemRepository) UpdateState(ctx context.Context, key schema.Key, state schema.State) error {
	return fmt.Errorf("update state not supported in filesystem mode")
}

// Delete is rejected; remove the definition file instead.
func (r *FileSystemRepository) Delete(ctx context.Context, key schema.Key) error {
	return fmt.Errorf("delete not supported in filesystem mode: please remove the file")
}
