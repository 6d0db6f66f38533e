package protobuf

import (
	"context"
	"fmt"
	"strings"

	"github.com/statkit/statkit/internal/schema"
	"github.com/bufbuild/protocompile"
)

// Compiler compiles .proto schema definitions into message descriptors.
type Compiler struct{}

// NewCompiler creates a new protobuf compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile turns the stored .proto source into a compiled schema. The first
// top-level message in the file becomes the payload shape.
func (c *Compiler) Compile(ctx context.Context, s *schema.Schema) (*schema.CompiledSchema, error) {
	if s.Format != schema.FormatProtobuf {
		return nil, fmt.Errorf("expected protobuf format, got %s", s.Format)
	}

	// The definition lives in the repository, not on disk; compile it
	// under a virtual file name derived from the event type and version.
	fileName := fmt.Sprintf("%s_v%d.proto", strings.ReplaceAll(s.Type, ".", "_"), s.Version)
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&memorySource{
			fileName: fileName,
			proto:    string(s.Definition),
		}),
		SourceInfoMode: protocompile.SourceInfoNone,
	}

	files, err := compiler.Compile(ctx, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to compile proto: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files compiled")
	}

	messages := files[0].Messages()
	if messages.Len() == 0 {
		return nil, fmt.Errorf("proto must define at least one message")
	}
	msgDesc := messages.Get(0)

	return &schema.CompiledSchema{
		EventType:       s.Type,
		Version:         s.Version,
		Format:          schema.FormatProtobuf,
		StrictMode:      s.StrictMode,
		ProtoDescriptor: &msgDesc,
	}, nil
}

// memorySource resolves exactly one virtual .proto file.
type memorySource struct {
	fileName string
	proto    string
}

func (r *memorySource) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if path != r.fileName {
		return protocompile.SearchResult{}, fmt.Errorf("file not found: %s", path)
	}
	return protocompile.SearchResult{Source: strings.NewReader(r.proto)}, nil
}
