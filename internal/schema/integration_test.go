package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/statkit/statkit/internal/schema"
	"github.com/statkit/statkit/internal/schema/formats/protobuf"
	"github.com/statkit/statkit/internal/schema/formats/yaml"
)

func newBothFormatsValidator() *schema.Validator {
	v := schema.InitializeValidator()
	v.RegisterFormat(schema.FormatProtobuf, protobuf.NewCompiler(), protobuf.NewValidator())
	v.RegisterFormat(schema.FormatYaml, yaml.NewCompiler(), yaml.NewValidator())
	return v
}

// A record-view schema written twice, once per format, must accept and
// reject the same payloads.
func TestYamlProtoParity(t *testing.T) {
	ctx := context.Background()
	validator := newBothFormatsValidator()

	protoSchema := &schema.Schema{
		Type:    "record-view",
		Version: 1,
		Format:  schema.FormatProtobuf,
		Definition: []byte(`
syntax = "proto3";

message RecordView {
  string record_id = 1;
  string country = 2;
  int32 status_code = 3;
}
`),
		Fingerprint: schema.ComputeFingerprint([]byte("record-view-proto-v1")),
		StrictMode:  true,
	}

	// Registered as version 2 so the two compilations cache separately.
	yamlSchema := &schema.Schema{
		Type:    "record-view",
		Version: 2,
		Format:  schema.FormatYaml,
		Definition: []byte(`
event: record-view
version: 2
strictMode: true
fields:
  record_id:   string
  country:     string
  status_code: int32
`),
		Fingerprint: schema.ComputeFingerprint([]byte("record-view-yaml-v2")),
		StrictMode:  true,
	}

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name: "all fields",
			data: map[string]interface{}{
				"record_id":   "rec123",
				"country":     "CH",
				"status_code": float64(200),
			},
		},
		{
			name: "partial fields",
			data: map[string]interface{}{"record_id": "rec456"},
		},
		{
			name: "unknown field under strict mode",
			data: map[string]interface{}{
				"record_id":     "rec789",
				"unknown_field": "value",
			},
			wantErr: true,
		},
		{
			name: "wrong type",
			data: map[string]interface{}{
				"record_id":   "rec999",
				"status_code": "not a number",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			protoErr := validator.ValidateData(ctx, protoSchema, tt.data)
			yamlErr := validator.ValidateData(ctx, yamlSchema, tt.data)

			require.Equal(t, tt.wantErr, protoErr != nil, "proto result: %v", protoErr)
			require.Equal(t, tt.wantErr, yamlErr != nil, "yaml result: %v", yamlErr)
		})
	}
}

// Replacing a .proto definition with a .yaml one at the same
// type/version must not reuse the stale compilation: the cache key
// includes the fingerprint.
func TestCompileCacheKeyedByFingerprint(t *testing.T) {
	ctx := context.Background()
	validator := newBothFormatsValidator()

	yamlSchema := &schema.Schema{
		Type:    "file-preview",
		Version: 1,
		Format:  schema.FormatYaml,
		Definition: []byte(`
event: file-preview
version: 1
fields:
  file_id:   string!
  bucket_id: string
`),
		Fingerprint: schema.ComputeFingerprint([]byte("file-preview-yaml")),
		StrictMode:  true,
	}

	protoSchema := &schema.Schema{
		Type:    "file-preview",
		Version: 1,
		Format:  schema.FormatProtobuf,
		Definition: []byte(`
syntax = "proto3";
message FilePreview {
  string file_id = 1;
  string bucket_id = 2;
  string referrer = 3;
}
`),
		Fingerprint: schema.ComputeFingerprint([]byte("file-preview-proto")),
		StrictMode:  true,
	}

	minimal := map[string]interface{}{"file_id": "F1"}
	withReferrer := map[string]interface{}{
		"file_id":  "F1",
		"referrer": "https://example.org/records/42",
	}

	// The yaml schema does not declare referrer, the proto one does.
	require.NoError(t, validator.ValidateData(ctx, yamlSchema, minimal))
	require.Error(t, validator.ValidateData(ctx, yamlSchema, withReferrer))

	require.NoError(t, validator.ValidateData(ctx, protoSchema, withReferrer))

	// The yaml compilation must still be the one answering for the
	// yaml schema.
	require.Error(t, validator.ValidateData(ctx, yamlSchema, withReferrer))
}

// Fifty goroutines hitting a cold validator must all succeed while
// singleflight collapses the compilations.
func TestConcurrentCompilation(t *testing.T) {
	ctx := context.Background()
	validator := newBothFormatsValidator()

	s := &schema.Schema{
		Type:    "search-query",
		Version: 1,
		Format:  schema.FormatYaml,
		Definition: []byte(`
event: search-query
version: 1
fields:
  terms: string
`),
		Fingerprint: schema.ComputeFingerprint([]byte("search-query-yaml")),
		StrictMode:  true,
	}

	payload := map[string]interface{}{"terms": "climate AND glacier"}

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			return validator.ValidateData(ctx, s, payload)
		})
	}
	require.NoError(t, g.Wait())
}

// A v2 schema that relaxes a required field keeps accepting v1
// payloads while the v1 schema keeps rejecting v2-only ones.
func TestSchemaEvolution(t *testing.T) {
	ctx := context.Background()
	validator := newBothFormatsValidator()

	v1 := &schema.Schema{
		Type:    "file-download",
		Version: 1,
		Format:  schema.FormatYaml,
		Definition: []byte(`
event: file-download
version: 1
fields:
  file_id:   string!
  bucket_id: string!
`),
		Fingerprint: schema.ComputeFingerprint([]byte("file-download-v1")),
		StrictMode:  true,
	}

	// v2 makes bucket_id optional and adds file_key.
	v2 := &schema.Schema{
		Type:    "file-download",
		Version: 2,
		Format:  schema.FormatYaml,
		Definition: []byte(`
event: file-download
version: 2
fields:
  file_id:   string!
  bucket_id: string
  file_key:  string
`),
		Fingerprint: schema.ComputeFingerprint([]byte("file-download-v2")),
		StrictMode:  true,
	}

	oldPayload := map[string]interface{}{
		"file_id":   "F1",
		"bucket_id": "B1",
	}
	newPayload := map[string]interface{}{
		"file_id":  "F2",
		"file_key": "paper.pdf",
	}

	require.NoError(t, validator.ValidateData(ctx, v1, oldPayload))
	require.Error(t, validator.ValidateData(ctx, v1, newPayload), "v1 requires bucket_id")

	require.NoError(t, validator.ValidateData(ctx, v2, oldPayload))
	require.NoError(t, validator.ValidateData(ctx, v2, newPayload))
}

// Validation failures carry the schema format so operators can tell
// which definition file produced them.
func TestValidationErrorsCarryFormat(t *testing.T) {
	ctx := context.Background()
	validator := newBothFormatsValidator()

	s := &schema.Schema{
		Type:    "record-view",
		Version: 1,
		Format:  schema.FormatYaml,
		Definition: []byte(`
event: record-view
version: 1
strictMode: true
fields:
  record_id: string!
`),
		Fingerprint: schema.ComputeFingerprint([]byte("record-view-format-tag")),
		StrictMode:  true,
	}

	err := validator.ValidateData(ctx, s, map[string]interface{}{})
	require.Error(t, err)

	var multi *schema.MultiValidationError
	require.ErrorAs(t, err, &multi)
	require.NotEmpty(t, multi.Errors)
	require.Equal(t, string(schema.FormatYaml), multi.Errors[0].Format)
	require.Equal(t, "record_id", multi.Errors[0].Field)
}
