package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/statkit/statkit/internal/schema"
	"github.com/statkit/statkit/internal/schema/formats/protobuf"
	"github.com/statkit/statkit/internal/schema/formats/yaml"
)

func newTwoFormatRegistry() *schema.FormatRegistry {
	registry := schema.NewFormatRegistry()
	registry.RegisterFormat(schema.FormatProtobuf, protobuf.NewCompiler(), protobuf.NewValidator())
	registry.RegisterFormat(schema.FormatYaml, yaml.NewCompiler(), yaml.NewValidator())
	return registry
}

func TestFormatRegistry_Lookup(t *testing.T) {
	registry := newTwoFormatRegistry()

	for _, format := range []schema.Format{schema.FormatProtobuf, schema.FormatYaml} {
		t.Run(string(format), func(t *testing.T) {
			compiler, err := registry.GetCompiler(format)
			require.NoError(t, err)
			require.NotNil(t, compiler)

			validator, err := registry.GetValidator(format)
			require.NoError(t, err)
			require.NotNil(t, validator)

			require.True(t, registry.IsFormatSupported(format))
		})
	}

	t.Run("unregistered format", func(t *testing.T) {
		_, err := registry.GetCompiler(schema.FormatJSON)
		require.ErrorContains(t, err, "unsupported schema format")

		_, err = registry.GetValidator(schema.FormatJSON)
		require.ErrorContains(t, err, "unsupported schema format")

		require.False(t, registry.IsFormatSupported(schema.FormatJSON))
	})
}

func TestFormatRegistry_SupportedFormats(t *testing.T) {
	registry := newTwoFormatRegistry()

	formats := registry.SupportedFormats()
	require.Len(t, formats, 2)
	require.Contains(t, formats, schema.FormatProtobuf)
	require.Contains(t, formats, schema.FormatYaml)
}

func TestInitializeValidator(t *testing.T) {
	require.NotNil(t, schema.InitializeValidator())
}
