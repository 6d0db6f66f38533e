package stats

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFieldDecimal(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]interface{}
		field string
		want  decimal.Decimal
	}{
		{
			name:  "empty field name",
			data:  map[string]interface{}{"size": 1},
			field: "",
			want:  decimal.Zero,
		},
		{
			name:  "missing field",
			data:  map[string]interface{}{"size": 1},
			field: "missing",
			want:  decimal.Zero,
		},
		{
			name:  "float64",
			data:  map[string]interface{}{"size": 12.5},
			field: "size",
			want:  decimal.RequireFromString("12.5"),
		},
		{
			name:  "float32",
			data:  map[string]interface{}{"size": float32(7.25)},
			field: "size",
			want:  decimal.RequireFromString("7.25"),
		},
		{
			name:  "int",
			data:  map[string]interface{}{"size": 7},
			field: "size",
			want:  decimal.NewFromInt(7),
		},
		{
			name:  "int64",
			data:  map[string]interface{}{"size": int64(9)},
			field: "size",
			want:  decimal.NewFromInt(9),
		},
		{
			name:  "valid decimal string",
			data:  map[string]interface{}{"size": "42.125"},
			field: "size",
			want:  decimal.RequireFromString("42.125"),
		},
		{
			name:  "invalid string returns zero",
			data:  map[string]interface{}{"size": "not-a-number"},
			field: "size",
			want:  decimal.Zero,
		},
		{
			name:  "unsupported type returns zero",
			data:  map[string]interface{}{"size": true},
			field: "size",
			want:  decimal.Zero,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FieldDecimal(tc.data, tc.field)
			require.True(t, tc.want.Equal(got), "want=%s got=%s", tc.want.String(), got.String())
		})
	}
}

func TestNumericValue(t *testing.T) {
	d, ok := NumericValue(float64(100))
	require.True(t, ok)
	require.True(t, decimal.NewFromInt(100).Equal(d))

	_, ok = NumericValue(nil)
	require.False(t, ok)

	_, ok = NumericValue(true)
	require.False(t, ok)

	d, ok = NumericValue("3.5")
	require.True(t, ok)
	require.True(t, decimal.RequireFromString("3.5").Equal(d))
}
