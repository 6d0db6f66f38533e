package stats

import "github.com/shopspring/decimal"

// NumericValue converts a payload value into an exact decimal. The second
// return is false when the value is not a recognized numeric type.
// JSON numbers unmarshal to float64 in Go — that's the common path;
// NewFromFloat converts it to an exact decimal representation.
func NumericValue(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat(float64(val)), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case string:
		d, err := decimal.NewFromString(val)
		if err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

// FieldDecimal pulls a numeric value from an event payload by field name.
// Returns decimal.Zero if the field is missing, empty, or not numeric.
func FieldDecimal(data map[string]interface{}, field string) decimal.Decimal {
	if field == "" {
		return decimal.Zero
	}
	d, _ := NumericValue(data[field])
	return d
}
