package yaml

import (
	"context"
	"fmt"
	"sort"

	"github.com/statkit/statkit/internal/schema"
)

// Validator checks event payloads against compiled YAML schemas.
type Validator struct{}

// NewValidator creates a new YAML validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateData checks the payload against the compiled YAML schema. In
// strict mode any field the schema does not declare fails the whole
// payload; otherwise each declared field is checked for presence and
// constraints and all failures are reported together.
func (v *Validator) ValidateData(ctx context.Context, compiled *schema.CompiledSchema, payload map[string]interface{}) error {
	spec, err := yamlSpec(compiled)
	if err != nil {
		return err
	}

	if compiled.StrictMode {
		if err := rejectUndeclared(compiled, spec, payload); err != nil {
			return err
		}
	}

	var failures []*schema.ValidationError
	for name, field := range spec.Fields {
		value, present := payload[name]
		switch {
		case !present && field.Required:
			failures = append(failures, fieldError(compiled, name, "required field is missing"))
		case !present:
			// optional and absent
		default:
			if err := checkValue(compiled, name, field, value); err != nil {
				failures = append(failures, asValidationError(compiled, name, err))
			}
		}
	}

	if len(failures) > 0 {
		return &schema.MultiValidationError{Errors: failures}
	}
	return nil
}

// yamlSpec unwraps the compiled representation back to a *SchemaSpec.
func yamlSpec(c *schema.CompiledSchema) (*SchemaSpec, error) {
	raw, err := c.GetYAMLSpec()
	if err != nil {
		return nil, err
	}
	spec, ok := raw.(*SchemaSpec)
	if !ok {
		return nil, fmt.Errorf("compiled schema is not a YAML SchemaSpec: %T", raw)
	}
	return spec, nil
}

// rejectUndeclared fails the payload when it carries fields the schema
// does not declare. Names are sorted so the error reads stably.
func rejectUndeclared(c *schema.CompiledSchema, spec *SchemaSpec, payload map[string]interface{}) error {
	var undeclared []string
	for key := range payload {
		if _, ok := spec.Fields[key]; !ok {
			undeclared = append(undeclared, key)
		}
	}
	if len(undeclared) == 0 {
		return nil
	}
	sort.Strings(undeclared)
	return schema.NewUnknownFieldsError(c.EventType, c.Version, undeclared)
}

// fieldError builds a ValidationError carrying the schema coordinates and
// the yaml format tag.
func fieldError(c *schema.CompiledSchema, field, format string, args ...interface{}) *schema.ValidationError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &schema.ValidationError{
		Schema:  c.EventType,
		Version: c.Version,
		Field:   field,
		Message: msg,
		Format:  string(schema.FormatYaml),
	}
}

// asValidationError tags a check failure with the yaml format, wrapping
// plain errors into ValidationErrors.
func asValidationError(c *schema.CompiledSchema, field string, err error) *schema.ValidationError {
	if ve, ok := err.(*schema.ValidationError); ok {
		ve.Format = string(schema.FormatYaml)
		return ve
	}
	return fieldError(c, field, "%s", err.Error())
}

// checkValue dispatches on the declared type. Null is only an error for
// required fields.
func checkValue(c *schema.CompiledSchema, name string, field *Field, value interface{}) error {
	if value == nil {
		if field.Required {
			return fieldError(c, name, "required field cannot be null")
		}
		return nil
	}

	switch field.Type {
	case "string":
		return checkString(c, name, field, value)
	case "boolean":
		if _, ok := value.(bool); !ok {
			return schema.NewTypeMismatchError(c.EventType, c.Version, name, "boolean", jsonTypeName(value))
		}
		return nil
	case "number":
		return checkNumber(c, name, field, value)
	default:
		return fieldError(c, name, "unknown field type: %s", field.Type)
	}
}

func checkString(c *schema.CompiledSchema, name string, field *Field, value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return schema.NewTypeMismatchError(c.EventType, c.Version, name, "string", jsonTypeName(value))
	}

	if len(field.Enum) > 0 && !stringInEnum(str, field.Enum) {
		return fieldError(c, name, "value %q not in enum %v", str, field.Enum)
	}
	if field.MinLength != nil && len(str) < *field.MinLength {
		return fieldError(c, name, "string length %d is less than minimum %d", len(str), *field.MinLength)
	}
	if field.MaxLength != nil && len(str) > *field.MaxLength {
		return fieldError(c, name, "string length %d exceeds maximum %d", len(str), *field.MaxLength)
	}
	if field.compiledPattern != nil && !field.compiledPattern.MatchString(str) {
		return fieldError(c, name, "string does not match pattern %q", field.Pattern)
	}
	return nil
}

// numberKind bounds one numeric kind. Integer kinds reject fractional
// values; double accepts anything float64 holds.
type numberKind struct {
	integer    bool
	bounded    bool
	min, max   float64
	rangeLabel string
}

var numberKinds = map[string]numberKind{
	"int32":  {integer: true, bounded: true, min: -2147483648, max: 2147483647, rangeLabel: "int32 (min: -2147483648, max: 2147483647)"},
	"int64":  {integer: true, bounded: true, min: -9223372036854775808, max: 9223372036854775807, rangeLabel: "int64"},
	"float":  {bounded: true, min: -3.4e38, max: 3.4e38, rangeLabel: "float32"},
	"double": {},
}

func checkNumber(c *schema.CompiledSchema, name string, field *Field, value interface{}) error {
	// JSON numbers arrive as float64; the YAML path can hand over int.
	num, ok := value.(float64)
	if !ok {
		i, isInt := value.(int)
		if !isInt {
			return schema.NewTypeMismatchError(c.EventType, c.Version, name, "number", jsonTypeName(value))
		}
		num = float64(i)
	}

	kind, known := numberKinds[field.Kind]
	if !known {
		return fieldError(c, name, "unknown number kind: %s", field.Kind)
	}
	if kind.integer && num != float64(int64(num)) {
		return fieldError(c, name, "expected integer, got float with fractional part")
	}
	if kind.bounded && (num < kind.min || num > kind.max) {
		return fieldError(c, name, "value %v out of range for %s", num, kind.rangeLabel)
	}

	if len(field.Enum) > 0 && !numberInEnum(num, field.Enum) {
		return fieldError(c, name, "value %v not in enum %v", num, field.Enum)
	}
	if field.Min != nil && num < *field.Min {
		return fieldError(c, name, "value %v is less than minimum %v", num, *field.Min)
	}
	if field.Max != nil && num > *field.Max {
		return fieldError(c, name, "value %v exceeds maximum %v", num, *field.Max)
	}
	return nil
}

func stringInEnum(s string, enum []interface{}) bool {
	for _, allowed := range enum {
		if str, ok := allowed.(string); ok && str == s {
			return true
		}
	}
	return false
}

func numberInEnum(n float64, enum []interface{}) bool {
	for _, allowed := range enum {
		switch v := allowed.(type) {
		case int:
			if float64(v) == n {
				return true
			}
		case int32:
			if float64(v) == n {
				return true
			}
		case int64:
			if float64(v) == n {
				return true
			}
		case float32:
			if float64(v) == n {
				return true
			}
		case float64:
			if v == n {
				return true
			}
		}
	}
	return false
}

// jsonTypeName names a decoded JSON value's type for error messages.
func jsonTypeName(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
