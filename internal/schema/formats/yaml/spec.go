package yaml

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaSpec is the runtime form of one YAML schema document.
type SchemaSpec struct {
	Event       string            `yaml:"event"`
	Version     int               `yaml:"version"`
	Description string            `yaml:"description,omitempty"`
	StrictMode  bool              `yaml:"strictMode,omitempty"`
	Fields      map[string]*Field `yaml:"fields"`
}

// Field is one declared payload field.
//
// Two declaration styles are accepted:
//
//	shorthand:  file_id: string!
//	long form:  file_key:
//	              type: string!
//	              minLength: 1
//
// Type names: string, bool, int32, int64, float, double. A trailing "!"
// marks the field required.
type Field struct {
	// Type is the internal tag ("string", "boolean", "number"), derived
	// from the user-facing type name during unmarshaling.
	Type string `yaml:"type"`

	// Kind is the numeric precision (int32, int64, float, double) for
	// Type "number". Never read from the document directly.
	Kind string `yaml:"-"`

	// Required rejects absent and null values. Set by the "!" suffix or
	// an explicit "required: true" in long form.
	Required bool `yaml:"required,omitempty"`

	// Enum restricts string and number values to a fixed set.
	Enum []interface{} `yaml:"enum,omitempty"`

	// Number bounds.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// String bounds.
	MinLength *int   `yaml:"minLength,omitempty"`
	MaxLength *int   `yaml:"maxLength,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`

	// Compiled during Validate so a bad regex fails registration.
	compiledPattern *regexp.Regexp `yaml:"-"`
}

// typeNames maps user-facing type names to the internal tag and kind.
var typeNames = map[string]Field{
	"string": {Type: "string"},
	"bool":   {Type: "boolean"},
	"int32":  {Type: "number", Kind: "int32"},
	"int64":  {Type: "number", Kind: "int64"},
	"float":  {Type: "number", Kind: "float"},
	"double": {Type: "number", Kind: "double"},
}

// UnmarshalYAML accepts both declaration styles. Long form decodes
// through an alias type to avoid recursing into this method.
func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return f.setType(value.Value)
	}

	type fieldAlias Field
	var alias fieldAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*f = Field(alias)

	if f.Type == "" {
		return fmt.Errorf("field missing 'type'")
	}
	return f.setType(f.Type)
}

// setType resolves a user-facing type name like "int64!" onto the
// receiver's Type, Kind and Required.
func (f *Field) setType(name string) error {
	if strings.HasSuffix(name, "!") {
		f.Required = true
		name = strings.TrimSuffix(name, "!")
	}
	base, ok := typeNames[name]
	if !ok {
		return fmt.Errorf("unsupported type %q (must be: string, bool, int32, int64, float, double)", name)
	}
	f.Type = base.Type
	f.Kind = base.Kind
	return nil
}

// Validate checks the document's structure. Called during compilation so
// definition errors surface at registration time.
func (s *SchemaSpec) Validate() error {
	if s.Event == "" {
		return fmt.Errorf("event type is required")
	}
	if s.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema must define at least one field")
	}

	for name, field := range s.Fields {
		if field == nil {
			return fmt.Errorf("field %q: type cannot be empty", name)
		}
		if err := field.check(); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// check validates one declaration against its type's allowed constraints.
func (f *Field) check() error {
	switch f.Type {
	case "string":
		return f.checkStringConstraints()
	case "boolean":
		return f.checkBooleanConstraints()
	case "number":
		return f.checkNumberConstraints()
	default:
		return fmt.Errorf("unsupported type %q (must be: string, bool, int32, int64, float, double)", f.Type)
	}
}

func (f *Field) checkStringConstraints() error {
	if f.MinLength != nil && *f.MinLength < 0 {
		return fmt.Errorf("minLength cannot be negative")
	}
	if f.MaxLength != nil && *f.MaxLength < 0 {
		return fmt.Errorf("maxLength cannot be negative")
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		return fmt.Errorf("minLength (%d) cannot exceed maxLength (%d)", *f.MinLength, *f.MaxLength)
	}

	if f.Pattern != "" {
		if len(f.Pattern) > 1000 {
			return fmt.Errorf("pattern too long (max 1000 chars)")
		}
		compiled, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		f.compiledPattern = compiled
	}

	for i, val := range f.Enum {
		if _, ok := val.(string); !ok {
			return fmt.Errorf("enum[%d]: expected string, got %T", i, val)
		}
	}
	return nil
}

func (f *Field) checkBooleanConstraints() error {
	if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
		return fmt.Errorf("boolean fields do not support length or pattern constraints")
	}
	if f.Min != nil || f.Max != nil {
		return fmt.Errorf("boolean fields do not support min/max constraints")
	}
	if len(f.Enum) > 0 {
		return fmt.Errorf("boolean fields do not support enum constraints")
	}
	return nil
}

func (f *Field) checkNumberConstraints() error {
	switch f.Kind {
	case "int32", "int64", "float", "double":
	case "":
		return fmt.Errorf("number type requires kind (int32, int64, float, or double)")
	default:
		return fmt.Errorf("invalid number kind %q (must be: int32, int64, float, double)", f.Kind)
	}

	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("min (%v) cannot exceed max (%v)", *f.Min, *f.Max)
	}

	for i, val := range f.Enum {
		switch val.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("enum[%d]: expected number, got %T", i, val)
		}
	}

	if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
		return fmt.Errorf("number fields do not support length or pattern constraints")
	}
	return nil
}
