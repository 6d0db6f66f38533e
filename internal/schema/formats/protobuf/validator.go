package protobuf

import (
	"context"
	"fmt"
	"sort"

	"github.com/statkit/statkit/internal/schema"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Validator checks event payloads against compiled protobuf schemas.
type Validator struct{}

// NewValidator creates a new protobuf validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateData checks the payload against the compiled message descriptor.
func (v *Validator) ValidateData(ctx context.Context, compiled *schema.CompiledSchema, payload map[string]interface{}) error {
	msgDesc, err := compiled.GetProtoDescriptor()
	if err != nil {
		return err
	}
	return v.checkMessage(compiled, msgDesc, payload)
}

// checkMessage validates a JSON object against one message descriptor,
// recursing through nested messages.
func (v *Validator) checkMessage(s *schema.CompiledSchema, md protoreflect.MessageDescriptor, payload map[string]interface{}) error {
	index := fieldIndex(md)

	if s.StrictMode {
		var undeclared []string
		for key := range payload {
			if _, ok := index[key]; !ok {
				undeclared = append(undeclared, key)
			}
		}
		if len(undeclared) > 0 {
			sort.Strings(undeclared)
			return schema.NewUnknownFieldsError(s.EventType, s.Version, undeclared)
		}
	}

	var failures []*schema.ValidationError
	for key, value := range payload {
		fd, declared := index[key]
		if !declared {
			// lenient mode passes undeclared fields through
			continue
		}
		if err := v.checkField(s, fd, value); err != nil {
			if ve, ok := err.(*schema.ValidationError); ok {
				failures = append(failures, ve)
			} else {
				failures = append(failures, &schema.ValidationError{
					Schema:  s.EventType,
					Version: s.Version,
					Field:   key,
					Message: err.Error(),
				})
			}
		}
	}

	if len(failures) > 0 {
		return &schema.MultiValidationError{Errors: failures}
	}
	return nil
}

// fieldIndex maps both JSON and proto field names to their descriptors.
func fieldIndex(md protoreflect.MessageDescriptor) map[string]protoreflect.FieldDescriptor {
	fields := md.Fields()
	index := make(map[string]protoreflect.FieldDescriptor, fields.Len()*2)
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		index[fd.JSONName()] = fd
		index[string(fd.Name())] = fd
	}
	return index
}

// checkField handles the field's cardinality. Null is always accepted,
// proto3 fields are optional.
func (v *Validator) checkField(s *schema.CompiledSchema, fd protoreflect.FieldDescriptor, value interface{}) error {
	name := fd.JSONName()
	if value == nil {
		return nil
	}

	switch {
	case fd.IsList():
		items, ok := value.([]interface{})
		if !ok {
			return schema.NewTypeMismatchError(s.EventType, s.Version, name, "array", jsonTypeName(value))
		}
		for i, item := range items {
			if err := v.checkScalar(s, fd, fmt.Sprintf("%s[%d]", name, i), item); err != nil {
				return err
			}
		}
		return nil
	case fd.IsMap():
		entries, ok := value.(map[string]interface{})
		if !ok {
			return schema.NewTypeMismatchError(s.EventType, s.Version, name, "object", jsonTypeName(value))
		}
		valueDesc := fd.MapValue()
		for key, entry := range entries {
			if err := v.checkScalar(s, valueDesc, fmt.Sprintf("%s[%q]", name, key), entry); err != nil {
				return err
			}
		}
		return nil
	default:
		return v.checkScalar(s, fd, name, value)
	}
}

// scalarRule pairs the JSON shapes a proto kind accepts with the type
// name reported on mismatch.
type scalarRule struct {
	want   string
	accept func(interface{}) bool
}

var scalarRules = map[protoreflect.Kind]scalarRule{
	protoreflect.BoolKind:     {want: "bool", accept: isBool},
	protoreflect.Int32Kind:    {want: "integer", accept: isSignedNumber},
	protoreflect.Sint32Kind:   {want: "integer", accept: isSignedNumber},
	protoreflect.Sfixed32Kind: {want: "integer", accept: isSignedNumber},
	protoreflect.Int64Kind:    {want: "integer", accept: isSignedNumber},
	protoreflect.Sint64Kind:   {want: "integer", accept: isSignedNumber},
	protoreflect.Sfixed64Kind: {want: "integer", accept: isSignedNumber},
	protoreflect.Uint32Kind:   {want: "unsigned integer", accept: isUnsignedNumber},
	protoreflect.Fixed32Kind:  {want: "unsigned integer", accept: isUnsignedNumber},
	protoreflect.Uint64Kind:   {want: "unsigned integer", accept: isUnsignedNumber},
	protoreflect.Fixed64Kind:  {want: "unsigned integer", accept: isUnsignedNumber},
	protoreflect.FloatKind:    {want: "number", accept: isFloatNumber},
	protoreflect.DoubleKind:   {want: "number", accept: isFloatNumber},
	protoreflect.StringKind:   {want: "string", accept: isString},
	protoreflect.BytesKind:    {want: "string (base64)", accept: isString},
	protoreflect.EnumKind:     {want: "string or integer (enum)", accept: isEnumValue},
}

// checkScalar validates one scalar value. Message kinds recurse with the
// nested descriptor; kinds outside the rule table (groups) pass through.
func (v *Validator) checkScalar(s *schema.CompiledSchema, fd protoreflect.FieldDescriptor, path string, value interface{}) error {
	if value == nil {
		return nil
	}

	if fd.Kind() == protoreflect.MessageKind {
		nested, ok := value.(map[string]interface{})
		if !ok {
			return schema.NewTypeMismatchError(s.EventType, s.Version, path, "object", jsonTypeName(value))
		}
		md := fd.Message()
		return v.checkMessage(&schema.CompiledSchema{
			EventType:       s.EventType,
			Version:         s.Version,
			Format:          schema.FormatProtobuf,
			StrictMode:      s.StrictMode,
			ProtoDescriptor: &md,
		}, md, nested)
	}

	rule, known := scalarRules[fd.Kind()]
	if !known {
		return nil
	}
	if !rule.accept(value) {
		return schema.NewTypeMismatchError(s.EventType, s.Version, path, rule.want, jsonTypeName(value))
	}
	return nil
}

func isBool(v interface{}) bool {
	_, ok := v.(bool)
	return ok
}

func isString(v interface{}) bool {
	_, ok := v.(string)
	return ok
}

func isSignedNumber(v interface{}) bool {
	switch v.(type) {
	case float64, int, int32, int64:
		return true
	}
	return false
}

func isUnsignedNumber(v interface{}) bool {
	switch v.(type) {
	case float64, int, int32, int64, uint, uint32, uint64:
		return true
	}
	return false
}

func isFloatNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

// isEnumValue accepts the enum's name or its number.
func isEnumValue(v interface{}) bool {
	switch v.(type) {
	case string, float64, int:
		return true
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
