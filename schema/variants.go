package schema

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// RelationshipDescriptor is the built form of one relationship field: the
// target resource type, the cardinality, and the identifier field used when
// building linkage objects. Immutable once built.
type RelationshipDescriptor struct {
	FieldName string
	Target    string
	Many      bool
	IDField   string
}

// FieldSchema validates and coerces a single attribute.
type FieldSchema struct {
	Name      string
	Type      *TypeSpec
	Operators map[string]FilterOperator
}

// Validate coerces a raw value to the field's type. A nil value is only
// accepted for nullable fields.
func (fs *FieldSchema) Validate(value interface{}) (interface{}, error) {
	if value == nil {
		if fs.Type.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("field %s may not be null", fs.Name)
	}
	return coerceValue(fs.Name, fs.Type.BaseType, value)
}

// AttributesSchema is the attributes-only schema of a variant set: no id,
// no type, no relationships.
type AttributesSchema struct {
	ResourceType string
	Fields       map[string]*FieldSchema
}

// Validate coerces every present attribute. Unknown attributes are
// rejected.
func (as *AttributesSchema) Validate(attrs map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(attrs))
	for name, value := range attrs {
		fs, ok := as.Fields[name]
		if !ok {
			return nil, fmt.Errorf("unknown attribute %q for resource type %q", name, as.ResourceType)
		}
		coerced, err := fs.Validate(value)
		if err != nil {
			return nil, err
		}
		result[name] = coerced
	}
	return result, nil
}

// DataSchema shapes the full response object: id + type + attributes, with
// relationship linkage merged in by the assembler.
type DataSchema struct {
	ResourceType  string
	Attributes    *AttributesSchema
	Relationships map[string]*RelationshipDescriptor
}

// Object builds the id/type/attributes envelope for one serialized item.
func (d *DataSchema) Object(id string, attrs map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"type":       d.ResourceType,
		"attributes": attrs,
	}
}

// VariantSet is the schema family generated for one (resource type,
// operation) pair. Built once by the Builder and cached in the Registry for
// the process lifetime.
type VariantSet struct {
	ResourceType string
	Operation    OperationKind

	Attributes    *AttributesSchema
	Data          *DataSchema
	FieldSchemas  map[string]*FieldSchema
	Relationships map[string]*RelationshipDescriptor

	Before []Validator
	After  []Validator
}

// ApplyAttributes runs the full validation pipeline over an attribute map:
// before validators, per-field coercion, then after validators.
func (v *VariantSet) ApplyAttributes(attrs map[string]interface{}) (map[string]interface{}, error) {
	working := make(map[string]interface{}, len(attrs))
	for k, val := range attrs {
		working[k] = val
	}

	working, err := runValidators(v.Before, working)
	if err != nil {
		return nil, err
	}

	coerced, err := v.Attributes.Validate(working)
	if err != nil {
		return nil, err
	}

	return runValidators(v.After, coerced)
}

// ApplyField validates one attribute in isolation: the value passes through
// the before validators, its own field schema, and the after validators
// without ever seeing sibling fields.
func (v *VariantSet) ApplyField(name string, value interface{}) (interface{}, error) {
	fs, ok := v.FieldSchemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown attribute %q for resource type %q", name, v.ResourceType)
	}

	single := map[string]interface{}{name: value}
	single, err := runValidators(v.Before, single)
	if err != nil {
		return nil, err
	}

	coerced, err := fs.Validate(single[name])
	if err != nil {
		return nil, err
	}

	single[name] = coerced
	single, err = runValidators(v.After, single)
	if err != nil {
		return nil, err
	}
	return single[name], nil
}

// coerceValue converts a raw (usually JSON-decoded) value into the Go
// representation for the primitive type.
func coerceValue(field string, base PrimitiveType, value interface{}) (interface{}, error) {
	switch base {
	case TypeString, TypeText:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("field %s expects a string, got %T", field, value)

	case TypeInt, TypeBigInt:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("field %s expects an integer, got %v", field, n)
			}
			return int64(n), nil
		}
		return nil, fmt.Errorf("field %s expects an integer, got %T", field, value)

	case TypeFloat, TypeDecimal:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("field %s expects a number, got %T", field, value)

	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("field %s expects a boolean, got %T", field, value)

	case TypeTimestamp:
		switch t := value.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return nil, fmt.Errorf("field %s expects an RFC3339 timestamp: %w", field, err)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("field %s expects a timestamp, got %T", field, value)

	case TypeDate:
		switch t := value.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse("2006-01-02", t)
			if err != nil {
				return nil, fmt.Errorf("field %s expects a YYYY-MM-DD date: %w", field, err)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("field %s expects a date, got %T", field, value)

	case TypeUUID:
		if s, ok := value.(string); ok {
			parsed, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("field %s expects a UUID: %w", field, err)
			}
			return parsed.String(), nil
		}
		if u, ok := value.(uuid.UUID); ok {
			return u.String(), nil
		}
		return nil, fmt.Errorf("field %s expects a UUID, got %T", field, value)

	case TypeJSON:
		return value, nil

	default:
		return nil, fmt.Errorf("field %s has unsupported type %s", field, base)
	}
}
