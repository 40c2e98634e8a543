// Package schema provides the resource model registry, the declared-schema
// types, and the builder that synthesizes the per-operation schema variants
// every other component consumes.
package schema

import "fmt"

// PrimitiveType represents the built-in attribute types.
type PrimitiveType int

const (
	// Text types
	TypeString PrimitiveType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Unique identifiers
	TypeUUID

	// Semi-structured
	TypeJSON
)

// String returns the string representation of the primitive type.
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// IsNumeric returns true if the type is a numeric type.
func (p PrimitiveType) IsNumeric() bool {
	return p == TypeInt || p == TypeBigInt || p == TypeFloat || p == TypeDecimal
}

// IsText returns true if the type is a text type.
func (p PrimitiveType) IsText() bool {
	return p == TypeString || p == TypeText
}

// TypeSpec is a complete attribute type specification with nullability.
type TypeSpec struct {
	BaseType PrimitiveType
	Nullable bool
}

// String returns a string representation of the TypeSpec.
func (t *TypeSpec) String() string {
	s := t.BaseType.String()
	if t.Nullable {
		return s + "?"
	}
	return s + "!"
}

// RelationType represents how a relationship is stored.
type RelationType int

const (
	RelationshipBelongsTo RelationType = iota
	RelationshipHasOne
	RelationshipHasMany
	RelationshipHasManyThrough
)

// String returns the string representation of the relationship type.
func (r RelationType) String() string {
	switch r {
	case RelationshipBelongsTo:
		return "belongs_to"
	case RelationshipHasOne:
		return "has_one"
	case RelationshipHasMany:
		return "has_many"
	case RelationshipHasManyThrough:
		return "has_many_through"
	default:
		return "unknown"
	}
}

// ToMany reports whether the relationship yields a collection.
func (r RelationType) ToMany() bool {
	return r == RelationshipHasMany || r == RelationshipHasManyThrough
}

// OperationKind distinguishes the schema variant families.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpRead   OperationKind = "read"
)

// FilterOperator builds a SQL predicate fragment for a custom filter
// operator. column is the fully qualified column reference; bind registers
// a query argument and returns its placeholder.
type FilterOperator func(column string, value interface{}, bind func(interface{}) string) (string, error)

// FieldKind tags a declared field as either a plain attribute or a
// relationship reference.
type FieldKind int

const (
	KindAttribute FieldKind = iota
	KindRelationship
)

// String returns the string representation of the field kind.
func (k FieldKind) String() string {
	switch k {
	case KindAttribute:
		return "attribute"
	case KindRelationship:
		return "relationship"
	default:
		return "unknown"
	}
}

// RelationshipDecl describes a declared relationship field: the declaration
// of the target resource, the cardinality, and an optional override for the
// field used when building linkage objects.
type RelationshipDecl struct {
	Schema  *Declaration
	Many    bool
	IDField string
}

// DeclaredField is one field of a user-declared schema. Exactly one of Type
// (for attributes) or Relationship (for relationship fields) is set,
// according to Kind.
type DeclaredField struct {
	Name         string
	Kind         FieldKind
	Type         *TypeSpec
	Relationship *RelationshipDecl

	// Extra filter operators available on this attribute, looked up by name
	// at filter-compile time.
	Operators map[string]FilterOperator
}

// Declaration is a user-declared schema for one resource type and operation
// family. Extends composes validators from a parent declaration (parent
// validators run before the child's own within each phase).
type Declaration struct {
	ResourceType string
	Model        *Model
	Extends      *Declaration
	Fields       []DeclaredField
	Validators   []Validator
}

// Attribute declares a plain attribute field.
func Attribute(name string, spec *TypeSpec) DeclaredField {
	return DeclaredField{Name: name, Kind: KindAttribute, Type: spec}
}

// Relationship declares a relationship field targeting another declaration.
func Relationship(name string, target *Declaration, many bool) DeclaredField {
	return DeclaredField{
		Name: name,
		Kind: KindRelationship,
		Relationship: &RelationshipDecl{
			Schema: target,
			Many:   many,
		},
	}
}

// ResolutionError is a build-time schema failure. It is fatal: resource
// registration surfaces it at application startup.
type ResolutionError struct {
	ResourceType string
	Field        string
	Reason       string
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema resolution failed for %s.%s: %s", e.ResourceType, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema resolution failed for %s: %s", e.ResourceType, e.Reason)
}
