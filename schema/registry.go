package schema

import (
	"fmt"
	"sync"

	"github.com/apifabric/jsonapi/apierror"
)

type variantKey struct {
	resourceType string
	operation    OperationKind
}

type relationshipKey struct {
	from      string
	to        string
	operation OperationKind
	field     string
}

// Registry stores the built VariantSets keyed by (resource type, operation)
// plus relationship metadata keyed by (from, to, operation, field) to
// disambiguate resources that relate to the same target through multiple
// fields. Lookup misses are internal inconsistencies: they signal a
// registration-order bug, not bad user input.
type Registry struct {
	mu            sync.RWMutex
	variants      map[variantKey]*VariantSet
	relationships map[relationshipKey]*RelationshipDescriptor
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		variants:      make(map[variantKey]*VariantSet),
		relationships: make(map[relationshipKey]*RelationshipDescriptor),
	}
}

// Has reports whether a variant set exists for the key.
func (r *Registry) Has(resourceType string, op OperationKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.variants[variantKey{resourceType, op}]
	return ok
}

// lookup returns the variant set for the key, if built.
func (r *Registry) lookup(resourceType string, op OperationKind) (*VariantSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vs, ok := r.variants[variantKey{resourceType, op}]
	return vs, ok
}

// add stores a variant set unless the key is already present. It returns
// the stored set, which callers must use in place of their own: concurrent
// duplicate builds race benignly because build is a pure function of the
// declaration.
func (r *Registry) add(vs *VariantSet) *VariantSet {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := variantKey{vs.ResourceType, vs.Operation}
	if existing, ok := r.variants[key]; ok {
		return existing
	}
	r.variants[key] = vs
	return vs
}

// addRelationship records relationship metadata for one built variant.
func (r *Registry) addRelationship(from string, op OperationKind, desc *RelationshipDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.relationships[relationshipKey{from, desc.Target, op, desc.FieldName}] = desc
}

// Variant returns the variant set for (resource type, operation).
func (r *Registry) Variant(resourceType string, op OperationKind) (*VariantSet, error) {
	if vs, ok := r.lookup(resourceType, op); ok {
		return vs, nil
	}
	return nil, apierror.NewInternal(
		fmt.Sprintf("no schema registered for resource_type %q operation %q", resourceType, op))
}

// DataSchema returns the full response schema for the key.
func (r *Registry) DataSchema(resourceType string, op OperationKind) (*DataSchema, error) {
	vs, err := r.Variant(resourceType, op)
	if err != nil {
		return nil, err
	}
	return vs.Data, nil
}

// AttributesSchema returns the attributes-only schema for the key.
func (r *Registry) AttributesSchema(resourceType string, op OperationKind) (*AttributesSchema, error) {
	vs, err := r.Variant(resourceType, op)
	if err != nil {
		return nil, err
	}
	return vs.Attributes, nil
}

// FieldSchema returns the per-field schema used for sparse-fieldset
// serialization.
func (r *Registry) FieldSchema(resourceType string, op OperationKind, field string) (*FieldSchema, error) {
	vs, err := r.Variant(resourceType, op)
	if err != nil {
		return nil, err
	}
	fs, ok := vs.FieldSchemas[field]
	if !ok {
		return nil, apierror.NewInvalidField(resourceType, field)
	}
	return fs, nil
}

// Relationship returns the descriptor for a relationship field of a
// resource type under one operation.
func (r *Registry) Relationship(resourceType string, op OperationKind, field string) (*RelationshipDescriptor, error) {
	vs, err := r.Variant(resourceType, op)
	if err != nil {
		return nil, err
	}
	desc, ok := vs.Relationships[field]
	if !ok {
		return nil, apierror.NewInternal(
			fmt.Sprintf("no relationship %q registered for resource_type %q operation %q", field, resourceType, op))
	}
	return desc, nil
}

// RelationshipBetween returns the descriptor for the exact
// (from, to, operation, field) key.
func (r *Registry) RelationshipBetween(from, to string, op OperationKind, field string) (*RelationshipDescriptor, error) {
	r.mu.RLock()
	desc, ok := r.relationships[relationshipKey{from, to, op, field}]
	r.mu.RUnlock()

	if !ok {
		return nil, apierror.NewInternal(
			fmt.Sprintf("no relationship %q registered between %q and %q for operation %q", field, from, to, op))
	}
	return desc, nil
}

// Validators returns the before/after validators of the key.
func (r *Registry) Validators(resourceType string, op OperationKind) (before, after []Validator, err error) {
	vs, err := r.Variant(resourceType, op)
	if err != nil {
		return nil, nil, err
	}
	return vs.Before, vs.After, nil
}

// FieldOperator resolves a custom filter operator declared on an attribute.
func (r *Registry) FieldOperator(resourceType string, op OperationKind, field, operator string) (FilterOperator, bool) {
	vs, ok := r.lookup(resourceType, op)
	if !ok {
		return nil, false
	}
	fs, ok := vs.FieldSchemas[field]
	if !ok || fs.Operators == nil {
		return nil, false
	}
	fn, ok := fs.Operators[operator]
	return fn, ok
}

// Count returns the number of built variant sets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.variants)
}
