package schema

import (
	"strings"
	"sync"

	"github.com/apifabric/jsonapi/apierror"
)

// ModelField describes one persisted column of a model.
type ModelField struct {
	Name   string
	Column string // defaults to Name when empty
	Type   *TypeSpec
}

// ColumnName returns the column backing the field.
func (f *ModelField) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// ModelRelationship describes how a relationship field is stored.
//
// For belongs_to the foreign key is a column on this model's table; for
// has_one/has_many it is a column on the target's table; has_many_through
// routes through JoinTable with ForeignKey pointing back at this model and
// AssociationKey pointing at the target.
type ModelRelationship struct {
	Kind           RelationType
	Target         string // target resource type
	ForeignKey     string
	JoinTable      string
	AssociationKey string
}

// Model is the persisted-entity description for one resource type: its
// table, identifier field, typed columns and storage relationships.
// Immutable once registered.
type Model struct {
	ResourceType string
	Table        string
	IDField      string

	// ClientGeneratedID allows POST bodies to carry data.id; otherwise the
	// store generates the identifier.
	ClientGeneratedID bool

	Fields        map[string]*ModelField
	Relationships map[string]*ModelRelationship
}

// NewModel creates a model with the conventional identifier field.
func NewModel(resourceType, table string) *Model {
	return &Model{
		ResourceType:  resourceType,
		Table:         table,
		IDField:       "id",
		Fields:        make(map[string]*ModelField),
		Relationships: make(map[string]*ModelRelationship),
	}
}

// Field returns the named field, if declared.
func (m *Model) Field(name string) (*ModelField, bool) {
	f, ok := m.Fields[name]
	return f, ok
}

// Relationship returns the named storage relationship, if declared.
func (m *Model) Relationship(name string) (*ModelRelationship, bool) {
	r, ok := m.Relationships[name]
	return r, ok
}

// IDColumn returns the column backing the identifier field.
func (m *Model) IDColumn() string {
	if f, ok := m.Fields[m.IDField]; ok {
		return f.ColumnName()
	}
	return m.IDField
}

// ModelRegistry maps resource type names to their models. Writes happen at
// startup or lazily on first use of a type; registration is register-or-get
// so initialization order does not matter.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewModelRegistry creates an empty model registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: make(map[string]*Model)}
}

// Register stores the model unless its resource type is already registered,
// and returns the registered model either way.
func (r *ModelRegistry) Register(m *Model) *Model {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[m.ResourceType]; ok {
		return existing
	}
	r.models[m.ResourceType] = m
	return m
}

// Lookup returns the model for a resource type, if registered.
func (r *ModelRegistry) Lookup(resourceType string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[resourceType]
	return m, ok
}

// Get returns the model for a resource type. A miss is an internal
// inconsistency, not a per-request input error.
func (r *ModelRegistry) Get(resourceType string) (*Model, error) {
	if m, ok := r.Lookup(resourceType); ok {
		return m, nil
	}
	return nil, apierror.NewInternal("not found model for resource_type " + quote(resourceType))
}

// RelationshipTarget resolves a relationship field on a resource type to the
// target model and the storage relationship.
func (r *ModelRegistry) RelationshipTarget(resourceType, field string) (*Model, *ModelRelationship, error) {
	m, err := r.Get(resourceType)
	if err != nil {
		return nil, nil, err
	}

	rel, ok := m.Relationship(field)
	if !ok {
		return nil, nil, apierror.NewInternal(
			"no relationship " + quote(field) + " on resource_type " + quote(resourceType))
	}

	target, err := r.Get(rel.Target)
	if err != nil {
		return nil, nil, err
	}
	return target, rel, nil
}

// List returns all registered resource type names.
func (r *ModelRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// quote quotes a name for error messages.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	b.WriteString(s)
	b.WriteByte('\'')
	return b.String()
}
