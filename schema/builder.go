package schema

// Builder synthesizes VariantSets from user declarations and populates the
// schema registry. Building is idempotent per (resource type, operation):
// a second build for the same key returns the cached set unchanged, which is
// also what makes recursive generation over cyclic relationship graphs
// terminate.
type Builder struct {
	models  *ModelRegistry
	schemas *Registry
}

// NewBuilder creates a builder over the given registries.
func NewBuilder(models *ModelRegistry, schemas *Registry) *Builder {
	return &Builder{models: models, schemas: schemas}
}

// Build produces and registers the variant set for (resource type,
// operation) from the declaration. Relationship targets are built
// recursively for the read operation so that includes of any declared
// relationship can always be served.
func (b *Builder) Build(resourceType string, op OperationKind, decl *Declaration) (*VariantSet, error) {
	if vs, ok := b.schemas.lookup(resourceType, op); ok {
		return vs, nil
	}

	if decl == nil {
		return nil, &ResolutionError{ResourceType: resourceType, Reason: "no schema declaration supplied"}
	}
	if decl.Model == nil {
		return nil, &ResolutionError{ResourceType: resourceType, Reason: "declaration has no model"}
	}

	model := b.models.Register(decl.Model)

	attrs, fieldSchemas, relDecls, err := b.partitionFields(resourceType, model, decl)
	if err != nil {
		return nil, err
	}

	relationships := make(map[string]*RelationshipDescriptor, len(relDecls))
	for name, rd := range relDecls {
		idField := rd.IDField
		if idField == "" {
			idField = rd.Schema.Model.IDField
		}
		relationships[name] = &RelationshipDescriptor{
			FieldName: name,
			Target:    rd.Schema.ResourceType,
			Many:      rd.Many,
			IDField:   idField,
		}
	}

	before, after := collectValidators(decl)

	vs := &VariantSet{
		ResourceType: resourceType,
		Operation:    op,
		Attributes:   attrs,
		Data: &DataSchema{
			ResourceType:  resourceType,
			Attributes:    attrs,
			Relationships: relationships,
		},
		FieldSchemas:  fieldSchemas,
		Relationships: relationships,
		Before:        before,
		After:         after,
	}

	// Register before recursing so that self-referential and mutually
	// recursive declarations hit the memo instead of looping.
	vs = b.schemas.add(vs)
	for _, desc := range relationships {
		b.schemas.addRelationship(resourceType, op, desc)
	}

	for name, rd := range relDecls {
		target := rd.Schema
		if target.Model == nil {
			return nil, &ResolutionError{
				ResourceType: resourceType,
				Field:        name,
				Reason:       "relationship target declaration has no model",
			}
		}
		b.models.Register(target.Model)

		if b.schemas.Has(target.ResourceType, OpRead) {
			continue
		}
		if _, err := b.Build(target.ResourceType, OpRead, target); err != nil {
			return nil, err
		}
	}

	return vs, nil
}

// partitionFields splits declared fields into the attributes-only schema,
// the per-field schemas, and the relationship declarations, validating each
// attribute against the model and each relationship against the model's
// storage relationships.
func (b *Builder) partitionFields(
	resourceType string,
	model *Model,
	decl *Declaration,
) (*AttributesSchema, map[string]*FieldSchema, map[string]*RelationshipDecl, error) {
	fieldSchemas := make(map[string]*FieldSchema)
	relDecls := make(map[string]*RelationshipDecl)

	for _, field := range decl.Fields {
		switch field.Kind {
		case KindAttribute:
			if field.Type == nil {
				return nil, nil, nil, &ResolutionError{
					ResourceType: resourceType,
					Field:        field.Name,
					Reason:       "attribute declared without a type",
				}
			}
			if _, ok := model.Field(field.Name); !ok {
				return nil, nil, nil, &ResolutionError{
					ResourceType: resourceType,
					Field:        field.Name,
					Reason:       "attribute has no corresponding model field",
				}
			}
			fieldSchemas[field.Name] = &FieldSchema{
				Name:      field.Name,
				Type:      field.Type,
				Operators: field.Operators,
			}

		case KindRelationship:
			if field.Relationship == nil || field.Relationship.Schema == nil {
				return nil, nil, nil, &ResolutionError{
					ResourceType: resourceType,
					Field:        field.Name,
					Reason:       "relationship declared without a target schema",
				}
			}
			if _, ok := model.Relationship(field.Name); !ok {
				return nil, nil, nil, &ResolutionError{
					ResourceType: resourceType,
					Field:        field.Name,
					Reason:       "relationship has no corresponding model relationship",
				}
			}
			relDecls[field.Name] = field.Relationship

		default:
			return nil, nil, nil, &ResolutionError{
				ResourceType: resourceType,
				Field:        field.Name,
				Reason:       "unknown field kind",
			}
		}
	}

	attrs := &AttributesSchema{
		ResourceType: resourceType,
		Fields:       fieldSchemas,
	}
	return attrs, fieldSchemas, relDecls, nil
}
