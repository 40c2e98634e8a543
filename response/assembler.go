package response

import (
	"fmt"
	"sort"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/params"
	"github.com/apifabric/jsonapi/schema"
)

// Assembler turns loaded records into JSON:API resource objects. Includes
// must already be attached to the records under their relationship field
// names.
type Assembler struct {
	models  *schema.ModelRegistry
	schemas *schema.Registry
}

// NewAssembler creates an assembler over the registries.
func NewAssembler(models *schema.ModelRegistry, schemas *schema.Registry) *Assembler {
	return &Assembler{models: models, schemas: schemas}
}

type refKey struct {
	Type string
	ID   string
}

// includedSet collects compound-document members keyed by (type, id). The
// first build of a key wins; the reservation before recursion is what keeps
// cyclic include graphs from looping. Linkage produced for a key that is
// still being built is parked in pending and merged once the item lands.
type includedSet struct {
	items   map[refKey]map[string]interface{}
	pending map[refKey]map[string]interface{}
}

func newIncludedSet() *includedSet {
	return &includedSet{
		items:   make(map[refKey]map[string]interface{}),
		pending: make(map[refKey]map[string]interface{}),
	}
}

// merge folds relationship linkage into an already-collected member. Heads
// the member already carries keep their first linkage.
func (s *includedSet) merge(key refKey, rels map[string]interface{}) {
	if len(rels) == 0 {
		return
	}
	if item := s.items[key]; item != nil {
		mergeRelationships(item, rels)
		return
	}
	if s.pending[key] == nil {
		s.pending[key] = make(map[string]interface{}, len(rels))
	}
	for name, linkage := range rels {
		if _, ok := s.pending[key][name]; !ok {
			s.pending[key][name] = linkage
		}
	}
}

func (s *includedSet) applyPending(key refKey, item map[string]interface{}) {
	if rels, ok := s.pending[key]; ok {
		mergeRelationships(item, rels)
		delete(s.pending, key)
	}
}

func mergeRelationships(item, rels map[string]interface{}) {
	existing, _ := item["relationships"].(map[string]interface{})
	if existing == nil {
		existing = make(map[string]interface{}, len(rels))
	}
	for name, linkage := range rels {
		if _, ok := existing[name]; !ok {
			existing[name] = linkage
		}
	}
	item["relationships"] = existing
}

func (s *includedSet) sorted() []map[string]interface{} {
	keys := make([]refKey, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID < keys[j].ID
	})

	out := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		if item := s.items[key]; item != nil {
			out = append(out, item)
		}
	}
	return out
}

// BuildDetail assembles the single-resource document for one record.
func (a *Assembler) BuildDetail(resourceType string, op schema.OperationKind, record map[string]interface{}, p *params.Parsed) (*Document, error) {
	if p == nil {
		p = &params.Parsed{}
	}

	set := newIncludedSet()
	item, err := a.buildItem(resourceType, op, record, p.Includes, p, set)
	if err != nil {
		return nil, err
	}

	doc := newDocument(item)
	doc.Included = set.sorted()
	return doc, nil
}

// BuildList assembles the collection document with count and page metadata.
func (a *Assembler) BuildList(resourceType string, op schema.OperationKind, records []map[string]interface{}, p *params.Parsed, count, totalPages int) (*Document, error) {
	if p == nil {
		p = &params.Parsed{}
	}

	set := newIncludedSet()
	items := make([]interface{}, 0, len(records))
	for _, record := range records {
		item, err := a.buildItem(resourceType, op, record, p.Includes, p, set)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	doc := newDocument(items)
	doc.Included = set.sorted()
	doc.Meta = map[string]interface{}{
		"count":      count,
		"totalPages": totalPages,
	}
	return doc, nil
}

// buildItem serializes one record: identifier, sparse-fielded attributes,
// and linkage plus compound members for each included relationship.
func (a *Assembler) buildItem(resourceType string, op schema.OperationKind, record map[string]interface{}, includes []params.IncludePath, p *params.Parsed, set *includedSet) (map[string]interface{}, error) {
	model, err := a.models.Get(resourceType)
	if err != nil {
		return nil, err
	}
	vs, err := a.schemas.Variant(resourceType, op)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprint(record[model.IDColumn()])

	attrs, err := a.buildAttributes(resourceType, op, model, vs, record, p)
	if err != nil {
		return nil, err
	}
	item := vs.Data.Object(id, attrs)

	relationships, err := a.buildRelationships(resourceType, op, record, includes, p, set)
	if err != nil {
		return nil, err
	}
	if relationships != nil {
		item["relationships"] = relationships
	}

	return item, nil
}

// buildRelationships renders the relationship members for the include heads
// of a record, recursing into the attached records. Returns nil when there
// are no includes.
func (a *Assembler) buildRelationships(resourceType string, op schema.OperationKind, record map[string]interface{}, includes []params.IncludePath, p *params.Parsed, set *includedSet) (map[string]interface{}, error) {
	heads, tails := params.GroupByHead(includes)
	if len(heads) == 0 {
		return nil, nil
	}

	relationships := make(map[string]interface{}, len(heads))
	for _, head := range heads {
		desc, err := a.schemas.Relationship(resourceType, op, head)
		if err != nil {
			return nil, err
		}
		linkage, err := a.buildLinkage(desc, record[head], tails[head], p, set)
		if err != nil {
			return nil, err
		}
		relationships[head] = linkage
	}
	return relationships, nil
}

// buildAttributes applies the sparse fieldset of the resource type. An
// absent selector keeps every declared attribute, the empty selector drops
// them all, and unknown names in the selector are rejected.
func (a *Assembler) buildAttributes(resourceType string, op schema.OperationKind, model *schema.Model, vs *schema.VariantSet, record map[string]interface{}, p *params.Parsed) (map[string]interface{}, error) {
	attrs := make(map[string]interface{})

	selector, selected := p.Fields[resourceType]
	var names []string
	if selected {
		names = selector
	} else {
		for name := range vs.FieldSchemas {
			names = append(names, name)
		}
	}

	for _, name := range names {
		if name == model.IDField {
			continue
		}
		if _, err := a.schemas.FieldSchema(resourceType, op, name); err != nil {
			return nil, err
		}

		raw := record[a.columnFor(model, name)]
		value, err := vs.ApplyField(name, raw)
		if err != nil {
			return nil, apierror.NewInternal(fmt.Sprintf(
				"failed to serialize %s.%s: %v", resourceType, name, err))
		}
		attrs[name] = value
	}
	return attrs, nil
}

// buildLinkage renders the relationship member and recurses into the
// attached records, collecting them into the included set.
func (a *Assembler) buildLinkage(desc *schema.RelationshipDescriptor, value interface{}, tails []params.IncludePath, p *params.Parsed, set *includedSet) (map[string]interface{}, error) {
	if desc.Many {
		refs := make([]interface{}, 0)
		children, _ := value.([]map[string]interface{})
		for _, child := range children {
			ref, err := a.includeChild(desc.Target, child, tails, p, set)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		return map[string]interface{}{"data": refs}, nil
	}

	child, ok := value.(map[string]interface{})
	if !ok || child == nil {
		// An absent to-one relationship still renders explicit null linkage.
		return map[string]interface{}{"data": nil}, nil
	}
	ref, err := a.includeChild(desc.Target, child, tails, p, set)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"data": ref}, nil
}

// includeChild adds the child record to the included set, serializing it at
// most once per (type, id), and returns its linkage object. Deeper include
// segments always recurse: a member first reached through a shallow branch
// still picks up the linkage and compound members a deeper branch asks for.
func (a *Assembler) includeChild(resourceType string, child map[string]interface{}, tails []params.IncludePath, p *params.Parsed, set *includedSet) (map[string]interface{}, error) {
	model, err := a.models.Get(resourceType)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprint(child[model.IDColumn()])
	key := refKey{Type: resourceType, ID: id}

	if _, seen := set.items[key]; !seen {
		// Reserve the slot before recursing so cyclic graphs terminate.
		set.items[key] = nil
		item, err := a.buildItem(resourceType, schema.OpRead, child, tails, p, set)
		if err != nil {
			return nil, err
		}
		set.items[key] = item
		set.applyPending(key, item)
	} else if len(tails) > 0 {
		rels, err := a.buildRelationships(resourceType, schema.OpRead, child, tails, p, set)
		if err != nil {
			return nil, err
		}
		set.merge(key, rels)
	}

	return map[string]interface{}{"id": id, "type": resourceType}, nil
}

func (a *Assembler) columnFor(model *schema.Model, field string) string {
	if f, ok := model.Field(field); ok {
		return f.ColumnName()
	}
	return field
}
