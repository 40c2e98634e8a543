package query

import (
	"fmt"
	"strings"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/schema"
)

// Join is one compiled LEFT JOIN clause. Path records the dotted
// relationship path the join serves so identical paths across filter and
// sort terms reuse a single join.
type Join struct {
	Path string
	SQL  string
}

// Compiled is the SQL output of one filter/sort compilation: a WHERE
// fragment with positional args, the joins it depends on and the ORDER BY
// terms, all qualified against the root table or a join alias.
type Compiled struct {
	Where   string
	Args    []interface{}
	Joins   []Join
	OrderBy []string
}

// HasJoins reports whether the compiled query traverses relationships.
// Callers must then select DISTINCT to keep to-many joins from duplicating
// root rows.
func (c *Compiled) HasJoins() bool {
	return len(c.Joins) > 0
}

type joinEntry struct {
	alias string
	model *schema.Model
}

// Compiler resolves dotted field paths against the model graph and emits
// placeholder-numbered SQL. One compiler serves one request; it is not safe
// for concurrent use.
type Compiler struct {
	models  *schema.ModelRegistry
	schemas *schema.Registry
	root    *schema.Model

	joins      map[string]*joinEntry
	joinOrder  []Join
	aliasCount int
	args       []interface{}
}

// NewCompiler creates a compiler rooted at the given resource type.
func NewCompiler(resourceType string, models *schema.ModelRegistry, schemas *schema.Registry) (*Compiler, error) {
	root, err := models.Get(resourceType)
	if err != nil {
		return nil, err
	}
	return &Compiler{
		models:  models,
		schemas: schemas,
		root:    root,
		joins:   make(map[string]*joinEntry),
	}, nil
}

// Compile turns filter nodes and sort keys into SQL fragments. Top-level
// filter nodes combine with AND.
func (c *Compiler) Compile(filters []*FilterNode, sorts []SortKey) (*Compiled, error) {
	var clauses []string
	for _, node := range filters {
		clause, err := c.compileNode(node)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	var orderBy []string
	for _, key := range sorts {
		column, _, _, err := c.resolvePath(key.Path)
		if err != nil {
			return nil, apierror.NewInvalidSort(fmt.Sprintf("can not sort by %q: %v", key.Path, detail(err)))
		}
		direction := "ASC"
		if key.Desc {
			direction = "DESC"
		}
		orderBy = append(orderBy, column+" "+direction)
	}

	return &Compiled{
		Where:   strings.Join(clauses, " AND "),
		Args:    c.args,
		Joins:   c.joinOrder,
		OrderBy: orderBy,
	}, nil
}

func (c *Compiler) compileNode(node *FilterNode) (string, error) {
	switch {
	case len(node.And) > 0:
		return c.compileComposite(node.And, " AND ")
	case len(node.Or) > 0:
		return c.compileComposite(node.Or, " OR ")
	case node.Not != nil:
		inner, err := c.compileNode(node.Not)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return c.compileLeaf(node)
	}
}

func (c *Compiler) compileComposite(children []*FilterNode, sep string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		clause, err := c.compileNode(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (c *Compiler) compileLeaf(node *FilterNode) (string, error) {
	column, field, owner, err := c.resolvePath(node.Path)
	if err != nil {
		return "", err
	}

	if node.Value == nil && node.Op != "is_" && node.Op != "isnot" {
		if field.Type == nil || !field.Type.Nullable {
			return "", apierror.NewInvalidFilter(fmt.Sprintf(
				"The field %q can't be null", node.Path))
		}
	}

	// Custom operators declared on the field shadow the standard set.
	if custom, ok := c.schemas.FieldOperator(owner.ResourceType, schema.OpRead, field.Name, node.Op); ok {
		clause, err := custom(column, node.Value, c.bind)
		if err != nil {
			return "", apierror.NewInvalidFilter(fmt.Sprintf(
				"invalid value for operator %q on %q: %v", node.Op, node.Path, err))
		}
		return clause, nil
	}

	standard, ok := standardOperators[node.Op]
	if !ok {
		return "", unknownOperatorError(owner.ResourceType, field.Name, node.Op)
	}
	clause, err := standard(column, node.Value, c.bind)
	if err != nil {
		return "", apierror.NewInvalidFilter(fmt.Sprintf(
			"invalid value for operator %q on %q: %v", node.Op, node.Path, err))
	}
	return clause, nil
}

// resolvePath walks a dotted path through the relationship graph, creating
// joins for every relationship segment, and returns the qualified column of
// the final field together with its declaration and owning model.
func (c *Compiler) resolvePath(path string) (string, *schema.ModelField, *schema.Model, error) {
	segments := strings.Split(path, ".")
	qualifier := c.root.Table
	owner := c.root

	for i := 0; i < len(segments)-1; i++ {
		entry, err := c.ensureJoin(segments[:i+1], owner, qualifier)
		if err != nil {
			return "", nil, nil, err
		}
		qualifier = entry.alias
		owner = entry.model
	}

	name := segments[len(segments)-1]
	field, ok := owner.Field(name)
	if !ok {
		if _, isRel := owner.Relationship(name); isRel {
			return "", nil, nil, apierror.NewInvalidFilter(fmt.Sprintf(
				"%q is a relationship of %q, select a field of it", name, owner.ResourceType))
		}
		return "", nil, nil, apierror.NewInvalidFilter(fmt.Sprintf(
			"%s has no attribute %q", owner.ResourceType, name))
	}
	return qualifier + "." + field.ColumnName(), field, owner, nil
}

// ensureJoin returns the join for the given path prefix, creating it on
// first use. parent is the model owning the final segment, parentAlias its
// SQL qualifier.
func (c *Compiler) ensureJoin(prefix []string, parent *schema.Model, parentAlias string) (*joinEntry, error) {
	key := strings.Join(prefix, ".")
	if entry, ok := c.joins[key]; ok {
		return entry, nil
	}

	name := prefix[len(prefix)-1]
	rel, ok := parent.Relationship(name)
	if !ok {
		return nil, apierror.NewInvalidFilter(fmt.Sprintf(
			"%s has no relationship %q", parent.ResourceType, name))
	}
	target, err := c.models.Get(rel.Target)
	if err != nil {
		return nil, err
	}

	c.aliasCount++
	alias := fmt.Sprintf("t%d", c.aliasCount)

	switch rel.Kind {
	case schema.RelationshipBelongsTo:
		c.addJoin(key, fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
			target.Table, alias, alias, target.IDColumn(), parentAlias, rel.ForeignKey))
	case schema.RelationshipHasOne, schema.RelationshipHasMany:
		c.addJoin(key, fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
			target.Table, alias, alias, rel.ForeignKey, parentAlias, parent.IDColumn()))
	case schema.RelationshipHasManyThrough:
		link := alias + "_link"
		c.addJoin(key, fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
			rel.JoinTable, link, link, rel.ForeignKey, parentAlias, parent.IDColumn()))
		c.addJoin(key+"#target", fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
			target.Table, alias, alias, target.IDColumn(), link, rel.AssociationKey))
	default:
		return nil, apierror.NewInternal(fmt.Sprintf(
			"unsupported relationship kind %v between %s and %s", rel.Kind, parent.ResourceType, rel.Target))
	}

	entry := &joinEntry{alias: alias, model: target}
	c.joins[key] = entry
	return entry, nil
}

func (c *Compiler) addJoin(path, sql string) {
	c.joinOrder = append(c.joinOrder, Join{Path: path, SQL: sql})
}

func (c *Compiler) bind(value interface{}) string {
	c.args = append(c.args, value)
	return fmt.Sprintf("$%d", len(c.args))
}

// detail unwraps API errors to their detail text for message composition.
func detail(err error) string {
	if apiErr, ok := apierror.As(err); ok && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}
