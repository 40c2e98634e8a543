// Package relationships batch-loads related records for include paths,
// attaching them onto the parent records so the response assembler can walk
// the object graph without touching the database again.
package relationships

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/crud"
	"github.com/apifabric/jsonapi/params"
	"github.com/apifabric/jsonapi/schema"
)

// parentRefColumn carries the join-table parent key alongside the target
// columns when loading through relationships. Stripped before attachment.
const parentRefColumn = "__parent_ref"

// DefaultMaxDepth caps include recursion when no explicit limit is set.
const DefaultMaxDepth = 10

// Loader fetches related records level by level. Each relationship on each
// level costs one query regardless of how many parents were loaded.
type Loader struct {
	db       *sql.DB
	models   *schema.ModelRegistry
	maxDepth int
}

// NewLoader creates a loader over the registered models.
func NewLoader(db *sql.DB, models *schema.ModelRegistry, maxDepth int) *Loader {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Loader{db: db, models: models, maxDepth: maxDepth}
}

// Load resolves the include paths for the records of one resource type,
// nesting each related record under the relationship field name of its
// parent. Records shared between parents are loaded once and attached by
// reference.
func (l *Loader) Load(ctx context.Context, resourceType string, records []map[string]interface{}, includes []params.IncludePath) error {
	return l.loadLevel(ctx, resourceType, records, includes, 1)
}

func (l *Loader) loadLevel(ctx context.Context, resourceType string, records []map[string]interface{}, includes []params.IncludePath, depth int) error {
	if len(records) == 0 || len(includes) == 0 {
		return nil
	}
	if depth > l.maxDepth {
		return apierror.NewInvalidInclude(fmt.Sprintf(
			"include depth exceeds the maximum of %d", l.maxDepth))
	}

	model, err := l.models.Get(resourceType)
	if err != nil {
		return err
	}

	heads, tails := params.GroupByHead(includes)
	for _, head := range heads {
		rel, ok := model.Relationship(head)
		if !ok {
			return apierror.NewInvalidInclude(fmt.Sprintf(
				"%s has no relationship %q", resourceType, head))
		}
		target, err := l.models.Get(rel.Target)
		if err != nil {
			return err
		}

		var children []map[string]interface{}
		switch rel.Kind {
		case schema.RelationshipBelongsTo:
			children, err = l.loadBelongsTo(ctx, records, rel, target, head)
		case schema.RelationshipHasOne, schema.RelationshipHasMany:
			children, err = l.loadHasMany(ctx, records, model, rel, target, head)
		case schema.RelationshipHasManyThrough:
			children, err = l.loadThrough(ctx, records, model, rel, target, head)
		default:
			err = apierror.NewInternal(fmt.Sprintf(
				"unsupported relationship kind %v on %s.%s", rel.Kind, resourceType, head))
		}
		if err != nil {
			return err
		}

		if err := l.loadLevel(ctx, rel.Target, children, tails[head], depth+1); err != nil {
			return err
		}
	}
	return nil
}

// loadBelongsTo resolves parents' foreign keys to target records in one
// membership query. Parents with a null foreign key get a nil attachment.
func (l *Loader) loadBelongsTo(ctx context.Context, records []map[string]interface{}, rel *schema.ModelRelationship, target *schema.Model, field string) ([]map[string]interface{}, error) {
	var keys []interface{}
	seen := make(map[string]bool)
	for _, record := range records {
		fk := record[rel.ForeignKey]
		if fk == nil {
			continue
		}
		if k := fmt.Sprint(fk); !seen[k] {
			seen[k] = true
			keys = append(keys, fk)
		}
	}
	if len(keys) == 0 {
		for _, record := range records {
			record[field] = nil
		}
		return nil, nil
	}

	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s) ORDER BY %s ASC",
		target.Table, target.IDColumn(), placeholders(len(keys), 1), target.IDColumn())
	children, err := l.query(ctx, target.ResourceType, stmt, keys...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]map[string]interface{}, len(children))
	for _, child := range children {
		byID[fmt.Sprint(child[target.IDColumn()])] = child
	}
	for _, record := range records {
		fk := record[rel.ForeignKey]
		if fk == nil {
			record[field] = nil
			continue
		}
		if child, ok := byID[fmt.Sprint(fk)]; ok {
			record[field] = child
		} else {
			record[field] = nil
		}
	}
	return children, nil
}

// loadHasMany resolves children pointing back at the parents through the
// relationship's foreign key. has_one attaches the first child or nil,
// has_many always attaches a slice.
func (l *Loader) loadHasMany(ctx context.Context, records []map[string]interface{}, parent *schema.Model, rel *schema.ModelRelationship, target *schema.Model, field string) ([]map[string]interface{}, error) {
	ids := parentIDs(records, parent.IDColumn())
	if len(ids) == 0 {
		return nil, nil
	}

	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s) ORDER BY %s ASC",
		target.Table, rel.ForeignKey, placeholders(len(ids), 1), target.IDColumn())
	children, err := l.query(ctx, target.ResourceType, stmt, ids...)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]map[string]interface{})
	for _, child := range children {
		key := fmt.Sprint(child[rel.ForeignKey])
		grouped[key] = append(grouped[key], child)
	}
	for _, record := range records {
		group := grouped[fmt.Sprint(record[parent.IDColumn()])]
		if rel.Kind == schema.RelationshipHasOne {
			if len(group) > 0 {
				record[field] = group[0]
			} else {
				record[field] = nil
			}
			continue
		}
		if group == nil {
			group = []map[string]interface{}{}
		}
		record[field] = group
	}
	return children, nil
}

// loadThrough resolves a many-to-many relationship in one query over the
// join table, selecting the parent key alongside the target columns. A
// child linked to several parents is attached to each by reference.
func (l *Loader) loadThrough(ctx context.Context, records []map[string]interface{}, parent *schema.Model, rel *schema.ModelRelationship, target *schema.Model, field string) ([]map[string]interface{}, error) {
	ids := parentIDs(records, parent.IDColumn())
	if len(ids) == 0 {
		return nil, nil
	}

	stmt := fmt.Sprintf(
		"SELECT jt.%s AS %s, t.* FROM %s AS jt JOIN %s AS t ON t.%s = jt.%s WHERE jt.%s IN (%s) ORDER BY t.%s ASC",
		rel.ForeignKey, parentRefColumn, rel.JoinTable, target.Table, target.IDColumn(),
		rel.AssociationKey, rel.ForeignKey, placeholders(len(ids), 1), target.IDColumn())
	rows, err := l.query(ctx, target.ResourceType, stmt, ids...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]map[string]interface{})
	grouped := make(map[string][]map[string]interface{})
	var children []map[string]interface{}
	for _, row := range rows {
		parentKey := fmt.Sprint(row[parentRefColumn])
		delete(row, parentRefColumn)

		childKey := fmt.Sprint(row[target.IDColumn()])
		child, ok := byID[childKey]
		if !ok {
			child = row
			byID[childKey] = child
			children = append(children, child)
		}
		grouped[parentKey] = append(grouped[parentKey], child)
	}

	for _, record := range records {
		group := grouped[fmt.Sprint(record[parent.IDColumn()])]
		if group == nil {
			group = []map[string]interface{}{}
		}
		record[field] = group
	}
	return children, nil
}

func (l *Loader) query(ctx context.Context, resourceType, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, apierror.NewInternal(fmt.Sprintf(
			"failed to load %s records: %v", resourceType, err))
	}
	defer rows.Close()

	records, err := crud.ScanRecords(rows)
	if err != nil {
		return nil, apierror.NewInternal(fmt.Sprintf(
			"failed to scan %s records: %v", resourceType, err))
	}
	return records, nil
}

func parentIDs(records []map[string]interface{}, idColumn string) []interface{} {
	var ids []interface{}
	seen := make(map[string]bool)
	for _, record := range records {
		id := record[idColumn]
		if id == nil {
			continue
		}
		if k := fmt.Sprint(id); !seen[k] {
			seen[k] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func placeholders(n, start int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
