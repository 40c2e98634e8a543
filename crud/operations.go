package crud

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/params"
	"github.com/apifabric/jsonapi/query"
	"github.com/apifabric/jsonapi/schema"
)

// Linkage is the parsed relationship member of a write request: a null
// to-one, a single identifier, or a list of identifiers for to-many.
type Linkage struct {
	Many bool
	Null bool
	IDs  []string
}

// ListResult bundles one page of records with the unpaged total.
type ListResult struct {
	Records    []map[string]interface{}
	Count      int
	TotalPages int
}

// Operations executes the storage operations of one resource type.
type Operations struct {
	resourceType string
	model        *schema.Model
	db           *sql.DB
	models       *schema.ModelRegistry
	schemas      *schema.Registry
}

// NewOperations creates the operations executor for a registered resource
// type.
func NewOperations(resourceType string, db *sql.DB, models *schema.ModelRegistry, schemas *schema.Registry) (*Operations, error) {
	model, err := models.Get(resourceType)
	if err != nil {
		return nil, err
	}
	return &Operations{
		resourceType: resourceType,
		model:        model,
		db:           db,
		models:       models,
		schemas:      schemas,
	}, nil
}

// List runs the filtered, sorted, paged collection query and the matching
// count query. Queries that traverse to-many joins select DISTINCT so root
// rows are not duplicated.
func (o *Operations) List(ctx context.Context, p *params.Parsed) (*ListResult, error) {
	compiler, err := query.NewCompiler(o.resourceType, o.models, o.schemas)
	if err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(p.Filters, p.Sorts)
	if err != nil {
		return nil, err
	}

	from := "FROM " + o.model.Table
	for _, join := range compiled.Joins {
		from += " " + join.SQL
	}
	where := ""
	if compiled.Where != "" {
		where = " WHERE " + compiled.Where
	}

	countExpr := "COUNT(*)"
	selectExpr := o.model.Table + ".*"
	if compiled.HasJoins() {
		countExpr = fmt.Sprintf("COUNT(DISTINCT %s.%s)", o.model.Table, o.model.IDColumn())
		selectExpr = "DISTINCT " + selectExpr
		// Postgres requires every ORDER BY expression of a SELECT DISTINCT
		// in the select list. Joined sort columns are added under aliases
		// that can not collide with root columns.
		sortCol := 0
		for _, term := range compiled.OrderBy {
			expr := strings.TrimSuffix(strings.TrimSuffix(term, " ASC"), " DESC")
			if strings.HasPrefix(expr, o.model.Table+".") {
				continue
			}
			sortCol++
			selectExpr += fmt.Sprintf(", %s AS __sort_%d", expr, sortCol)
		}
	}

	var count int
	countSQL := "SELECT " + countExpr + " " + from + where
	if err := o.db.QueryRowContext(ctx, countSQL, compiled.Args...).Scan(&count); err != nil {
		return nil, toAPIError(err, o.resourceType, nil)
	}

	orderBy := compiled.OrderBy
	if len(orderBy) == 0 {
		orderBy = []string{fmt.Sprintf("%s.%s ASC", o.model.Table, o.model.IDColumn())}
	}

	listSQL := "SELECT " + selectExpr + " " + from + where + " ORDER BY " + strings.Join(orderBy, ", ")
	args := compiled.Args
	totalPages := 1
	if p.Page.Size > 0 {
		listSQL += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, p.Page.Size, p.Page.Offset())
		totalPages = (count + p.Page.Size - 1) / p.Page.Size
	}

	rows, err := o.db.QueryContext(ctx, listSQL, args...)
	if err != nil {
		return nil, toAPIError(err, o.resourceType, nil)
	}
	defer rows.Close()

	records, err := ScanRecords(rows)
	if err != nil {
		return nil, toAPIError(err, o.resourceType, nil)
	}

	return &ListResult{Records: records, Count: count, TotalPages: totalPages}, nil
}

// GetOne fetches a single record by identifier.
func (o *Operations) GetOne(ctx context.Context, id string) (map[string]interface{}, error) {
	idValue, err := coerceID(o.model, id)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", o.model.Table, o.model.IDColumn())
	rows, err := o.db.QueryContext(ctx, stmt, idValue)
	if err != nil {
		return nil, toAPIError(err, o.resourceType, id)
	}
	defer rows.Close()

	record, err := scanOne(rows)
	if err != nil {
		return nil, toAPIError(err, o.resourceType, id)
	}
	return record, nil
}

// Create inserts a record inside its own transaction, resolving to-one
// linkage into foreign keys before the insert and attaching to-many linkage
// after it. Every linked identifier is checked for existence first.
func (o *Operations) Create(ctx context.Context, id string, attrs map[string]interface{}, linkages map[string]Linkage) (map[string]interface{}, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewInternal(fmt.Sprintf("failed to begin transaction: %v", err))
	}
	defer tx.Rollback()

	created, err := o.CreateIn(ctx, tx, id, attrs, linkages)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, toAPIError(err, o.resourceType, id)
	}
	return created, nil
}

// CreateIn runs the insert inside a caller-owned transaction, so several
// writes can commit or roll back together.
func (o *Operations) CreateIn(ctx context.Context, tx *sql.Tx, id string, attrs map[string]interface{}, linkages map[string]Linkage) (map[string]interface{}, error) {
	record := copyRecord(attrs)

	if id != "" {
		if !o.model.ClientGeneratedID {
			return nil, apierror.NewBadRequest(fmt.Sprintf(
				"%s does not accept client generated ids", o.resourceType))
		}
		idValue, err := coerceID(o.model, id)
		if err != nil {
			return nil, err
		}
		record[o.model.IDField] = idValue
	} else if o.clientIDRequired() {
		record[o.model.IDField] = uuid.NewString()
	}

	toMany, err := o.resolveToOne(ctx, tx, record, linkages)
	if err != nil {
		return nil, err
	}

	created, err := o.insertRecord(ctx, tx, record)
	if err != nil {
		return nil, err
	}

	if err := o.replaceToMany(ctx, tx, created[o.model.IDColumn()], toMany, false); err != nil {
		return nil, err
	}
	return created, nil
}

// Update patches a record inside its own transaction. To-many linkage
// replaces the full membership of the relationship.
func (o *Operations) Update(ctx context.Context, id string, attrs map[string]interface{}, linkages map[string]Linkage) (map[string]interface{}, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewInternal(fmt.Sprintf("failed to begin transaction: %v", err))
	}
	defer tx.Rollback()

	updated, err := o.UpdateIn(ctx, tx, id, attrs, linkages)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, toAPIError(err, o.resourceType, id)
	}
	return updated, nil
}

// UpdateIn runs the patch inside a caller-owned transaction.
func (o *Operations) UpdateIn(ctx context.Context, tx *sql.Tx, id string, attrs map[string]interface{}, linkages map[string]Linkage) (map[string]interface{}, error) {
	idValue, err := coerceID(o.model, id)
	if err != nil {
		return nil, err
	}
	record := copyRecord(attrs)

	toMany, err := o.resolveToOne(ctx, tx, record, linkages)
	if err != nil {
		return nil, err
	}

	var updated map[string]interface{}
	if len(record) > 0 {
		fields := sortedKeys(record)
		sets := make([]string, len(fields))
		args := make([]interface{}, 0, len(fields)+1)
		for i, field := range fields {
			sets[i] = fmt.Sprintf("%s = $%d", o.columnFor(field), i+1)
			args = append(args, record[field])
		}
		args = append(args, idValue)

		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
			o.model.Table, strings.Join(sets, ", "), o.model.IDColumn(), len(args))
		updated, err = o.queryOne(ctx, tx, stmt, args...)
	} else {
		stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", o.model.Table, o.model.IDColumn())
		updated, err = o.queryOne(ctx, tx, stmt, idValue)
	}
	if err != nil {
		return nil, toAPIError(err, o.resourceType, id)
	}

	if err := o.replaceToMany(ctx, tx, idValue, toMany, true); err != nil {
		return nil, err
	}
	return updated, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Delete removes a record by identifier.
func (o *Operations) Delete(ctx context.Context, id string) error {
	return o.deleteWith(ctx, o.db, id)
}

// DeleteIn removes a record inside a caller-owned transaction.
func (o *Operations) DeleteIn(ctx context.Context, tx *sql.Tx, id string) error {
	return o.deleteWith(ctx, tx, id)
}

func (o *Operations) deleteWith(ctx context.Context, q querier, id string) error {
	idValue, err := coerceID(o.model, id)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 RETURNING %s",
		o.model.Table, o.model.IDColumn(), o.model.IDColumn())
	rows, err := q.QueryContext(ctx, stmt, idValue)
	if err != nil {
		return toAPIError(err, o.resourceType, id)
	}
	defer rows.Close()

	if _, err := scanOne(rows); err != nil {
		return toAPIError(err, o.resourceType, id)
	}
	return nil
}

// DeleteMany removes every record matching the filters and returns the
// deleted rows. An empty filter set is rejected rather than emptying the
// table.
func (o *Operations) DeleteMany(ctx context.Context, filters []*query.FilterNode) ([]map[string]interface{}, error) {
	if len(filters) == 0 {
		return nil, apierror.NewBadRequest("can not delete without filters")
	}

	compiler, err := query.NewCompiler(o.resourceType, o.models, o.schemas)
	if err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(filters, nil)
	if err != nil {
		return nil, err
	}

	var stmt string
	if compiled.HasJoins() {
		from := "FROM " + o.model.Table
		for _, join := range compiled.Joins {
			from += " " + join.SQL
		}
		stmt = fmt.Sprintf("DELETE FROM %s WHERE %s IN (SELECT DISTINCT %s.%s %s WHERE %s) RETURNING *",
			o.model.Table, o.model.IDColumn(), o.model.Table, o.model.IDColumn(), from, compiled.Where)
	} else {
		stmt = fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING *", o.model.Table, compiled.Where)
	}

	rows, err := o.db.QueryContext(ctx, stmt, compiled.Args...)
	if err != nil {
		return nil, toAPIError(err, o.resourceType, nil)
	}
	defer rows.Close()

	records, err := ScanRecords(rows)
	if err != nil {
		return nil, toAPIError(err, o.resourceType, nil)
	}
	return records, nil
}

// resolveToOne folds to-one linkage into foreign key values on the record
// and returns the to-many linkage for post-write attachment.
func (o *Operations) resolveToOne(ctx context.Context, tx *sql.Tx, record map[string]interface{}, linkages map[string]Linkage) (map[string]Linkage, error) {
	toMany := make(map[string]Linkage)

	for _, field := range sortedLinkageKeys(linkages) {
		linkage := linkages[field]
		rel, ok := o.model.Relationship(field)
		if !ok {
			return nil, apierror.NewBadRequest(fmt.Sprintf(
				"%s has no relationship %q", o.resourceType, field))
		}

		if rel.Kind.ToMany() {
			toMany[field] = linkage
			continue
		}
		if rel.Kind != schema.RelationshipBelongsTo {
			return nil, apierror.NewBadRequest(fmt.Sprintf(
				"relationship %q of %s is owned by the target and can not be written here", field, o.resourceType))
		}

		if linkage.Null {
			record[rel.ForeignKey] = nil
			continue
		}
		if len(linkage.IDs) != 1 {
			return nil, apierror.NewBadRequest(fmt.Sprintf(
				"relationship %q expects exactly one linkage object", field))
		}

		target, err := o.models.Get(rel.Target)
		if err != nil {
			return nil, err
		}
		idValue, err := coerceID(target, linkage.IDs[0])
		if err != nil {
			return nil, err
		}
		if err := o.checkExist(ctx, tx, target, []interface{}{idValue}); err != nil {
			return nil, err
		}
		record[rel.ForeignKey] = idValue
	}
	return toMany, nil
}

// replaceToMany attaches to-many linkage to a parent record. When clear is
// set the existing membership is removed first, making the write a full
// replacement.
func (o *Operations) replaceToMany(ctx context.Context, tx *sql.Tx, parentID interface{}, linkages map[string]Linkage, clear bool) error {
	for _, field := range sortedLinkageKeys(linkages) {
		linkage := linkages[field]
		rel, _ := o.model.Relationship(field)
		target, err := o.models.Get(rel.Target)
		if err != nil {
			return err
		}

		ids := make([]interface{}, len(linkage.IDs))
		for i, raw := range linkage.IDs {
			if ids[i], err = coerceID(target, raw); err != nil {
				return err
			}
		}
		if err := o.checkExist(ctx, tx, target, ids); err != nil {
			return err
		}

		switch rel.Kind {
		case schema.RelationshipHasMany, schema.RelationshipHasOne:
			if clear {
				stmt := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1",
					target.Table, rel.ForeignKey, rel.ForeignKey)
				if _, err := tx.ExecContext(ctx, stmt, parentID); err != nil {
					return toAPIError(err, rel.Target, nil)
				}
			}
			if len(ids) > 0 {
				placeholders := make([]string, len(ids))
				args := []interface{}{parentID}
				for i, id := range ids {
					placeholders[i] = fmt.Sprintf("$%d", i+2)
					args = append(args, id)
				}
				stmt := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s IN (%s)",
					target.Table, rel.ForeignKey, target.IDColumn(), strings.Join(placeholders, ", "))
				if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
					return toAPIError(err, rel.Target, nil)
				}
			}

		case schema.RelationshipHasManyThrough:
			if clear {
				stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", rel.JoinTable, rel.ForeignKey)
				if _, err := tx.ExecContext(ctx, stmt, parentID); err != nil {
					return toAPIError(err, rel.Target, nil)
				}
			}
			if len(ids) > 0 {
				tuples := make([]string, len(ids))
				args := []interface{}{parentID}
				for i, id := range ids {
					tuples[i] = fmt.Sprintf("($1, $%d)", i+2)
					args = append(args, id)
				}
				stmt := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES %s",
					rel.JoinTable, rel.ForeignKey, rel.AssociationKey, strings.Join(tuples, ", "))
				if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
					return toAPIError(err, rel.Target, nil)
				}
			}
		}
	}
	return nil
}

// checkExist verifies that every id exists on the target table, mapping the
// first miss to a related-not-found error.
func (o *Operations) checkExist(ctx context.Context, tx *sql.Tx, target *schema.Model, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	for i := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		target.IDColumn(), target.Table, target.IDColumn(), strings.Join(placeholders, ", "))

	rows, err := tx.QueryContext(ctx, stmt, ids...)
	if err != nil {
		return toAPIError(err, target.ResourceType, nil)
	}
	defer rows.Close()

	found, err := ScanRecords(rows)
	if err != nil {
		return toAPIError(err, target.ResourceType, nil)
	}

	seen := make(map[string]bool, len(found))
	for _, record := range found {
		seen[fmt.Sprint(record[target.IDColumn()])] = true
	}
	for _, id := range ids {
		if !seen[fmt.Sprint(id)] {
			return apierror.NewRelatedNotFound(target.ResourceType, id)
		}
	}
	return nil
}

func (o *Operations) insertRecord(ctx context.Context, tx *sql.Tx, record map[string]interface{}) (map[string]interface{}, error) {
	fields := sortedKeys(record)

	var stmt string
	if len(fields) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", o.model.Table)
	} else {
		columns := make([]string, len(fields))
		placeholders := make([]string, len(fields))
		for i, field := range fields {
			columns[i] = o.columnFor(field)
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			o.model.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	}

	args := make([]interface{}, len(fields))
	for i, field := range fields {
		args[i] = record[field]
	}

	created, err := o.queryOne(ctx, tx, stmt, args...)
	if err != nil {
		return nil, toAPIError(err, o.resourceType, nil)
	}
	return created, nil
}

func (o *Operations) queryOne(ctx context.Context, tx *sql.Tx, stmt string, args ...interface{}) (map[string]interface{}, error) {
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOne(rows)
}

func (o *Operations) columnFor(field string) string {
	if f, ok := o.model.Field(field); ok {
		return f.ColumnName()
	}
	return field
}

// clientIDRequired reports whether the store expects the application to
// supply the identifier, which is the case for uuid keys.
func (o *Operations) clientIDRequired() bool {
	f, ok := o.model.Field(o.model.IDField)
	return ok && f.Type != nil && f.Type.BaseType == schema.TypeUUID
}

// coerceID converts a path or linkage identifier to the storage type of the
// model's identifier field.
func coerceID(m *schema.Model, raw string) (interface{}, error) {
	f, ok := m.Field(m.IDField)
	if !ok || f.Type == nil {
		return raw, nil
	}

	switch f.Type.BaseType {
	case schema.TypeInt, schema.TypeBigInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, apierror.NewBadRequest(fmt.Sprintf(
				"%q is not a valid %s id", raw, m.ResourceType))
		}
		return n, nil
	case schema.TypeUUID:
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, apierror.NewBadRequest(fmt.Sprintf(
				"%q is not a valid %s id", raw, m.ResourceType))
		}
		return u.String(), nil
	default:
		return raw, nil
	}
}

func copyRecord(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedLinkageKeys(m map[string]Linkage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
