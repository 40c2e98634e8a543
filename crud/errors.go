// Package crud executes the storage operations behind the generated
// endpoints: paged list queries, single-record fetches, and transactional
// create/update/delete with relationship linkage.
package crud

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/apifabric/jsonapi/apierror"
)

// Common storage error types
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// ConvertDBError converts driver-specific errors to storage errors.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	// PostgreSQL via pgx
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return convertPostgresCode(pgErr.Code, pgErr.Detail, pgErr.ColumnName)
	}

	// PostgreSQL via lib/pq
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return convertPostgresCode(string(pqErr.Code), pqErr.Detail, pqErr.Column)
	}

	return err
}

func convertPostgresCode(code, detail, column string) error {
	switch code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", ErrUniqueViolation, detail)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", ErrForeignKeyViolation, detail)
	case "23514": // check_violation
		return fmt.Errorf("%w: %s", ErrCheckViolation, detail)
	case "23502": // not_null_violation
		return fmt.Errorf("%w: column %s", ErrNotNullViolation, column)
	default:
		return fmt.Errorf("postgres error %s: %s", code, detail)
	}
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}

// toAPIError maps a storage error onto the response error taxonomy for one
// resource type and identifier.
func toAPIError(err error, resourceType string, id interface{}) error {
	if err == nil {
		return nil
	}
	if _, ok := apierror.As(err); ok {
		return err
	}

	converted := ConvertDBError(err)
	switch {
	case errors.Is(converted, ErrNotFound):
		return apierror.NewNotFound(resourceType, id)
	case errors.Is(converted, ErrUniqueViolation),
		errors.Is(converted, ErrForeignKeyViolation),
		errors.Is(converted, ErrCheckViolation),
		errors.Is(converted, ErrNotNullViolation):
		return apierror.NewObjectError(converted.Error(), resourceType)
	default:
		return apierror.NewInternal(converted.Error())
	}
}
