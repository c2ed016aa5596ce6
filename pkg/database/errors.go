package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Unique indexes on companies.
const (
	CompanyPrimaryKey = "companies_pkey"
	CompanyDomainKey  = "companies_active_domain_key"
)

// PostgreSQL SQLSTATE codes.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var (
	// ErrNotFound is returned by mutations that target a missing row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an insert collides with a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// IsForeignKeyViolation reports whether err references a missing parent row.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// ConstraintName returns the violated constraint for a PostgreSQL error, or empty.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// DuplicateKeyError reports a unique violation of constraint the way PostgreSQL would.
// Stores that enforce the schema's unique indexes in memory return it.
func DuplicateKeyError(constraint string) error {
	return fmt.Errorf("%w: %w", ErrDuplicateKey, &pgconn.PgError{
		Severity:       "ERROR",
		Code:           uniqueViolation,
		Message:        fmt.Sprintf("duplicate key value violates unique constraint %q", constraint),
		ConstraintName: constraint,
	})
}
