package persistence

import (
	"database/sql"
	"errors"

	"inbox_worker/core/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrDuplicate marks a unique-key conflict, such as a redelivered
// (platform, external_id) pair.
var ErrDuplicate = errors.New("duplicate entry")

const pqUniqueViolation = "23505"

// storeErr wraps a driver error as a domain.StoreError. Both the pgx and
// lib/pq error types are checked for unique violations.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewStoreError(op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pqUniqueViolation {
		return domain.NewStoreError(op, ErrDuplicate)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return domain.NewStoreError(op, ErrDuplicate)
	}
	return domain.NewStoreError(op, err)
}
