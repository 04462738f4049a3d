package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medqueue/medqueue/pkg/apperror"
)

const uniqueViolation = "23505"

// MapError classifies a pgx error into the engine's failure kinds. Errors
// that already carry a kind pass through unchanged.
func MapError(err error, entity string) error {
	if err == nil {
		return nil
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound("%s not found", entity)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return &apperror.Error{Kind: apperror.KindConcurrencyConflict,
				Message: fmt.Sprintf("%s already exists", entity), Err: err}
		}
		return apperror.Internal(fmt.Sprintf("%s query failed", entity), err)
	}
	// Anything else is the connection, the pool or a cancelled context.
	return apperror.Upstream(fmt.Sprintf("store unavailable for %s", entity), err)
}
