package postgres

import (
	"errors"

	"github.com/lib/pq"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
)

// classify maps constraint violations to their domain kinds; every other failure is
// Internal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqForeignKeyViolation:
			return apperr.Wrap(apperr.NotFound, op, err)
		case pqUniqueViolation:
			return apperr.Wrap(apperr.Conflict, op, err)
		}
	}
	return apperr.Wrap(apperr.Internal, op, err)
}
