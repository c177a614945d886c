package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/repository"
)

const uniqueViolation = "23505"

// isUniqueViolation recognizes unique constraint errors from both supported drivers
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return apperr.E(apperr.ErrNotFound, op, err)
	case isUniqueViolation(err):
		return apperr.E(apperr.ErrInvalid, op, fmt.Errorf("%w: %v", repository.ErrDuplicate, err))
	default:
		return apperr.Storage(op, err)
	}
}

// expectAffected turns an update that touched no rows into ErrNotFound
func expectAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n == 0 {
		return apperr.E(apperr.ErrNotFound, op, nil)
	}
	return nil
}
