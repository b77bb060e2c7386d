package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes with repository semantics.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeAdminShutdown        = "57P01"
	codeTooManyConnections   = "53300"
)

// Error implements repositories.RepositoryError for gorm backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a uniqueness or concurrency conflict.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// NotFound builds a not-found error for op.
func NotFound(op string) error {
	return &Error{op: op, err: gorm.ErrRecordNotFound, notFound: true}
}

// Conflict builds a conflict error for op, used for optimistic version mismatches.
func Conflict(op, detail string) error {
	return &Error{op: op, err: errors.New(detail), conflict: true}
}

// WrapError annotates gorm and pgx errors with repository semantics. Context cancellations are
// passed through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}

	e := &Error{op: op, err: err}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e.notFound = true
	case errors.As(err, &pgErr):
		switch {
		case pgErr.Code == codeUniqueViolation, pgErr.Code == codeSerializationFailure,
			pgErr.Code == codeDeadlockDetected, pgErr.Code == codeLockNotAvailable:
			e.conflict = true
		case pgErr.Code == codeForeignKeyViolation, pgErr.Code == codeCheckViolation:
			// Integrity violations are caller bugs rather than outages.
		case pgErr.Code == codeAdminShutdown, pgErr.Code == codeTooManyConnections,
			strings.HasPrefix(pgErr.Code, "08"):
			e.unavailable = true
		}
	case errors.Is(err, driver.ErrBadConn), pgconn.SafeToRetry(err), pgconn.Timeout(err):
		e.unavailable = true
	}
	return e
}

// IsUniqueViolation reports whether err is a unique constraint violation on constraint, or on
// any constraint when constraint is empty.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected)
}
