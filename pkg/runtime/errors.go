// Package runtime provides the database handle and the error taxonomy
// shared by every layer.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrTenantNotFound is returned when no active tenant matches a request.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantInactive is returned when the matched tenant is deactivated.
	ErrTenantInactive = errors.New("tenant inactive")

	// ErrNoTenantContext is returned when tenant context is read outside a resolved request.
	ErrNoTenantContext = errors.New("no tenant context")

	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidCode is returned when a table code does not match.
	ErrInvalidCode = errors.New("invalid table code")

	// ErrCheckoutAlreadyRequested is returned when guests order after asking for the bill.
	ErrCheckoutAlreadyRequested = errors.New("checkout already requested")

	// ErrNoActiveOrder is returned when a transition needs an active order and there is none.
	ErrNoActiveOrder = errors.New("no active order")

	// ErrOrderStillActive is returned when freeing a table whose order is not finished.
	ErrOrderStillActive = errors.New("order still active")

	// ErrDemoTenantProtected is returned when deleting the demo tenant.
	ErrDemoTenantProtected = errors.New("demo tenant cannot be deleted")

	// ErrPlanRequired is returned when the tenant's plan lacks a feature.
	ErrPlanRequired = errors.New("plan upgrade required")

	// ErrInvalidCredentials is returned on a failed login or a bad token.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDuplicateKey is returned when a unique constraint is violated.
	ErrDuplicateKey = errors.New("duplicate key value")
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// QueryError represents a query execution error.
type QueryError struct {
	Query string
	Err   error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v\nQuery: %s", e.Err, e.Query)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// TransientError marks a storage failure the caller may retry.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient storage failure: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// retryable SQLSTATE codes: serialization_failure, deadlock_detected,
// lock_not_available, query_canceled, admin_shutdown, cannot_connect_now.
var retryableCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
	"57014": true,
	"57P01": true,
	"57P03": true,
}

// Classify wraps timeouts and retryable postgres failures in TransientError
// and maps unique violations to ErrDuplicateKey. Other errors pass through.
func Classify(err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if retryableCodes[pgErr.Code] {
			return &TransientError{Err: err}
		}
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return &TransientError{Err: err}
	}
	return err
}
