/*
errors.go - Centralized error types for the leave ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Structured errors carry context for messages and unwrap to a sentinel,
  so callers classify with errors.Is and inspect with errors.As.

ERROR CATEGORIES:
  1. Authorization - actor missing or not allowed to administer leave
  2. Validation    - malformed input
  3. Not found     - user or entry missing
  4. Balance       - debit exceeds the targeted pool
  5. Store         - concurrent modification detected at write time

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when the actor cannot administer leave.
	ErrUnauthorized = errors.New("not authorized")

	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEntryNotFound is returned when a ledger entry doesn't exist or is deleted.
	ErrEntryNotFound = errors.New("leave not found")

	// ErrInsufficientBalance is returned when a debit exceeds the pool balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentModification is returned when a user's latest entry changed
	// between resolution and write.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type AuthorizationError struct {
	ActorID UserID
	Reason  string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}

func (e *AuthorizationError) Unwrap() error {
	return ErrUnauthorized
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the missing user or entry.
type NotFoundError struct {
	Kind string // "user" or "leave"
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.Kind == "user" {
		return fmt.Sprintf("user not found: %s", e.ID)
	}
	return fmt.Sprintf("leave not found: %s", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	if e.Kind == "user" {
		return ErrUserNotFound
	}
	return ErrEntryNotFound
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Name      string
	Pool      Pool
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	kind := "leave"
	if e.Pool == PoolCompOff {
		kind = "compoff"
	}
	return fmt.Sprintf("insufficient available %s balance for user %s. Current balance: %s, requested debit: %s",
		kind, e.Name, e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
