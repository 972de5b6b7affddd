package models

import "errors"

// Service level errors. Handlers map these to HTTP status codes.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmailInUse        = errors.New("email already in use")
	ErrNotFound          = errors.New("account not found")
	ErrTxNotFound        = errors.New("transaction not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceLimit      = errors.New("balance limit exceeded")

	// ErrIdempotencyConflict is returned when an idempotency key is replayed
	// with a different transaction type or amount.
	ErrIdempotencyConflict = errors.New("idempotency key already used for a different request")
)

// Store level errors. Every LedgerStore implementation translates its driver
// errors into these.
var (
	ErrDuplicateEmail          = errors.New("duplicate email")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConstraintViolation means a store check (non-negative balance or
	// amount) rejected a write the service should never have issued.
	ErrConstraintViolation = errors.New("constraint violation")
)
