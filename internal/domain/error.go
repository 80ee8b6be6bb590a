package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrPaymentTerminal      = errors.New("payment is in a terminal state")
	ErrInvalidTransition    = errors.New("illegal status transition")
	ErrSubscriptionExpired  = errors.New("subscription has expired")
	ErrUnsupportedOperation = errors.New("operation not supported by gateway")
	ErrMalformedCallback    = errors.New("malformed gateway callback")
	ErrSignatureInvalid     = errors.New("webhook signature verification failed")

	// Infra-level errors surfaced through repositories
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrInvalidExecContext = errors.New("invalid transaction execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
