package model

import "errors"

// Rejection taxonomy for order and wallet operations. Guard failures are
// returned before any mutation; a rejected transition is a no-op.
var (
	ErrNotAuthorized     = errors.New("not authorized")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyDisputed   = errors.New("order already disputed")
	ErrAlreadyResolved   = errors.New("dispute already resolved")
	ErrStepUpRequired    = errors.New("step-up verification required")
	ErrAccountFrozen     = errors.New("account frozen")
	ErrKYCRequired       = errors.New("kyc approval required")
	ErrNotFound          = errors.New("not found")

	// ErrInvariantViolation marks a broken internal precondition, e.g.
	// releasing more out of escrow than is held. It is never expected in
	// correct operation: the enclosing transaction rolls back and the
	// event is escalated rather than retried.
	ErrInvariantViolation = errors.New("invariant violation")
)
