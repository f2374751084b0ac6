package shared

import "errors"

var (
	// ErrValidation indicates malformed input: bad lines, unknown accounts or types.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: transaction lines must balance")
	// ErrPeriodClosed indicates the module is closed for the fiscal period.
	ErrPeriodClosed = errors.New("accounting: period is closed for posting")
	// ErrPeriodNotFound indicates no fiscal period covers the date.
	ErrPeriodNotFound = errors.New("accounting: fiscal period not found")
	// ErrPeriodOverlap indicates a new period intersects an existing range.
	ErrPeriodOverlap = errors.New("accounting: period overlaps existing range")
	// ErrAlreadyPosted indicates a post attempt on a non-draft transaction.
	ErrAlreadyPosted = errors.New("accounting: transaction already posted")
	// ErrAlreadyReversed indicates the transaction has a reversal already.
	ErrAlreadyReversed = errors.New("accounting: transaction already reversed")
	// ErrNotPosted indicates an operation requiring a posted transaction.
	ErrNotPosted = errors.New("accounting: transaction not posted")
	// ErrTransactionNotFound indicates missing transaction.
	ErrTransactionNotFound = errors.New("accounting: transaction not found")
	// ErrImmutable indicates an edit of a posted or reversed transaction.
	ErrImmutable = errors.New("accounting: posted transactions are immutable")
	// ErrDuplicateRequest indicates the idempotency key was already used.
	ErrDuplicateRequest = errors.New("accounting: duplicate request")
	// ErrTenantRequired indicates no tenant was supplied or found in context.
	ErrTenantRequired = errors.New("accounting: tenant required")
)
