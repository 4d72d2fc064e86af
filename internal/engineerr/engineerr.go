// Package engineerr defines the taxonomy of errors the trading engine
// returns to callers. Every error carries a stable Code a caller can
// switch on; message text is for humans only.
package engineerr

import "fmt"

// Code identifies the kind of error, independent of message wording.
type Code string

const (
	InvalidPrecision      Code = "invalid_precision"
	UnknownOutcome        Code = "unknown_outcome"
	MarketNotOpen         Code = "market_not_open"
	InsufficientBalance   Code = "insufficient_balance"
	InsufficientPosition  Code = "insufficient_position"
	BudgetExceeded        Code = "budget_exceeded"
	InsufficientSubsidy   Code = "insufficient_subsidy"
	ExposureLimitExceeded Code = "exposure_limit_exceeded"
	LockUnderflow         Code = "lock_underflow"
	Overflow              Code = "overflow"
	InvariantViolation    Code = "invariant_violation"
	NotFound              Code = "not_found"
)

// Error is the concrete error type returned by all engine operations.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
