package core

import "errors"

// Validation errors, rejected before any lock is taken.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidDateRange  = errors.New("invalid date range")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrInvalidCurrency   = errors.New("invalid currency code")
	ErrInvalidOwner      = errors.New("invalid owner")
	ErrInvalidReference  = errors.New("invalid reference")
	ErrInvalidRecurrence = errors.New("invalid recurrence parameters")
	ErrInvalidTimeOfDay  = errors.New("invalid time of day")
	ErrNoteTooLong       = errors.New("note too long (max 500 characters)")
)

// Business and infrastructure errors surfaced to callers.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("access denied")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBusy              = errors.New("wallet busy, try again")
	ErrRateUnavailable   = errors.New("exchange rate unavailable")
	ErrDuplicateBudget   = errors.New("duplicate budget for the same period")
	ErrWalletInUse       = errors.New("wallet is referenced by active budgets")
	ErrInvariant         = errors.New("ledger invariant violated")
)

// ErrorCode maps an error to its stable machine-readable code. Unknown errors
// report as internal so no state leaks to callers.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrRateUnavailable):
		return "rate_unavailable"
	case errors.Is(err, ErrDuplicateBudget):
		return "duplicate_budget"
	case errors.Is(err, ErrWalletInUse):
		return "wallet_in_use"
	case errors.Is(err, ErrInvariant):
		return "internal"
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidDateRange),
		errors.Is(err, ErrInvalidDirection),
		errors.Is(err, ErrInvalidCurrency),
		errors.Is(err, ErrInvalidOwner),
		errors.Is(err, ErrInvalidReference),
		errors.Is(err, ErrInvalidRecurrence),
		errors.Is(err, ErrInvalidTimeOfDay),
		errors.Is(err, ErrNoteTooLong):
		return "validation"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller may retry the operation as-is.
// Only lock-wait conflicts qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
