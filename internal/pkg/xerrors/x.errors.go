package xerrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
)

// Validation
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAmountBelowMinimum = errors.New("amount below minimum")
	ErrAmountAboveMaximum = errors.New("amount above per-transaction maximum")
	ErrInvalidServiceType = errors.New("invalid service type")
	ErrInvalidTarget      = errors.New("invalid target identifier")
	ErrPriceMismatch      = errors.New("amount does not match provider-quoted price")
	ErrSelfTransfer       = errors.New("cannot transfer to own wallet")
	ErrRecipientNotFound  = errors.New("recipient wallet not found")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletDisabled     = errors.New("wallet disabled")
	ErrPinVerification    = errors.New("transaction pin verification failed")
	ErrEmailNotVerified   = errors.New("email not verified")
)

// Limits
var (
	ErrDailyAmountLimitExceeded = errors.New("daily transaction amount limit exceeded")
	ErrDailyCountLimitExceeded  = errors.New("daily transaction count limit exceeded")
)

// Idempotency
var (
	ErrIdempotencyConflict     = errors.New("duplicate request still in flight")
	ErrIdempotencyKeyReused    = errors.New("idempotency key reused with a different payload")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")
)

// Ledger
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrLedgerInvariantViolation = errors.New("ledger invariant violation: balance-before mismatch at commit")
	ErrDuplicateReference       = errors.New("transaction reference already exists")
	ErrEntryNotFound            = errors.New("ledger entry not found")
	ErrEntryAlreadyTerminal     = errors.New("ledger entry already in a terminal state")
)

// Provider
var (
	ErrProviderRejected  = errors.New("external provider rejected the request")
	ErrProviderAmbiguous = errors.New("external provider outcome unknown")
	ErrTopUpNotPaid      = errors.New("top-up reference not paid")
)

// Withdrawal
var (
	ErrCompensationFailed = errors.New("withdrawal compensation failed: balance not restored")
)

// InsufficientBalanceError carries the amounts so callers can surface
// how much was missing without re-reading the wallet.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, required %s",
		e.Available.String(), e.Required.String())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ProviderError is a normalized external-provider failure. Ambiguous
// means the outcome is unknown (timeout, transport error after send):
// no ledger write happened, but Reference may be set for requery.
type ProviderError struct {
	Code      string
	Message   string
	Reference string
	Ambiguous bool
}

func (e *ProviderError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("provider outcome unknown (code=%s ref=%s): %s", e.Code, e.Reference, e.Message)
	}
	return fmt.Sprintf("provider rejected (code=%s): %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e.Ambiguous {
		return ErrProviderAmbiguous
	}
	return ErrProviderRejected
}
