package domain

import "errors"

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")
	ErrDuplicate     = errors.New("duplicate command")
)

// ErrorKind classifies engine errors so callers can map them to responses.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindState         ErrorKind = "state"
	KindArithmetic    ErrorKind = "arithmetic"
	KindNotFound      ErrorKind = "not_found"
	KindInternal      ErrorKind = "internal"
)

// Error is an engine error with a stable code. Two Errors match under
// errors.Is when their codes are equal.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches by code so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newErr(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation errors.
var (
	ErrEmptyQuestion       = newErr(KindValidation, "empty_question", "question must not be empty")
	ErrInvalidTiming       = newErr(KindValidation, "invalid_timing", "lock height must be before resolution height")
	ErrHorizonTooShort     = newErr(KindValidation, "horizon_too_short", "resolution height is closer than the minimum resolution horizon")
	ErrLockInPast          = newErr(KindValidation, "lock_in_past", "lock height must be after the current height")
	ErrTooFewOutcomes      = newErr(KindValidation, "too_few_outcomes", "market needs at least two outcomes")
	ErrTooManyOutcomes     = newErr(KindValidation, "too_many_outcomes", "market has more outcomes than allowed")
	ErrEmptyOutcomeLabel   = newErr(KindValidation, "empty_outcome_label", "outcome labels must not be empty")
	ErrInvalidScalarRange  = newErr(KindValidation, "invalid_scalar_range", "scalar minimum must be below maximum")
	ErrInvalidLiquidity    = newErr(KindValidation, "invalid_liquidity", "liquidity parameter must be positive")
	ErrInvalidAmount       = newErr(KindValidation, "invalid_amount", "amount must be positive")
	ErrInvalidAddress      = newErr(KindValidation, "invalid_address", "address is not a valid account")
	ErrSelfTransfer        = newErr(KindValidation, "self_transfer", "sender and recipient are the same")
	ErrInvalidBlocks       = newErr(KindValidation, "invalid_blocks", "block count must be positive")
	ErrInvalidOutcomeParam = newErr(KindValidation, "invalid_outcome_param", "outcome index must not be negative")
)

// Authorization errors.
var (
	ErrOracleNotRegistered = newErr(KindAuthorization, "oracle_not_registered", "oracle is not registered")
	ErrOracleNotAuthorized = newErr(KindAuthorization, "oracle_not_authorized", "oracle is not authorized by both the registry and the market manager")
	ErrBondTooLow          = newErr(KindAuthorization, "bond_too_low", "oracle bond is below the minimum")
	ErrStakeTooLow         = newErr(KindAuthorization, "stake_too_low", "manager stake is below the minimum")
	ErrNotResolver         = newErr(KindAuthorization, "not_resolver", "caller is not the market's assigned oracle")
	ErrNotCreator          = newErr(KindAuthorization, "not_creator", "caller is not the market creator")
)

// State errors.
var (
	ErrMarketNotFound  = newErr(KindNotFound, "market_not_found", "market does not exist")
	ErrInvalidOutcome  = newErr(KindState, "invalid_outcome", "outcome index out of range")
	ErrTradingClosed   = newErr(KindState, "trading_closed", "market is not open for trading")
	ErrTooEarly        = newErr(KindState, "too_early", "resolution height has not been reached")
	ErrAlreadyResolved = newErr(KindState, "already_resolved", "market is already resolved")
	ErrMarketCancelled = newErr(KindState, "market_cancelled", "market is cancelled")
	ErrNotResolved     = newErr(KindState, "not_resolved", "market is not resolved")
	ErrNoWinningShares = newErr(KindState, "no_winning_shares", "caller holds no winning shares")
	ErrMarketHasTrades = newErr(KindState, "market_has_trades", "market already has trades")
)

// Arithmetic and liquidity errors.
var (
	ErrComputationFailed  = newErr(KindArithmetic, "computation_failed", "quote could not be bracketed within the iteration budget")
	ErrInsufficientFunds  = newErr(KindArithmetic, "insufficient_balance", "insufficient balance")
	ErrInsufficientShares = newErr(KindArithmetic, "insufficient_shares", "insufficient shares held")
	ErrSlippage           = newErr(KindArithmetic, "slippage", "slippage bound violated")
	ErrVaultUnderflow     = newErr(KindArithmetic, "vault_underflow", "vault balance would become negative")
	ErrZeroShares         = newErr(KindArithmetic, "zero_shares", "trade is too small to yield any shares")
	ErrOverflow           = newErr(KindArithmetic, "overflow", "arithmetic overflow")
)

// KindOf returns the kind of the first *Error in err's chain, KindNotFound
// for ErrNotFound, and KindInternal otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// CodeOf returns the stable code of an engine error, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "internal"
}
