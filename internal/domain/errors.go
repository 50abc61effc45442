package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// ErrUnlockedRecord reports a ledger access to a record the operation did
	// not declare.
	ErrUnlockedRecord = errors.New("record not locked by operation")

	// Validation.
	ErrInvalidFee      = errors.New("fee exceeds 10000 basis points")
	ErrInvalidDeadline = errors.New("resolve timestamp must be in the future")
	ErrInvalidTitle    = errors.New("invalid market title")
	ErrInvalidShares   = errors.New("trade shares must be positive")

	// Lifecycle.
	ErrAlreadyInitialized   = errors.New("config already initialized")
	ErrMarketNotOpen        = errors.New("market not open for trading")
	ErrMarketAlreadySettled = errors.New("market already settled")
	ErrMarketCannotResolve  = errors.New("market cannot resolve before its deadline")
	ErrMarketNotSettled     = errors.New("market not settled")

	// Balances.
	ErrInsufficientSharesToSell = errors.New("insufficient shares to sell")
	ErrNoClaimableWinnings      = errors.New("no claimable winnings")
	ErrInsufficientFunds        = errors.New("insufficient funds")

	// Arithmetic.
	ErrOverflow  = errors.New("arithmetic overflow")
	ErrUnderflow = errors.New("arithmetic underflow")

	// Oracle.
	ErrStalePrice = errors.New("price observation is stale")
)

// ErrorCode returns a stable snake_case code for a known domain error, or
// "internal" when err does not wrap any of them.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrRateLimited, "rate_limited"},
	{ErrUnauthorized, "unauthorized"},
	{ErrLockHeld, "lock_held"},
	{ErrInvalidFee, "invalid_fee"},
	{ErrInvalidDeadline, "invalid_deadline"},
	{ErrInvalidTitle, "invalid_title"},
	{ErrInvalidShares, "invalid_shares"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrMarketNotOpen, "market_not_open"},
	{ErrMarketAlreadySettled, "market_already_settled"},
	{ErrMarketCannotResolve, "market_cannot_resolve"},
	{ErrMarketNotSettled, "market_not_settled"},
	{ErrInsufficientSharesToSell, "insufficient_shares_to_sell"},
	{ErrNoClaimableWinnings, "no_claimable_winnings"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrOverflow, "overflow"},
	{ErrUnderflow, "underflow"},
	{ErrStalePrice, "stale_price"},
}
