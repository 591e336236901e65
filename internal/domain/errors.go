package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateOrder        = errors.New("duplicate order id")
	ErrInvalidOrder          = errors.New("invalid order parameters")
	ErrPriceValidation       = errors.New("limit price worse than AMM reference")
	ErrMEVDetected           = errors.New("mev pattern detected")
	ErrDuplicateCommitment   = errors.New("commitment already exists")
	ErrRevealTooEarly        = errors.New("reveal before commit-reveal delay")
	ErrRevealExpired         = errors.New("commitment expired or already revealed")
	ErrCommitmentMismatch    = errors.New("payload hash does not match commitment")
	ErrInvalidSignature      = errors.New("signature verification failed")
	ErrVenueUnavailable      = errors.New("venue unavailable")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSettlementFailed      = errors.New("settlement failed")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
)
