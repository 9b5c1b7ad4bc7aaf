package lottery

import "errors"

// Sentinel errors for the engine. Every mutating operation either
// completes in full or fails with one of these (possibly wrapped with
// call-site context) leaving state untouched.
var (
	ErrInvalidInput              = errors.New("invalid input")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrTransferFailed            = errors.New("transfer failed")
	ErrThresholdNotMet           = errors.New("settlement threshold not met")
	ErrAlreadyAwaitingRandomness = errors.New("tier already awaiting randomness")
	ErrUnknownCorrelationToken   = errors.New("unknown correlation token")
	ErrProofVerificationFailed   = errors.New("randomness proof verification failed")
	ErrNoValidWinner             = errors.New("no valid winner for draw")
	ErrNothingToWithdraw         = errors.New("nothing to withdraw")
	ErrUnknownTier               = errors.New("unknown tier")
	ErrNotAuthorized             = errors.New("not authorized")
)
