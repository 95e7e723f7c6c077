// Package service provides business logic implementations.
package service

import "errors"

// Stake validation errors. They are reported to the user as a rejected
// stake and never retried.
var (
	ErrStaleRound        = errors.New("round is no longer current")
	ErrInvalidRateToken  = errors.New("unknown rate token")
	ErrUnparsableAmount  = errors.New("unparsable amount")
	ErrBelowMinimum      = errors.New("amount below minimum stake")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOpposingStake     = errors.New("opposing stake in the same round")
	ErrLimitExceeded     = errors.New("per-event stake limit exceeded")
	ErrRoundClosing      = errors.New("round is closing")
	ErrNothingToRepeat   = errors.New("no previous stake to repeat")
	ErrInvalidTimer      = errors.New("invalid round timer")
	ErrBusy              = errors.New("another stake by this user is in progress")
)

var validationErrors = []error{
	ErrStaleRound,
	ErrInvalidRateToken,
	ErrUnparsableAmount,
	ErrBelowMinimum,
	ErrInsufficientFunds,
	ErrOpposingStake,
	ErrLimitExceeded,
	ErrRoundClosing,
	ErrNothingToRepeat,
	ErrInvalidTimer,
	ErrBusy,
}

// IsValidation reports whether err is a user-facing rejection rather than
// a storage or settlement fault.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
