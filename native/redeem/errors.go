package redeem

import (
	"errors"

	"megaluck/native/common"
)

var (
	ErrNotSigner             = errors.New("redeem: caller is not the administrator")
	ErrAlreadyInited         = errors.New("redeem: config already initialized")
	ErrNotInitialized        = errors.New("redeem: config not initialized")
	ErrInsufficientBalance   = errors.New("redeem: insufficient balance")
	ErrInvalidTimestamp      = errors.New("redeem: authorization expired")
	ErrInvalidNonce          = errors.New("redeem: invalid nonce")
	ErrSigVerificationFailed = errors.New("redeem: signature verification failed")
	ErrZeroAddress           = errors.New("redeem: zero address")
	ErrInvalidAmount         = errors.New("redeem: invalid amount")
	ErrInvalidName           = errors.New("redeem: invalid name")
	ErrInvalidClass          = errors.New("redeem: invalid claim class")

	errNilState = errors.New("redeem engine: state not configured")
)

// Kind returns a short label for the error, suitable for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotSigner):
		return "not_signer"
	case errors.Is(err, ErrAlreadyInited):
		return "already_inited"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, ErrInvalidNonce):
		return "invalid_nonce"
	case errors.Is(err, ErrSigVerificationFailed):
		return "sig_verification_failed"
	case errors.Is(err, ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrInvalidClass):
		return "invalid_class"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	default:
		return "internal"
	}
}
