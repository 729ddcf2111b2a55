package redeem

import "fmt"

// NextNonce is the equality-guarded replay transition: only stored+1 is accepted.
func NextNonce(stored, requested uint64) (uint64, error) {
	expected := stored + 1
	if expected == 0 || requested != expected {
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, expected, requested)
	}
	return requested, nil
}
