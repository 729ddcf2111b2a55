package crypto

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrSignatureInvalid        = errors.New("crypto: signature invalid")
	ErrVerificationUnavailable = errors.New("crypto: verification context unavailable")
)

// Verifier checks an authority signature over a 32-byte message digest.
type Verifier interface {
	Verify(hash [32]byte, key Identity, sig solana.Signature) error
}

// Ed25519Verifier verifies plain Ed25519 signatures. It keeps no state.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(hash [32]byte, key Identity, sig solana.Signature) error {
	if key.IsZero() {
		return ErrSignatureInvalid
	}
	if !sig.Verify(key, hash[:]) {
		return ErrSignatureInvalid
	}
	return nil
}
