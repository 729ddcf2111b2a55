package crypto

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Identity is a 32-byte account identity (Ed25519 public key or opaque account id).
type Identity = solana.PublicKey

// ZeroIdentity is the all-zero identity that is never a valid recipient.
var ZeroIdentity Identity

// ParseIdentity decodes a base58 identity string.
func ParseIdentity(value string) (Identity, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ZeroIdentity, errors.New("crypto: empty identity")
	}
	pk, err := solana.PublicKeyFromBase58(trimmed)
	if err != nil {
		return ZeroIdentity, fmt.Errorf("crypto: invalid identity %q: %w", trimmed, err)
	}
	return pk, nil
}

// ParseSignature decodes a base58 Ed25519 signature.
func ParseSignature(value string) (solana.Signature, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return solana.Signature{}, errors.New("crypto: empty signature")
	}
	sig, err := solana.SignatureFromBase58(trimmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("crypto: invalid signature: %w", err)
	}
	return sig, nil
}

// --- Key Management ---

// AuthorityKey is the Ed25519 signing key of the off-chain payout authority.
type AuthorityKey struct {
	key solana.PrivateKey
}

func GenerateAuthorityKey() (*AuthorityKey, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	return &AuthorityKey{key: key}, nil
}

// AuthorityKeyFromBytes accepts the 64-byte seed||public form used by Solana keypairs.
func AuthorityKeyFromBytes(b []byte) (*AuthorityKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: authority key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	derived := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !bytes.Equal(derived, b) {
		return nil, errors.New("crypto: authority key public half does not match seed")
	}
	return &AuthorityKey{key: solana.PrivateKey(append([]byte(nil), b...))}, nil
}

// Bytes returns the byte representation of the private key.
func (k *AuthorityKey) Bytes() []byte {
	return append([]byte(nil), k.key...)
}

func (k *AuthorityKey) PublicKey() Identity {
	return k.key.PublicKey()
}

// Sign signs a 32-byte message digest.
func (k *AuthorityKey) Sign(hash [32]byte) (solana.Signature, error) {
	if k == nil || len(k.key) == 0 {
		return solana.Signature{}, errors.New("crypto: nil authority key")
	}
	return k.key.Sign(hash[:])
}
