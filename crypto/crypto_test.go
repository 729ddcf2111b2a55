package crypto

import (
	"errors"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func digest(msg string) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256([]byte(msg)))
	return out
}

func TestEd25519VerifierRoundTrip(t *testing.T) {
	key, err := GenerateAuthorityKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	hash := digest("payout")
	sig, err := key.Sign(hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var v Ed25519Verifier
	if err := v.Verify(hash, key.PublicKey(), sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := v.Verify(digest("other"), key.PublicKey(), sig); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for different digest, got %v", err)
	}

	other, _ := GenerateAuthorityKey()
	if err := v.Verify(hash, other.PublicKey(), sig); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for wrong key, got %v", err)
	}
	if err := v.Verify(hash, ZeroIdentity, sig); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for zero key, got %v", err)
	}
}

func TestParseIdentity(t *testing.T) {
	key, _ := GenerateAuthorityKey()
	encoded := key.PublicKey().String()
	parsed, err := ParseIdentity("  " + encoded + " ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != key.PublicKey() {
		t.Fatalf("identity mismatch")
	}
	if _, err := ParseIdentity(""); err == nil {
		t.Fatalf("expected error for empty identity")
	}
	if _, err := ParseIdentity("not-base58-0OIl"); err == nil {
		t.Fatalf("expected error for malformed identity")
	}
}

func TestAuthorityKeyFromBytesRejectsMismatch(t *testing.T) {
	key, _ := GenerateAuthorityKey()
	raw := key.Bytes()
	if _, err := AuthorityKeyFromBytes(raw); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	raw[63] ^= 0xff
	if _, err := AuthorityKeyFromBytes(raw); err == nil {
		t.Fatalf("expected mismatch error")
	}
	if _, err := AuthorityKeyFromBytes(raw[:32]); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, _ := GenerateAuthorityKey()
	path := filepath.Join(t.TempDir(), "keys", "authority.keystore")

	if err := SaveToKeystoreWithParams(path, key, "hunter2", LightScrypt); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PublicKey() != key.PublicKey() {
		t.Fatalf("public key mismatch after reload")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected error for wrong passphrase")
	}
}
