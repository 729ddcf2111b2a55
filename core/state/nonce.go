package state

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"megaluck/native/redeem"
)

type storedNonce struct {
	Owner [32]byte
	Nonce uint64
}

func (m *Manager) loadNonce(owner solana.PublicKey, class redeem.ClaimClass) (uint64, bool, error) {
	var stored storedNonce
	ok, err := m.KVGet(nonceKey(owner, class), &stored)
	if err != nil {
		return 0, false, fmt.Errorf("state: load nonce: %w", err)
	}
	return stored.Nonce, ok, nil
}

func (m *Manager) writeNonce(owner solana.PublicKey, class redeem.ClaimClass, nonce uint64) error {
	return m.KVPut(nonceKey(owner, class), storedNonce{Owner: owner, Nonce: nonce})
}

// NonceGet returns the last accepted nonce, zero for accounts never used.
func (m *Manager) NonceGet(owner solana.PublicKey, class redeem.ClaimClass) (uint64, error) {
	nonce, _, err := m.loadNonce(owner, class)
	return nonce, err
}

// NonceCheckAndAdvance accepts requested only when it equals stored+1 and persists it.
func (m *Manager) NonceCheckAndAdvance(owner solana.PublicKey, class redeem.ClaimClass, requested uint64) (uint64, error) {
	stored, _, err := m.loadNonce(owner, class)
	if err != nil {
		return 0, err
	}
	accepted, err := redeem.NextNonce(stored, requested)
	if err != nil {
		return 0, err
	}
	if err := m.writeNonce(owner, class, accepted); err != nil {
		return 0, err
	}
	return accepted, nil
}

// NonceInit materializes a zero record if the account does not exist yet.
func (m *Manager) NonceInit(owner solana.PublicKey, class redeem.ClaimClass) error {
	_, ok, err := m.loadNonce(owner, class)
	if err != nil || ok {
		return err
	}
	return m.writeNonce(owner, class, 0)
}
