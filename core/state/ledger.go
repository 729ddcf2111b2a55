package state

import (
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"

	"megaluck/native/redeem"
)

func (m *Manager) loadAmount(key []byte) (uint64, error) {
	var amount uint64
	if _, err := m.KVGet(key, &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func (m *Manager) addAmount(key []byte, delta uint64) (uint64, error) {
	current, err := m.loadAmount(key)
	if err != nil {
		return 0, err
	}
	if current > math.MaxUint64-delta {
		return 0, fmt.Errorf("%w: balance overflow", redeem.ErrInvalidAmount)
	}
	next := current + delta
	return next, m.KVPut(key, next)
}

func (m *Manager) subAmount(key []byte, delta uint64) (uint64, error) {
	current, err := m.loadAmount(key)
	if err != nil {
		return 0, err
	}
	if delta > current {
		return 0, fmt.Errorf("%w: have %d, need %d", redeem.ErrInsufficientBalance, current, delta)
	}
	next := current - delta
	return next, m.KVPut(key, next)
}

// PoolBalance returns the custodial pool balance for the asset.
func (m *Manager) PoolBalance(asset solana.PublicKey) (uint64, error) {
	return m.loadAmount(poolKey(asset))
}

// PoolDebit removes amount from the pool, never letting it go negative.
func (m *Manager) PoolDebit(asset solana.PublicKey, amount uint64) error {
	_, err := m.subAmount(poolKey(asset), amount)
	return err
}

func (m *Manager) PoolCredit(asset solana.PublicKey, amount uint64) error {
	_, err := m.addAmount(poolKey(asset), amount)
	return err
}

// Balance returns a holder's balance of the asset.
func (m *Manager) Balance(asset, owner solana.PublicKey) (uint64, error) {
	return m.loadAmount(balanceKey(asset, owner))
}

func (m *Manager) Credit(asset, owner solana.PublicKey, amount uint64) error {
	_, err := m.addAmount(balanceKey(asset, owner), amount)
	return err
}

func (m *Manager) Debit(asset, owner solana.PublicKey, amount uint64) error {
	_, err := m.subAmount(balanceKey(asset, owner), amount)
	return err
}
