package state

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	genesisKeyBytes = []byte("redeem/genesis")

	ErrGenesisApplied = errors.New("state: genesis already applied")
)

// GenesisAllocation seeds a holder balance.
type GenesisAllocation struct {
	Owner  solana.PublicKey
	Amount uint64
}

// GenesisApplied reports whether ApplyGenesis has already run against this database.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.KVGet(genesisKeyBytes, nil)
}

// ApplyGenesis stages the pool seed and holder allocations and marks the database
// so they are never applied twice.
func (m *Manager) ApplyGenesis(asset solana.PublicKey, pool uint64, allocations []GenesisAllocation) error {
	applied, err := m.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return ErrGenesisApplied
	}
	if pool > 0 {
		if err := m.PoolCredit(asset, pool); err != nil {
			return err
		}
	}
	for _, alloc := range allocations {
		if err := m.Credit(asset, alloc.Owner, alloc.Amount); err != nil {
			return err
		}
	}
	return m.KVPut(genesisKeyBytes, true)
}
