package state

import (
	"fmt"

	"megaluck/native/redeem"
)

type storedConfig struct {
	AuthorityKey [32]byte
	AssetID      [32]byte
	FeeAmount    uint64
}

// ConfigGet loads the bootstrap config. The boolean reports whether it exists.
func (m *Manager) ConfigGet() (*redeem.Config, bool, error) {
	var stored storedConfig
	ok, err := m.KVGet(configKeyBytes, &stored)
	if err != nil {
		return nil, false, fmt.Errorf("state: load config: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redeem.Config{
		AuthorityKey: stored.AuthorityKey,
		AssetID:      stored.AssetID,
		FeeAmount:    stored.FeeAmount,
	}, true, nil
}

// ConfigInit writes the bootstrap config exactly once.
func (m *Manager) ConfigInit(cfg *redeem.Config) error {
	if cfg == nil {
		return fmt.Errorf("state: nil config")
	}
	_, exists, err := m.ConfigGet()
	if err != nil {
		return err
	}
	if exists {
		return redeem.ErrAlreadyInited
	}
	return m.KVPut(configKeyBytes, storedConfig{
		AuthorityKey: cfg.AuthorityKey,
		AssetID:      cfg.AssetID,
		FeeAmount:    cfg.FeeAmount,
	})
}
