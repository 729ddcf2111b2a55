package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"megaluck/config"
	"megaluck/crypto"
	"megaluck/native/common"
	"megaluck/native/redeem"
)

func testConfig(t *testing.T) (*config.Config, *crypto.AuthorityKey) {
	t.Helper()
	dir := t.TempDir()
	key, err := crypto.GenerateAuthorityKey()
	require.NoError(t, err)
	keystorePath := filepath.Join(dir, "authority.keystore")
	require.NoError(t, crypto.SaveToKeystoreWithParams(keystorePath, key, "pw", crypto.LightScrypt))

	owner := solana.NewWallet().PublicKey()
	cfg := &config.Config{
		RPCAddress:            "127.0.0.1:0",
		DataDir:               filepath.Join(dir, "data"),
		AuditDB:               filepath.Join(dir, "audit.db"),
		AdminIdentity:         solana.NewWallet().PublicKey().String(),
		AuthorityKeystorePath: keystorePath,
		Asset:                 solana.NewWallet().PublicKey().String(),
		FeeAmount:             3,
		GenesisPool:           5000,
		Pauses:                config.Pauses{Lottery: true},
		Allocations:           []config.Allocation{{Owner: owner.String(), Amount: 70}},
	}
	return cfg, key
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDaemonBootstrapsConfigAndGenesis(t *testing.T) {
	cfg, key := testConfig(t)
	rt, err := cfg.Runtime()
	require.NoError(t, err)

	d, err := newDaemon(cfg, rt, quietLogger(), func() (string, error) { return "pw", nil })
	require.NoError(t, err)

	stored, err := d.node.Config()
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), stored.AuthorityKey)
	require.Equal(t, rt.Asset, stored.AssetID)
	require.Equal(t, uint64(3), stored.FeeAmount)

	pool, err := d.node.PoolBalance()
	require.NoError(t, err)
	require.Equal(t, uint64(5000), pool)
	balance, err := d.node.Balance(rt.Allocations[0].Owner)
	require.NoError(t, err)
	require.Equal(t, uint64(70), balance)
	require.Equal(t, []string{redeem.ModuleLottery}, d.node.Paused())
	d.Close()

	// Reopening keeps the stored config and does not re-apply allocations.
	d, err = newDaemon(cfg, rt, quietLogger(), func() (string, error) {
		t.Fatalf("passphrase must not be requested when config exists")
		return "", nil
	})
	require.NoError(t, err)
	defer d.Close()
	pool, err = d.node.PoolBalance()
	require.NoError(t, err)
	require.Equal(t, uint64(5000), pool)
}

func TestNewDaemonWithoutBootstrapLeavesConfigEmpty(t *testing.T) {
	cfg, _ := testConfig(t)
	rt, err := cfg.Runtime()
	require.NoError(t, err)

	d, err := newDaemon(cfg, rt, quietLogger(), nil)
	require.NoError(t, err)
	defer d.Close()
	_, err = d.node.Config()
	require.ErrorIs(t, err, redeem.ErrNotInitialized)
}

func TestNewDaemonRejectsWrongPassphrase(t *testing.T) {
	cfg, _ := testConfig(t)
	rt, err := cfg.Runtime()
	require.NoError(t, err)

	_, err = newDaemon(cfg, rt, quietLogger(), func() (string, error) { return "nope", nil })
	require.ErrorContains(t, err, "authority keystore")
}

func TestDaemonReadiness(t *testing.T) {
	cfg, _ := testConfig(t)
	rt, err := cfg.Runtime()
	require.NoError(t, err)

	d, err := newDaemon(cfg, rt, quietLogger(), nil)
	require.NoError(t, err)
	require.ErrorIs(t, d.ready(), redeem.ErrNotInitialized)
	d.Close()

	d, err = newDaemon(cfg, rt, quietLogger(), func() (string, error) { return "pw", nil })
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.ready())

	d.node.SetPaused(redeem.ModuleClaims, true)
	require.ErrorIs(t, d.ready(), common.ErrModulePaused)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, d.health.Refresh())
}
