package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"megaluck/config"
	"megaluck/core"
	"megaluck/core/events"
	"megaluck/core/state"
	"megaluck/crypto"
	"megaluck/native/redeem"
	"megaluck/observability/audit"
	"megaluck/rpc"
	"megaluck/storage"
)

func keygen(t *testing.T) (string, solana.PublicKey) {
	t.Helper()
	t.Setenv(config.DefaultAuthorityPassEnv, "pw")
	path := filepath.Join(t.TempDir(), "authority.keystore")
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"keygen", "--keystore", path, "--light"}, &out))
	pub, err := crypto.ParseIdentity(out.String())
	require.NoError(t, err)
	return path, pub
}

func TestKeygenAndPubkey(t *testing.T) {
	path, pub := keygen(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"pubkey", "--keystore", path}, &out))
	require.Equal(t, pub.String(), strings.TrimSpace(out.String()))

	err := run(context.Background(), []string{"keygen", "--keystore", path, "--light"}, io.Discard)
	require.ErrorContains(t, err, "already exists")
}

func TestSignClaimWithExplicitNonce(t *testing.T) {
	path, pub := keygen(t)
	payer := solana.NewWallet().PublicKey()
	r1 := solana.NewWallet().PublicKey()
	r3 := solana.NewWallet().PublicKey()

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"sign-claim", "--keystore", path,
		"--payer", payer.String(),
		"--amounts", "300,0,100",
		"--recipients", r1.String() + ",," + r3.String(),
		"--order-type", "2",
		"--nonce", "4",
	}, &out)
	require.NoError(t, err)

	var wire rpc.ClaimRequestJSON
	require.NoError(t, json.Unmarshal(out.Bytes(), &wire))
	req, err := wire.Decode()
	require.NoError(t, err)
	require.Equal(t, uint64(4), req.Nonce)
	require.Equal(t, [3]uint64{300, 0, 100}, req.Amounts)
	require.True(t, req.Recipients[1].IsZero())

	var verifier crypto.Ed25519Verifier
	require.NoError(t, verifier.Verify(redeem.ClaimHash(req, req.Nonce), pub, req.Signature))
}

func TestSignRankRejectsOpenWindow(t *testing.T) {
	path, _ := keygen(t)
	now := uint64(time.Now().Unix())
	err := run(context.Background(), []string{
		"sign-rank", "--keystore", path,
		"--payer", solana.NewWallet().PublicKey().String(),
		"--recipient", solana.NewWallet().PublicKey().String(),
		"--amount", "10",
		"--start", strconv.FormatUint(now-60, 10),
		"--end", strconv.FormatUint(now+3600, 10),
		"--nonce", "1",
	}, io.Discard)
	require.Error(t, err)
}

func TestSignRequiresNonceSource(t *testing.T) {
	path, _ := keygen(t)
	err := run(context.Background(), []string{
		"sign-claim", "--keystore", path,
		"--payer", solana.NewWallet().PublicKey().String(),
		"--amounts", "1",
		"--recipients", solana.NewWallet().PublicKey().String(),
	}, io.Discard)
	require.ErrorContains(t, err, "--nonce or --rpc")
}

func TestSignClaimSubmitsOverRPC(t *testing.T) {
	path, pub := keygen(t)
	admin := solana.NewWallet().PublicKey()
	asset := solana.NewWallet().PublicKey()

	node, err := core.NewNode(storage.NewMemDB(),
		core.WithAdministrator(admin),
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	_, err = node.ApplyGenesis(asset, 1000, nil)
	require.NoError(t, err)
	_, err = node.InitConfig(admin, pub, asset, 0)
	require.NoError(t, err)

	ts := httptest.NewServer(rpc.NewServer(node, rpc.ServerConfig{}).Handler())
	defer ts.Close()

	payer := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	for i := 0; i < 2; i++ {
		var out bytes.Buffer
		err := run(context.Background(), []string{
			"sign-claim", "--keystore", path,
			"--payer", payer.String(),
			"--amounts", "100",
			"--recipients", recipient.String(),
			"--rpc", ts.URL,
			"--submit",
		}, &out)
		require.NoError(t, err)
		var result rpc.SettlementResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &result))
		require.Equal(t, uint64(i+1), result.Nonce)
	}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"nonce", "--rpc", ts.URL, "--owner", payer.String()}, &out))
	require.Equal(t, "2", strings.TrimSpace(out.String()))

	balance, err := node.Balance(recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(200), balance)
}

func TestAuditExportAndVerify(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "audit.db")
	sink, err := audit.Open(dsn)
	require.NoError(t, err)
	payer := solana.NewWallet().PublicKey()
	sink.Emit(events.ClaimSettled{Payer: payer, Nonce: 1, Amounts: [3]uint64{1, 2, 3}})
	sink.Emit(events.Deposited{From: payer, Amount: 4})
	require.NoError(t, sink.Close())

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"audit-verify", "--db", dsn}, &out))
	require.Contains(t, out.String(), "2 rows")

	out.Reset()
	dest := filepath.Join(dir, "audit.parquet")
	require.NoError(t, run(context.Background(), []string{
		"audit-export", "--db", dsn, "--out", dest, "--type", events.TypeRedeemClaim,
	}, &out))
	require.Contains(t, out.String(), "exported 1 rows")
	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	err = run(context.Background(), []string{"audit-export", "--db", dsn}, io.Discard)
	require.ErrorContains(t, err, "--out")
}

func TestSignClaimQueuesThroughLedger(t *testing.T) {
	path, pub := keygen(t)
	admin := solana.NewWallet().PublicKey()
	node, err := core.NewNode(storage.NewMemDB(),
		core.WithAdministrator(admin),
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	_, err = node.InitConfig(admin, pub, solana.NewWallet().PublicKey(), 0)
	require.NoError(t, err)
	ts := httptest.NewServer(rpc.NewServer(node, rpc.ServerConfig{}).Handler())
	defer ts.Close()

	ledger := filepath.Join(t.TempDir(), "issued.db")
	payer := solana.NewWallet().PublicKey()
	args := []string{
		"sign-claim", "--keystore", path,
		"--payer", payer.String(),
		"--amounts", "5",
		"--recipients", solana.NewWallet().PublicKey().String(),
		"--rpc", ts.URL,
		"--ledger", ledger,
	}
	for want := uint64(1); want <= 2; want++ {
		var out bytes.Buffer
		require.NoError(t, run(context.Background(), args, &out))
		var wire rpc.ClaimRequestJSON
		require.NoError(t, json.Unmarshal(out.Bytes(), &wire))
		require.Equal(t, want, wire.Nonce)
	}

	err = run(context.Background(), append(args, "--nonce", "9"), io.Discard)
	require.ErrorContains(t, err, "--ledger cannot be combined")
}

func TestHolderDepositAndLottery(t *testing.T) {
	path, holder := keygen(t)
	admin := solana.NewWallet().PublicKey()
	node, err := core.NewNode(storage.NewMemDB(),
		core.WithAdministrator(admin),
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	asset := solana.NewWallet().PublicKey()
	_, err = node.ApplyGenesis(asset, 0, []state.GenesisAllocation{{Owner: holder, Amount: 100}})
	require.NoError(t, err)
	_, err = node.InitConfig(admin, solana.NewWallet().PublicKey(), asset, 7)
	require.NoError(t, err)
	ts := httptest.NewServer(rpc.NewServer(node, rpc.ServerConfig{}).Handler())
	defer ts.Close()

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"deposit", "--keystore", path, "--rpc", ts.URL, "--amount", "40"}, &out))
	var pool rpc.BalanceResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &pool))
	require.Equal(t, "40", pool.Balance)

	out.Reset()
	require.NoError(t, run(context.Background(), []string{
		"enter-lottery", "--keystore", path, "--rpc", ts.URL,
		"--nft-mint", solana.NewWallet().PublicKey().String(), "--name", "ticket",
	}, &out))
	var entry rpc.LotteryResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	require.Equal(t, "7", entry.Fee)

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"nonce", "--rpc", ts.URL, "--owner", holder.String(), "--class", "holder"}, &out))
	require.Equal(t, "2", strings.TrimSpace(out.String()))

	balance, err := node.Balance(holder)
	require.NoError(t, err)
	require.Equal(t, uint64(53), balance)
}
