package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/pflag"

	"megaluck/cmd/internal/passphrase"
	"megaluck/config"
	"megaluck/crypto"
	"megaluck/native/redeem"
	"megaluck/observability/audit"
	"megaluck/rpc"
	"megaluck/services/authority"
)

const usage = `poolctl manages the payout authority key and signs claims.

Usage:
  poolctl keygen     --keystore PATH [--light]
  poolctl pubkey     --keystore PATH
  poolctl nonce      --rpc URL --owner ID [--class standard|rank|holder]
  poolctl sign-claim --keystore PATH --payer ID --amounts A,B,C --recipients R1,R2,R3 [--order-type N] [--nonce N | --rpc URL [--ledger FILE]] [--policy FILE] [--submit]
  poolctl sign-rank  --keystore PATH --payer ID --amount N --recipient ID --start T --end T [--nonce N | --rpc URL [--ledger FILE]] [--policy FILE] [--submit]
  poolctl deposit    --keystore PATH --rpc URL --amount N
  poolctl enter-lottery --keystore PATH --rpc URL --nft-mint ID --name NAME
  poolctl audit-export --db DSN --out FILE [--type T] [--payer ID] [--limit N]
  poolctl audit-verify --db DSN
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "poolctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("command required")
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], out)
	case "pubkey":
		return runPubkey(args[1:], out)
	case "nonce":
		return runNonce(ctx, args[1:], out)
	case "sign-claim":
		return runSignClaim(ctx, args[1:], out)
	case "sign-rank":
		return runSignRank(ctx, args[1:], out)
	case "deposit":
		return runDeposit(ctx, args[1:], out)
	case "enter-lottery":
		return runEnterLottery(ctx, args[1:], out)
	case "audit-export":
		return runAuditExport(args[1:], out)
	case "audit-verify":
		return runAuditVerify(args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type keyFlags struct {
	keystore *string
	passEnv  *string
}

func addKeyFlags(fs *pflag.FlagSet) keyFlags {
	return keyFlags{
		keystore: fs.StringP("keystore", "k", "./authority.keystore", "Path to the authority keystore"),
		passEnv:  fs.String("pass-env", config.DefaultAuthorityPassEnv, "Environment variable holding the keystore passphrase"),
	}
}

func (k keyFlags) load() (*crypto.AuthorityKey, error) {
	pass, err := passphrase.NewSource(*k.passEnv, "authority keystore").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(*k.keystore, pass)
}

func runKeygen(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	keys := addKeyFlags(fs)
	light := fs.Bool("light", false, "Use light scrypt parameters (development only)")
	force := fs.Bool("force", false, "Overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*keys.keystore); err == nil && !*force {
		return fmt.Errorf("keystore %s already exists; pass --force to replace it", *keys.keystore)
	}
	pass, err := passphrase.NewSource(*keys.passEnv, "new authority keystore").Confirming().Get()
	if err != nil {
		return err
	}
	key, err := crypto.GenerateAuthorityKey()
	if err != nil {
		return err
	}
	params := crypto.StandardScrypt
	if *light {
		params = crypto.LightScrypt
	}
	if err := crypto.SaveToKeystoreWithParams(*keys.keystore, key, pass, params); err != nil {
		return err
	}
	fmt.Fprintln(out, key.PublicKey().String())
	return nil
}

func runPubkey(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("pubkey", pflag.ContinueOnError)
	keys := addKeyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := keys.load()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key.PublicKey().String())
	return nil
}

func runNonce(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("nonce", pflag.ContinueOnError)
	endpoint := fs.String("rpc", "http://"+config.DefaultRPCAddress, "JSON-RPC endpoint")
	owner := fs.String("owner", "", "Owner identity (base58)")
	class := fs.String("class", "standard", "Nonce class: standard, rank or holder")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := crypto.ParseIdentity(*owner)
	if err != nil {
		return err
	}
	cls, err := redeem.ParseClaimClass(*class)
	if err != nil {
		return err
	}
	nonce, err := rpc.NewClient(*endpoint, "").Nonce(ctx, id, cls)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, nonce)
	return nil
}

type signFlags struct {
	keys     keyFlags
	endpoint *string
	nonce    *uint64
	policy   *string
	submit   *bool
	ledger   *string
	timeout  *time.Duration
}

func addSignFlags(fs *pflag.FlagSet) signFlags {
	return signFlags{
		keys:     addKeyFlags(fs),
		endpoint: fs.String("rpc", "", "JSON-RPC endpoint used to read the stored nonce and to submit"),
		nonce:    fs.Uint64("nonce", 0, "Nonce to sign; defaults to the stored nonce plus one"),
		policy:   fs.String("policy", "", "YAML policy file with per-class caps"),
		submit:   fs.Bool("submit", false, "Submit the signed claim to --rpc instead of printing it"),
		ledger:   fs.String("ledger", "", "BoltDB file remembering issued nonces between runs"),
		timeout:  fs.Duration("timeout", 15*time.Second, "RPC timeout"),
	}
}

// issuer builds an authority issuer from the flags. An explicit --nonce takes
// precedence over the RPC nonce lookup. The returned close func is never nil.
func (f signFlags) issuer(fs *pflag.FlagSet) (*authority.Issuer, *rpc.Client, func(), error) {
	issuer, client, ledger, err := f.build(fs)
	closeFn := func() {
		if ledger != nil {
			_ = ledger.Close()
		}
	}
	if err != nil {
		closeFn()
		return nil, nil, func() {}, err
	}
	return issuer, client, closeFn, nil
}

func (f signFlags) build(fs *pflag.FlagSet) (*authority.Issuer, *rpc.Client, *authority.BoltLedger, error) {
	key, err := f.keys.load()
	if err != nil {
		return nil, nil, nil, err
	}
	var client *rpc.Client
	if strings.TrimSpace(*f.endpoint) != "" {
		client = rpc.NewClient(*f.endpoint, "")
	}
	var source authority.NonceSource
	switch {
	case fs.Changed("nonce"):
		if *f.nonce == 0 {
			return nil, nil, nil, errors.New("--nonce must be positive")
		}
		explicit := *f.nonce
		source = authority.NonceFunc(func(context.Context, solana.PublicKey, redeem.ClaimClass) (uint64, error) {
			return explicit - 1, nil
		})
	case client != nil:
		source = client
	default:
		return nil, nil, nil, errors.New("either --nonce or --rpc is required")
	}
	if *f.submit && client == nil {
		return nil, nil, nil, errors.New("--submit requires --rpc")
	}
	if fs.Changed("nonce") && strings.TrimSpace(*f.ledger) != "" {
		return nil, nil, nil, errors.New("--ledger cannot be combined with --nonce")
	}

	opts := []authority.IssuerOption{}
	if strings.TrimSpace(*f.policy) != "" {
		policies, err := authority.LoadPolicies(*f.policy)
		if err != nil {
			return nil, nil, nil, err
		}
		enforcer, err := authority.NewPolicyEnforcer(policies)
		if err != nil {
			return nil, nil, nil, err
		}
		opts = append(opts, authority.WithPolicies(enforcer))
	}
	var ledger *authority.BoltLedger
	if strings.TrimSpace(*f.ledger) != "" {
		ledger, err = authority.OpenBoltLedger(*f.ledger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open ledger: %w", err)
		}
		opts = append(opts, authority.WithLedger(ledger))
	}
	issuer, err := authority.NewIssuer(key, source, opts...)
	if err != nil {
		return nil, nil, ledger, err
	}
	return issuer, client, ledger, nil
}

func parseIdentityList(field, raw string) ([redeem.LegCount]solana.PublicKey, error) {
	var out [redeem.LegCount]solana.PublicKey
	parts := strings.Split(raw, ",")
	if len(parts) > redeem.LegCount {
		return out, fmt.Errorf("%s accepts at most %d values", field, redeem.LegCount)
	}
	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := crypto.ParseIdentity(part)
		if err != nil {
			return out, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out[i] = id
	}
	return out, nil
}

func parseAmountList(raw string) ([redeem.LegCount]uint64, error) {
	var out [redeem.LegCount]uint64
	parts := strings.Split(raw, ",")
	if len(parts) > redeem.LegCount {
		return out, fmt.Errorf("amounts accepts at most %d values", redeem.LegCount)
	}
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		v, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return out, fmt.Errorf("amounts[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSignClaim(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("sign-claim", pflag.ContinueOnError)
	sf := addSignFlags(fs)
	payer := fs.String("payer", "", "Payer identity (base58)")
	amounts := fs.String("amounts", "", "Comma separated leg amounts")
	recipients := fs.String("recipients", "", "Comma separated leg recipients (base58)")
	orderType := fs.Uint64("order-type", 0, "Order type tag")
	if err := fs.Parse(args); err != nil {
		return err
	}
	payerID, err := crypto.ParseIdentity(*payer)
	if err != nil {
		return err
	}
	legAmounts, err := parseAmountList(*amounts)
	if err != nil {
		return err
	}
	legRecipients, err := parseIdentityList("recipients", *recipients)
	if err != nil {
		return err
	}
	issuer, client, closeLedger, err := sf.issuer(fs)
	if err != nil {
		return err
	}
	defer closeLedger()

	ctx, cancel := context.WithTimeout(ctx, *sf.timeout)
	defer cancel()
	req, err := issuer.AuthorizeClaim(ctx, authority.ClaimParams{
		Payer:      payerID,
		Amounts:    legAmounts,
		Recipients: legRecipients,
		OrderType:  *orderType,
	})
	if err != nil {
		return err
	}
	if *sf.submit {
		result, err := client.SubmitClaim(ctx, req)
		if err != nil {
			return err
		}
		return writeJSON(out, result)
	}
	return writeJSON(out, rpc.EncodeClaimRequest(req))
}

func runSignRank(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("sign-rank", pflag.ContinueOnError)
	sf := addSignFlags(fs)
	payer := fs.String("payer", "", "Payer identity (base58)")
	amount := fs.Uint64("amount", 0, "Payout amount")
	recipient := fs.String("recipient", "", "Recipient identity (base58)")
	start := fs.Uint64("start", 0, "Ranking window start (unix seconds)")
	end := fs.Uint64("end", 0, "Ranking window end (unix seconds)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	payerID, err := crypto.ParseIdentity(*payer)
	if err != nil {
		return err
	}
	recipientID, err := crypto.ParseIdentity(*recipient)
	if err != nil {
		return err
	}
	issuer, client, closeLedger, err := sf.issuer(fs)
	if err != nil {
		return err
	}
	defer closeLedger()

	ctx, cancel := context.WithTimeout(ctx, *sf.timeout)
	defer cancel()
	req, err := issuer.AuthorizeRank(ctx, authority.RankParams{
		Payer:     payerID,
		Amount:    *amount,
		Recipient: recipientID,
		StartTime: *start,
		EndTime:   *end,
	})
	if err != nil {
		return err
	}
	if *sf.submit {
		result, err := client.SubmitRankClaim(ctx, req)
		if err != nil {
			return err
		}
		return writeJSON(out, result)
	}
	return writeJSON(out, rpc.EncodeRankClaimRequest(req))
}

type holderFlags struct {
	keys     keyFlags
	endpoint *string
	timeout  *time.Duration
}

func addHolderFlags(fs *pflag.FlagSet) holderFlags {
	return holderFlags{
		keys:     addKeyFlags(fs),
		endpoint: fs.String("rpc", "http://"+config.DefaultRPCAddress, "JSON-RPC endpoint"),
		timeout:  fs.Duration("timeout", 15*time.Second, "RPC timeout"),
	}
}

// holderSession loads the holder key and reads the next holder nonce.
func (f holderFlags) holderSession(ctx context.Context) (*crypto.AuthorityKey, *rpc.Client, uint64, error) {
	key, err := f.keys.load()
	if err != nil {
		return nil, nil, 0, err
	}
	client := rpc.NewClient(*f.endpoint, "")
	stored, err := client.Nonce(ctx, key.PublicKey(), redeem.ClaimClassHolder)
	if err != nil {
		return nil, nil, 0, err
	}
	return key, client, stored + 1, nil
}

func runDeposit(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("deposit", pflag.ContinueOnError)
	hf := addHolderFlags(fs)
	amount := fs.Uint64("amount", 0, "Amount to move into the pool")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, *hf.timeout)
	defer cancel()
	key, client, nonce, err := hf.holderSession(ctx)
	if err != nil {
		return err
	}
	req := &redeem.DepositRequest{
		From:      key.PublicKey(),
		Amount:    *amount,
		Timestamp: uint64(time.Now().Unix()),
		Nonce:     nonce,
	}
	if req.Signature, err = key.Sign(redeem.DepositHash(req, nonce)); err != nil {
		return err
	}
	pool, err := client.Deposit(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(out, rpc.BalanceResult{Balance: pool})
}

func runEnterLottery(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("enter-lottery", pflag.ContinueOnError)
	hf := addHolderFlags(fs)
	mint := fs.String("nft-mint", "", "NFT mint identity (base58)")
	name := fs.String("name", "", "Entry display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mintID, err := crypto.ParseIdentity(*mint)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, *hf.timeout)
	defer cancel()
	key, client, nonce, err := hf.holderSession(ctx)
	if err != nil {
		return err
	}
	req := &redeem.LotteryEntry{
		Payer:     key.PublicKey(),
		NFTMint:   mintID,
		Name:      *name,
		Timestamp: uint64(time.Now().Unix()),
		Nonce:     nonce,
	}
	if req.Signature, err = key.Sign(redeem.LotteryHash(req, nonce)); err != nil {
		return err
	}
	result, err := client.EnterLottery(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

func openAudit(fs *pflag.FlagSet, args []string) (*audit.Sink, error) {
	dsn := fs.String("db", "", "Audit database DSN (sqlite path or postgres:// URL)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*dsn) == "" {
		return nil, errors.New("--db is required")
	}
	return audit.Open(*dsn)
}

func runAuditExport(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("audit-export", pflag.ContinueOnError)
	dest := fs.StringP("out", "o", "", "Parquet file to write")
	eventType := fs.String("type", "", "Only export this event type")
	payer := fs.String("payer", "", "Only export rows for this payer")
	limit := fs.Int("limit", 0, "Maximum rows, newest first")
	sink, err := openAudit(fs, args)
	if err != nil {
		return err
	}
	defer sink.Close()
	if strings.TrimSpace(*dest) == "" {
		return errors.New("--out is required")
	}
	records, err := sink.List(audit.Query{Type: *eventType, Payer: *payer, Limit: *limit})
	if err != nil {
		return err
	}
	if err := audit.ExportParquet(*dest, records); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d rows to %s\n", len(records), *dest)
	return nil
}

func runAuditVerify(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("audit-verify", pflag.ContinueOnError)
	sink, err := openAudit(fs, args)
	if err != nil {
		return err
	}
	defer sink.Close()
	checked, err := sink.Verify()
	if err != nil {
		return fmt.Errorf("after %d intact rows: %w", checked, err)
	}
	fmt.Fprintf(out, "audit chain intact: %d rows\n", checked)
	return nil
}
