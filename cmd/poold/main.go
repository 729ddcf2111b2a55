package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"megaluck/cmd/internal/passphrase"
	"megaluck/config"
	"megaluck/core"
	"megaluck/core/events"
	"megaluck/core/state"
	"megaluck/crypto"
	"megaluck/native/common"
	"megaluck/native/redeem"
	"megaluck/observability/audit"
	"megaluck/observability/health"
	"megaluck/observability/logging"
	telemetry "megaluck/observability/otel"
	"megaluck/rpc"
	"megaluck/storage"
)

func main() {
	flags := pflag.NewFlagSet("poold", pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "./config.toml", "Path to the configuration file")
	bootstrap := flags.Bool("bootstrap", true, "Initialize the pool config from the authority keystore when it is missing")
	verbose := flags.BoolP("verbose", "v", false, "Enable debug logging")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *bootstrap, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "poold: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string, bootstrap, verbose bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := cfg.Runtime()
	if err != nil {
		return err
	}
	output, closeLog, err := logging.Output(os.Stdout, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closeLog()
	logger := logging.SetupFormat(output, "poold", cfg.Environment, cfg.LogFormat, verbose)

	if cfg.Telemetry.Enabled() {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "poold",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	var passphrases func() (string, error)
	if bootstrap {
		passphrases = passphrase.NewSource(cfg.AuthorityPassEnv, "authority keystore").Get
	}
	d, err := newDaemon(cfg, rt, logger, passphrases)
	if err != nil {
		return err
	}
	defer d.Close()

	logger.Info("poold starting",
		slog.String("addr", cfg.RPCAddress),
		slog.String("asset", rt.Asset.String()),
		slog.Uint64("height", d.node.Height()))

	if cfg.HealthAddress == "" {
		return d.server.Start(ctx, cfg.RPCAddress)
	}
	ln, err := net.Listen("tcp", cfg.HealthAddress)
	if err != nil {
		return fmt.Errorf("listen health: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	healthErr := make(chan error, 1)
	go func() {
		healthErr <- d.health.Serve(ctx, ln)
		cancel()
	}()
	if err := d.server.Start(ctx, cfg.RPCAddress); err != nil {
		return err
	}
	cancel()
	return <-healthErr
}

type daemon struct {
	node   *core.Node
	sink   *audit.Sink
	events *events.Broadcaster
	server *rpc.Server
	health *health.Server
	logger *slog.Logger
}

// newDaemon opens storage, applies allocations and the optional config
// bootstrap, and builds the RPC server. passphrases may be nil to skip the
// bootstrap.
func newDaemon(cfg *config.Config, rt config.Runtime, logger *slog.Logger, passphrases func() (string, error)) (*daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	sink, err := audit.Open(cfg.AuditDB)
	if err != nil {
		db.Close()
		return nil, err
	}

	broadcaster := events.NewBroadcaster(0)
	node, err := core.NewNode(db,
		core.WithAdministrator(rt.Admin),
		core.WithEmitter(sink),
		core.WithEmitter(broadcaster),
		core.WithLogger(logger),
		core.WithPauses(map[string]bool{
			redeem.ModuleClaims:  cfg.Pauses.Claims,
			redeem.ModuleLottery: cfg.Pauses.Lottery,
		}))
	if err != nil {
		_ = sink.Close()
		db.Close()
		return nil, err
	}
	d := &daemon{node: node, sink: sink, events: broadcaster, logger: logger}

	allocations := make([]state.GenesisAllocation, 0, len(rt.Allocations))
	for _, alloc := range rt.Allocations {
		allocations = append(allocations, state.GenesisAllocation{Owner: alloc.Owner, Amount: alloc.Amount})
	}
	if _, err := node.ApplyGenesis(rt.Asset, cfg.GenesisPool, allocations); err != nil {
		d.Close()
		return nil, err
	}
	if passphrases != nil {
		if err := d.bootstrapConfig(cfg, rt, passphrases); err != nil {
			d.Close()
			return nil, err
		}
	}

	d.server = rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:         cfg.AdminToken(),
		JWTSecret:         cfg.AdminJWTSecret(),
		JWTIssuer:         cfg.AdminJWTIssuer,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		ReadTimeout:       time.Duration(cfg.RPCReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPCWriteTimeout) * time.Second,
		Audit:             sink,
		Events:            broadcaster,
		Logger:            logger,
	})
	d.health = health.New(d.ready, health.WithLogger(logger))
	return d, nil
}

// ready reports whether claims can currently settle.
func (d *daemon) ready() error {
	if _, err := d.node.Config(); err != nil {
		return err
	}
	for _, module := range d.node.Paused() {
		if module == redeem.ModuleClaims {
			return common.ErrModulePaused
		}
	}
	return nil
}

// bootstrapConfig initializes the pool config with the keystore's public key
// when the store has none yet. An existing config is left untouched.
func (d *daemon) bootstrapConfig(cfg *config.Config, rt config.Runtime, passphrases func() (string, error)) error {
	if existing, err := d.node.Config(); err == nil {
		d.logger.Info("pool config present", slog.String("authority", existing.AuthorityKey.String()))
		return nil
	} else if !errors.Is(err, redeem.ErrNotInitialized) {
		return err
	}
	if rt.Admin.IsZero() {
		d.logger.Warn("pool config missing and AdminIdentity unset; waiting for redeem_initConfig")
		return nil
	}
	pass, err := passphrases()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(cfg.AuthorityKeystorePath, pass)
	if err != nil {
		return fmt.Errorf("load authority keystore: %w", err)
	}
	_, err = d.node.InitConfig(rt.Admin, key.PublicKey(), rt.Asset, cfg.FeeAmount)
	return err
}

func (d *daemon) Close() {
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			d.logger.Warn("close audit sink", slog.Any("error", err))
		}
	}
	d.node.Close()
}
