package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"megaluck/core/events"
	"megaluck/core/state"
	"megaluck/crypto"
	"megaluck/native/common"
	"megaluck/native/redeem"
	"megaluck/observability"
	"megaluck/storage"
)

// Node hosts the redemption engine. Every mutating call runs under one mutex,
// commits the staged state as a single batch on success and discards it on
// failure. Events reach downstream emitters only after the commit.
type Node struct {
	db       storage.Database
	state    *state.Manager
	engine   *redeem.Engine
	buffer   *events.Recorder
	emitter  events.Emitter
	switches *common.Switches
	metrics  *observability.RedeemMetrics
	clock    clockwork.Clock
	logger   *slog.Logger

	stateMu sync.Mutex
}

// NodeOption customises the node instance.
type NodeOption func(*Node)

// WithAdministrator sets the identity allowed to bootstrap the pool config.
func WithAdministrator(admin solana.PublicKey) NodeOption {
	return func(n *Node) { n.engine.SetAdministrator(admin) }
}

// WithEmitter adds a downstream emitter that receives committed events.
func WithEmitter(emitter events.Emitter) NodeOption {
	return func(n *Node) {
		if emitter == nil {
			return
		}
		if n.emitter == nil {
			n.emitter = emitter
			return
		}
		n.emitter = events.Multi{n.emitter, emitter}
	}
}

// WithVerifier overrides the signature verifier.
func WithVerifier(v crypto.Verifier) NodeOption {
	return func(n *Node) { n.engine.SetVerifier(v) }
}

// WithClock sets the clock shared by the engine and metrics.
func WithClock(clock clockwork.Clock) NodeOption {
	return func(n *Node) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.RedeemMetrics) NodeOption {
	return func(n *Node) { n.metrics = m }
}

func WithLogger(logger *slog.Logger) NodeOption {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithPauses seeds the module pause switches.
func WithPauses(paused map[string]bool) NodeOption {
	return func(n *Node) {
		for module, on := range paused {
			n.switches.Set(module, on)
		}
	}
}

// NewNode opens a node over the provided database.
func NewNode(db storage.Database, opts ...NodeOption) (*Node, error) {
	if db == nil {
		return nil, errors.New("core: nil database")
	}
	n := &Node{
		db:       db,
		state:    state.NewManager(db),
		engine:   redeem.NewEngine(),
		buffer:   &events.Recorder{},
		switches: common.NewSwitches(nil),
		metrics:  observability.Redeem(),
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	if n.emitter == nil {
		n.emitter = events.NoopEmitter{}
	}
	n.engine.SetLogger(n.logger)
	n.logger = n.logger.With(slog.String("component", "node"))
	n.engine.SetState(n.state)
	n.engine.SetEmitter(n.buffer)
	n.engine.SetPauses(n.switches)
	n.engine.SetClock(n.clock)
	for _, module := range []string{redeem.ModuleClaims, redeem.ModuleLottery} {
		n.metrics.SetPause(module, n.switches.IsPaused(module))
	}
	return n, nil
}

// transition runs fn as one atomic unit. The height is advanced first so events
// emitted inside fn observe the sequence number they are committed at.
func (n *Node) transition(fn func() error) error {
	n.buffer.Reset()
	if _, err := n.state.AdvanceHeight(); err != nil {
		n.state.Discard()
		return err
	}
	if err := fn(); err != nil {
		n.state.Discard()
		n.buffer.Reset()
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		n.buffer.Reset()
		return err
	}
	for _, evt := range n.buffer.Drain() {
		n.emitter.Emit(evt)
	}
	n.refreshPoolGauge()
	return nil
}

func (n *Node) refreshPoolGauge() {
	if n.metrics == nil {
		return
	}
	cfg, ok, err := n.state.ConfigGet()
	if err != nil || !ok {
		return
	}
	if balance, err := n.state.PoolBalance(cfg.AssetID); err == nil {
		n.metrics.SetPoolBalance(balance)
	}
}

// ApplyGenesis seeds the pool and holder balances once per database. A second
// call is a no-op that reports false.
func (n *Node) ApplyGenesis(asset solana.PublicKey, pool uint64, allocations []state.GenesisAllocation) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if applied, err := n.state.GenesisApplied(); err != nil || applied {
		return false, err
	}
	err := n.transition(func() error {
		return n.state.ApplyGenesis(asset, pool, allocations)
	})
	if err != nil {
		return false, fmt.Errorf("core: apply genesis: %w", err)
	}
	n.logger.Info("genesis applied",
		slog.String("asset", asset.String()),
		slog.Uint64("pool", pool),
		slog.Int("allocations", len(allocations)))
	return true, nil
}

func (n *Node) InitConfig(caller, authority, asset solana.PublicKey, fee uint64) (*redeem.Config, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	var cfg *redeem.Config
	err := n.transition(func() error {
		var err error
		cfg, err = n.engine.InitConfig(caller, authority, asset, fee)
		return err
	})
	return cfg, err
}

func (n *Node) Claim(req *redeem.ClaimRequest) (*redeem.SettlementRecord, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := n.clock.Now()
	var record *redeem.SettlementRecord
	err := n.transition(func() error {
		var err error
		record, err = n.engine.Claim(req)
		return err
	})
	n.observeClaim(redeem.ClaimClassStandard, record, err, start)
	return record, err
}

func (n *Node) ClaimRank(req *redeem.RankClaimRequest) (*redeem.SettlementRecord, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := n.clock.Now()
	var record *redeem.SettlementRecord
	err := n.transition(func() error {
		var err error
		record, err = n.engine.ClaimRank(req)
		return err
	})
	n.observeClaim(redeem.ClaimClassRank, record, err, start)
	return record, err
}

func (n *Node) observeClaim(class redeem.ClaimClass, record *redeem.SettlementRecord, err error, start time.Time) {
	if n.metrics == nil {
		return
	}
	var total uint64
	if err == nil && record != nil {
		total = record.Total
	}
	outcome := redeem.Kind(err)
	if errors.Is(err, common.ErrModulePaused) {
		outcome = "paused"
	}
	n.metrics.RecordClaim(class.String(), outcome, total, n.clock.Since(start))
}

// EnterLottery settles a payer-signed lottery entry.
func (n *Node) EnterLottery(req *redeem.LotteryEntry) (*events.LotteryEntered, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	var evt *events.LotteryEntered
	err := n.transition(func() error {
		var err error
		evt, err = n.engine.EnterLottery(req)
		return err
	})
	if err == nil {
		n.metrics.RecordLottery()
	}
	return evt, err
}

func (n *Node) BurnNFT(payer, nftMint solana.PublicKey, name string) (*events.NFTBurned, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	var evt *events.NFTBurned
	err := n.transition(func() error {
		var err error
		evt, err = n.engine.BurnNFT(payer, nftMint, name)
		return err
	})
	return evt, err
}

// Deposit settles a holder-signed transfer into the pool.
func (n *Node) Deposit(req *redeem.DepositRequest) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	var balance uint64
	err := n.transition(func() error {
		var err error
		balance, err = n.engine.Deposit(req)
		return err
	})
	return balance, err
}

func (n *Node) InitNonceAccount(owner solana.PublicKey, class redeem.ClaimClass) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return n.transition(func() error {
		return n.engine.InitNonceAccount(owner, class)
	})
}

// SetPaused flips a module pause switch at runtime.
func (n *Node) SetPaused(module string, paused bool) {
	n.switches.Set(module, paused)
	n.metrics.SetPause(module, paused)
	n.logger.Warn("module pause updated", slog.String("module", module), slog.Bool("paused", paused))
}

// Paused lists the paused modules.
func (n *Node) Paused() []string {
	return n.switches.Paused()
}

func (n *Node) Config() (*redeem.Config, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Config()
}

func (n *Node) Nonce(owner solana.PublicKey, class redeem.ClaimClass) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Nonce(owner, class)
}

// PoolBalance returns the committed pool balance of the configured asset.
func (n *Node) PoolBalance() (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	cfg, err := n.engine.Config()
	if err != nil {
		return 0, err
	}
	return n.state.PoolBalance(cfg.AssetID)
}

// Balance returns a holder balance of the configured asset.
func (n *Node) Balance(owner solana.PublicKey) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	cfg, err := n.engine.Config()
	if err != nil {
		return 0, err
	}
	return n.state.Balance(cfg.AssetID, owner)
}

// Height returns the committed sequence number.
func (n *Node) Height() uint64 {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Height()
}

// Close releases the database.
func (n *Node) Close() {
	n.db.Close()
}
