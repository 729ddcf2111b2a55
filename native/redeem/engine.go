package redeem

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"megaluck/core/events"
	"megaluck/crypto"
	"megaluck/native/common"
)

type engineState interface {
	ConfigGet() (*Config, bool, error)
	ConfigInit(cfg *Config) error
	NonceGet(owner solana.PublicKey, class ClaimClass) (uint64, error)
	NonceCheckAndAdvance(owner solana.PublicKey, class ClaimClass, requested uint64) (uint64, error)
	NonceInit(owner solana.PublicKey, class ClaimClass) error
	PoolBalance(asset solana.PublicKey) (uint64, error)
	PoolDebit(asset solana.PublicKey, amount uint64) error
	PoolCredit(asset solana.PublicKey, amount uint64) error
	Balance(asset, owner solana.PublicKey) (uint64, error)
	Credit(asset, owner solana.PublicKey, amount uint64) error
	Debit(asset, owner solana.PublicKey, amount uint64) error
	Height() uint64
}

// Engine verifies authority-signed claims and settles them from the custodial pool.
// It performs no locking; the host must serialize calls and commit or discard the
// staged state after each one.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	verifier crypto.Verifier
	clock    clockwork.Clock
	admin    solana.PublicKey
	pauses   common.PauseView
	logger   *slog.Logger
}

// NewEngine creates an engine with a no-op emitter, an Ed25519 verifier and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		verifier: crypto.Ed25519Verifier{},
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default().With(slog.String("component", "redeem_engine")),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdministrator sets the only identity allowed to bootstrap the config.
func (e *Engine) SetAdministrator(admin solana.PublicKey) { e.admin = admin }

// SetVerifier overrides the signature verifier. A nil verifier makes every
// claim fail signature verification.
func (e *Engine) SetVerifier(v crypto.Verifier) { e.verifier = v }

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetClock overrides the time source. Passing nil restores the wall clock.
func (e *Engine) SetClock(clock clockwork.Clock) {
	if clock == nil {
		e.clock = clockwork.NewRealClock()
		return
	}
	e.clock = clock
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger sets the base logger; the engine adds its own component attribute.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("component", "redeem_engine"))
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() uint64 {
	ts := e.clock.Now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) loadConfig() (*Config, error) {
	if e.state == nil {
		return nil, errNilState
	}
	cfg, ok, err := e.state.ConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// InitConfig stores the bootstrap config. Only the administrator may call it, once.
func (e *Engine) InitConfig(caller solana.PublicKey, authority, asset solana.PublicKey, fee uint64) (*Config, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.admin.IsZero() || caller != e.admin {
		return nil, ErrNotSigner
	}
	if authority.IsZero() || asset.IsZero() {
		return nil, ErrZeroAddress
	}
	cfg := &Config{AuthorityKey: authority, AssetID: asset, FeeAmount: fee}
	if err := e.state.ConfigInit(cfg); err != nil {
		return nil, err
	}
	e.emit(events.ConfigInitialized{Authority: authority, Asset: asset, Fee: fee})
	e.logger.Info("redeem config initialized",
		slog.String("authority", authority.String()),
		slog.String("asset", asset.String()),
		slog.Uint64("fee", fee))
	return cfg, nil
}

// checkFresh rejects authorizations older than the expiry window. Future stamps pass.
func (e *Engine) checkFresh(timestamp uint64) error {
	now := e.now()
	if timestamp < now && now-timestamp > ExpiryWindowSeconds {
		return fmt.Errorf("%w: timestamp %d older than %ds at %d", ErrInvalidTimestamp, timestamp, ExpiryWindowSeconds, now)
	}
	return nil
}

func (e *Engine) verify(hash [32]byte, key solana.PublicKey, sig solana.Signature) error {
	if e.verifier == nil {
		return fmt.Errorf("%w: %w", ErrSigVerificationFailed, crypto.ErrVerificationUnavailable)
	}
	if err := e.verifier.Verify(hash, key, sig); err != nil {
		return fmt.Errorf("%w: %w", ErrSigVerificationFailed, err)
	}
	return nil
}

// authorize runs the shared validation pipeline and returns the accepted nonce and reservation.
func (e *Engine) authorize(cfg *Config, payer solana.PublicKey, class ClaimClass, requested, timestamp uint64, legs []Leg, hashFor func(uint64) [32]byte, sig solana.Signature) (uint64, *reservation, error) {
	if payer.IsZero() {
		return 0, nil, fmt.Errorf("%w: payer", ErrZeroAddress)
	}
	pool, err := e.state.PoolBalance(cfg.AssetID)
	if err != nil {
		return 0, nil, err
	}
	res, err := reserve(legs, pool)
	if err != nil {
		return 0, nil, err
	}
	if err := e.checkFresh(timestamp); err != nil {
		return 0, nil, err
	}
	stored, err := e.state.NonceGet(payer, class)
	if err != nil {
		return 0, nil, err
	}
	accepted, err := NextNonce(stored, requested)
	if err != nil {
		return 0, nil, err
	}
	if err := e.verify(hashFor(accepted), cfg.AuthorityKey, sig); err != nil {
		return 0, nil, err
	}
	if err := res.checkRecipients(); err != nil {
		return 0, nil, err
	}
	return accepted, res, nil
}

func (e *Engine) apply(cfg *Config, payer solana.PublicKey, class ClaimClass, accepted uint64, res *reservation) error {
	if _, err := e.state.NonceCheckAndAdvance(payer, class, accepted); err != nil {
		return err
	}
	return res.settle(e.state, cfg.AssetID)
}

// Claim settles a standard three-leg authorization. On error nothing has been
// mutated by validation; a failure while applying leaves staged writes the host
// must discard.
func (e *Engine) Claim(req *ClaimRequest) (*SettlementRecord, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidAmount)
	}
	if err := common.Guard(e.pauses, ModuleClaims); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	legs := standardLegs(req)
	accepted, res, err := e.authorize(cfg, req.Payer, ClaimClassStandard, req.Nonce, req.Timestamp, legs,
		func(n uint64) [32]byte { return ClaimHash(req, n) }, req.Signature)
	if err != nil {
		e.reject(ClaimClassStandard, req.Payer, req.Nonce, err)
		return nil, err
	}
	if err := e.apply(cfg, req.Payer, ClaimClassStandard, accepted, res); err != nil {
		e.reject(ClaimClassStandard, req.Payer, req.Nonce, err)
		return nil, err
	}
	record := &SettlementRecord{
		Class:     ClaimClassStandard,
		Payer:     req.Payer,
		Nonce:     accepted,
		OrderType: req.OrderType,
		Timestamp: req.Timestamp,
		Legs:      legs,
		Total:     res.Total(),
	}
	e.emit(events.ClaimSettled{
		Payer:      req.Payer,
		Nonce:      accepted,
		OrderType:  req.OrderType,
		Amounts:    req.Amounts,
		Recipients: req.Recipients,
		Timestamp:  req.Timestamp,
	})
	e.accept(record)
	return record, nil
}

// ClaimRank settles a single-leg rank authorization. The start and end times are
// bound into the signed message but not compared with the clock.
func (e *Engine) ClaimRank(req *RankClaimRequest) (*SettlementRecord, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidAmount)
	}
	if err := common.Guard(e.pauses, ModuleClaims); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	legs := []Leg{{Recipient: req.Recipient, Amount: req.Amount}}
	accepted, res, err := e.authorize(cfg, req.Payer, ClaimClassRank, req.Nonce, req.Timestamp, legs,
		func(n uint64) [32]byte { return RankClaimHash(req, n) }, req.Signature)
	if err != nil {
		e.reject(ClaimClassRank, req.Payer, req.Nonce, err)
		return nil, err
	}
	if err := e.apply(cfg, req.Payer, ClaimClassRank, accepted, res); err != nil {
		e.reject(ClaimClassRank, req.Payer, req.Nonce, err)
		return nil, err
	}
	record := &SettlementRecord{
		Class:     ClaimClassRank,
		Payer:     req.Payer,
		Nonce:     accepted,
		Timestamp: req.Timestamp,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Legs:      legs,
		Total:     res.Total(),
	}
	e.emit(events.RankClaimSettled{
		Payer:     req.Payer,
		Nonce:     accepted,
		Amount:    req.Amount,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Timestamp: req.Timestamp,
		Recipient: req.Recipient,
	})
	e.accept(record)
	return record, nil
}

func (e *Engine) accept(record *SettlementRecord) {
	e.logger.Info("redeem claim settled",
		slog.String("class", record.Class.String()),
		slog.String("payer", record.Payer.String()),
		slog.Uint64("nonce", record.Nonce),
		slog.Uint64("total", record.Total))
}

func (e *Engine) reject(class ClaimClass, payer solana.PublicKey, nonce uint64, err error) {
	e.logger.Warn("redeem claim rejected",
		slog.String("class", class.String()),
		slog.String("payer", payer.String()),
		slog.Uint64("nonce", nonce),
		slog.String("kind", Kind(err)),
		slog.Any("error", err))
}

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLength || !utf8.ValidString(name) {
		return fmt.Errorf("%w: must be 1-%d bytes of UTF-8", ErrInvalidName, MaxNameLength)
	}
	return nil
}

// authorizeHolder checks freshness, the holder nonce and the holder's own
// signature, then advances the nonce. It stages writes only on success.
func (e *Engine) authorizeHolder(holder solana.PublicKey, requested, timestamp uint64, hashFor func(uint64) [32]byte, sig solana.Signature) (uint64, error) {
	if err := e.checkFresh(timestamp); err != nil {
		return 0, err
	}
	stored, err := e.state.NonceGet(holder, ClaimClassHolder)
	if err != nil {
		return 0, err
	}
	accepted, err := NextNonce(stored, requested)
	if err != nil {
		return 0, err
	}
	if err := e.verify(hashFor(accepted), holder, sig); err != nil {
		return 0, err
	}
	return e.state.NonceCheckAndAdvance(holder, ClaimClassHolder, accepted)
}

// EnterLottery moves the configured fee from the payer's balance into the pool.
// The entry must carry the payer's signature over LotteryMessage.
func (e *Engine) EnterLottery(req *LotteryEntry) (*events.LotteryEntered, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidAmount)
	}
	if err := common.Guard(e.pauses, ModuleLottery); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if req.Payer.IsZero() || req.NFTMint.IsZero() {
		return nil, ErrZeroAddress
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	balance, err := e.state.Balance(cfg.AssetID, req.Payer)
	if err != nil {
		return nil, err
	}
	if balance < cfg.FeeAmount {
		return nil, fmt.Errorf("%w: fee %d, balance %d", ErrInsufficientBalance, cfg.FeeAmount, balance)
	}
	if _, err := e.authorizeHolder(req.Payer, req.Nonce, req.Timestamp,
		func(n uint64) [32]byte { return LotteryHash(req, n) }, req.Signature); err != nil {
		return nil, err
	}
	if cfg.FeeAmount > 0 {
		if err := e.state.Debit(cfg.AssetID, req.Payer, cfg.FeeAmount); err != nil {
			return nil, err
		}
		if err := e.state.PoolCredit(cfg.AssetID, cfg.FeeAmount); err != nil {
			return nil, err
		}
	}
	evt := &events.LotteryEntered{
		Payer:    req.Payer,
		NFTMint:  req.NFTMint,
		Sequence: e.state.Height(),
		Name:     req.Name,
		Fee:      cfg.FeeAmount,
	}
	e.emit(*evt)
	return evt, nil
}

// BurnNFT records that a holder burned an NFT. It has no state effects.
func (e *Engine) BurnNFT(payer, nftMint solana.PublicKey, name string) (*events.NFTBurned, error) {
	if payer.IsZero() || nftMint.IsZero() {
		return nil, ErrZeroAddress
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	evt := &events.NFTBurned{
		Payer:     payer,
		NFTMint:   nftMint,
		Timestamp: e.clock.Now().Unix(),
		Name:      name,
	}
	e.emit(*evt)
	return evt, nil
}

// Deposit moves funds from a holder balance into the pool and returns the new
// pool balance. The request must carry the holder's signature over DepositMessage.
func (e *Engine) Deposit(req *DepositRequest) (uint64, error) {
	if req == nil {
		return 0, fmt.Errorf("%w: nil request", ErrInvalidAmount)
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return 0, err
	}
	if req.From.IsZero() {
		return 0, ErrZeroAddress
	}
	if req.Amount == 0 {
		return 0, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	held, err := e.state.Balance(cfg.AssetID, req.From)
	if err != nil {
		return 0, err
	}
	if held < req.Amount {
		return 0, fmt.Errorf("%w: deposit %d, balance %d", ErrInsufficientBalance, req.Amount, held)
	}
	if _, err := e.authorizeHolder(req.From, req.Nonce, req.Timestamp,
		func(n uint64) [32]byte { return DepositHash(req, n) }, req.Signature); err != nil {
		return 0, err
	}
	if err := e.state.Debit(cfg.AssetID, req.From, req.Amount); err != nil {
		return 0, err
	}
	if err := e.state.PoolCredit(cfg.AssetID, req.Amount); err != nil {
		return 0, err
	}
	balance, err := e.state.PoolBalance(cfg.AssetID)
	if err != nil {
		return 0, err
	}
	e.emit(events.Deposited{From: req.From, Asset: cfg.AssetID, Amount: req.Amount, PoolBalance: balance})
	return balance, nil
}

// InitNonceAccount materializes a zero nonce record. It is idempotent; claims
// create accounts lazily without it.
func (e *Engine) InitNonceAccount(owner solana.PublicKey, class ClaimClass) error {
	if e.state == nil {
		return errNilState
	}
	if owner.IsZero() {
		return ErrZeroAddress
	}
	if !class.Valid() {
		return ErrInvalidClass
	}
	return e.state.NonceInit(owner, class)
}

// Nonce returns the last accepted nonce for the owner and class.
func (e *Engine) Nonce(owner solana.PublicKey, class ClaimClass) (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	if !class.Valid() {
		return 0, ErrInvalidClass
	}
	return e.state.NonceGet(owner, class)
}

// Config returns the bootstrap record.
func (e *Engine) Config() (*Config, error) {
	return e.loadConfig()
}
