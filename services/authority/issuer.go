package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"megaluck/crypto"
	"megaluck/native/redeem"
	"megaluck/observability"
)

// NonceSource reports the last nonce the pool accepted for an owner and class.
type NonceSource interface {
	Nonce(ctx context.Context, owner solana.PublicKey, class redeem.ClaimClass) (uint64, error)
}

// NonceFunc adapts a function to NonceSource.
type NonceFunc func(ctx context.Context, owner solana.PublicKey, class redeem.ClaimClass) (uint64, error)

func (f NonceFunc) Nonce(ctx context.Context, owner solana.PublicKey, class redeem.ClaimClass) (uint64, error) {
	return f(ctx, owner, class)
}

// ClaimParams describes a standard payout to authorize.
type ClaimParams struct {
	Payer      solana.PublicKey
	Amounts    [redeem.LegCount]uint64
	Recipients [redeem.LegCount]solana.PublicKey
	OrderType  uint64
}

// RankParams describes a rank payout to authorize.
type RankParams struct {
	Payer     solana.PublicKey
	Amount    uint64
	Recipient solana.PublicKey
	StartTime uint64
	EndTime   uint64
}

type issuedKey struct {
	owner solana.PublicKey
	class redeem.ClaimClass
}

// Issuer signs claim authorizations on behalf of the pool authority.
type Issuer struct {
	key      *crypto.AuthorityKey
	nonces   NonceSource
	policies *PolicyEnforcer
	ledger   Ledger
	metrics  *observability.AuthorityMetrics
	clock    clockwork.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	issued map[issuedKey]uint64
}

// IssuerOption customises the issuer instance.
type IssuerOption func(*Issuer)

// WithClock sets the clock used to stamp authorizations.
func WithClock(clock clockwork.Clock) IssuerOption {
	return func(i *Issuer) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// WithPolicies enables cap enforcement.
func WithPolicies(p *PolicyEnforcer) IssuerOption {
	return func(i *Issuer) { i.policies = p }
}

// WithLedger persists issued nonces across issuer instances.
func WithLedger(l Ledger) IssuerOption {
	return func(i *Issuer) { i.ledger = l }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.AuthorityMetrics) IssuerOption {
	return func(i *Issuer) { i.metrics = m }
}

// NewIssuer constructs an issuer signing with key and reading nonces from source.
func NewIssuer(key *crypto.AuthorityKey, source NonceSource, opts ...IssuerOption) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("authority: signing key required")
	}
	if source == nil {
		return nil, errors.New("authority: nonce source required")
	}
	issuer := &Issuer{
		key:     key,
		nonces:  source,
		metrics: observability.Authority(),
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default().With(slog.String("component", "authority")),
		issued:  make(map[issuedKey]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer, nil
}

// PublicKey returns the authority identity that must be configured on the pool.
func (i *Issuer) PublicKey() solana.PublicKey {
	return i.key.PublicKey()
}

// nextNonce returns one past the larger of the pool's nonce and the last nonce
// handed out locally, so several authorizations can be queued for one owner.
func (i *Issuer) nextNonce(ctx context.Context, owner solana.PublicKey, class redeem.ClaimClass) (uint64, error) {
	stored, err := i.nonces.Nonce(ctx, owner, class)
	if err != nil {
		return 0, fmt.Errorf("authority: read nonce: %w", err)
	}
	last := stored
	if issued := i.issued[issuedKey{owner: owner, class: class}]; issued > last {
		last = issued
	}
	if i.ledger != nil {
		recorded, err := i.ledger.Last(owner, class)
		if err != nil {
			return 0, fmt.Errorf("authority: read ledger: %w", err)
		}
		if recorded > last {
			last = recorded
		}
	}
	if last == ^uint64(0) {
		return 0, redeem.ErrInvalidNonce
	}
	return last + 1, nil
}

func (i *Issuer) checkPolicy(class redeem.ClaimClass, amount uint64) error {
	if i.policies == nil {
		return nil
	}
	return i.policies.Validate(class, amount, i.clock.Now())
}

func (i *Issuer) record(class redeem.ClaimClass, owner solana.PublicKey, nonce, amount uint64) error {
	if i.ledger != nil {
		if err := i.ledger.Record(owner, class, nonce); err != nil {
			return fmt.Errorf("authority: write ledger: %w", err)
		}
	}
	i.issued[issuedKey{owner: owner, class: class}] = nonce
	i.metrics.RecordAuthorization(class.String(), "signed")
	if i.policies != nil {
		now := i.clock.Now()
		i.policies.Record(class, amount, now)
		if total := i.policies.DailyCap(class); total > 0 {
			i.metrics.RecordCap(class.String(), i.policies.RemainingCap(class, now), total)
		} else {
			i.metrics.ClearCap(class.String())
		}
	}
	i.logger.Info("authorization signed",
		slog.String("class", class.String()),
		slog.String("payer", owner.String()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("total", amount))
	return nil
}

func (i *Issuer) reject(class redeem.ClaimClass, err error) error {
	i.metrics.RecordAuthorization(class.String(), "rejected")
	return err
}

func sumLegs(amounts [redeem.LegCount]uint64) (uint64, error) {
	var total uint64
	for _, a := range amounts {
		if total > ^uint64(0)-a {
			return 0, redeem.ErrInvalidAmount
		}
		total += a
	}
	return total, nil
}

// AuthorizeClaim builds and signs a standard claim for the next nonce.
func (i *Issuer) AuthorizeClaim(ctx context.Context, params ClaimParams) (*redeem.ClaimRequest, error) {
	const class = redeem.ClaimClassStandard
	if params.Payer.IsZero() {
		return nil, i.reject(class, redeem.ErrZeroAddress)
	}
	for idx, amount := range params.Amounts {
		if amount > 0 && params.Recipients[idx].IsZero() {
			return nil, i.reject(class, fmt.Errorf("%w: leg %d recipient", redeem.ErrZeroAddress, idx+1))
		}
	}
	total, err := sumLegs(params.Amounts)
	if err != nil {
		return nil, i.reject(class, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkPolicy(class, total); err != nil {
		return nil, i.reject(class, err)
	}
	nonce, err := i.nextNonce(ctx, params.Payer, class)
	if err != nil {
		return nil, i.reject(class, err)
	}
	req := &redeem.ClaimRequest{
		Payer:      params.Payer,
		Nonce:      nonce,
		Amounts:    params.Amounts,
		OrderType:  params.OrderType,
		Timestamp:  uint64(i.clock.Now().Unix()),
		Recipients: params.Recipients,
	}
	sig, err := i.key.Sign(redeem.ClaimHash(req, nonce))
	if err != nil {
		return nil, i.reject(class, err)
	}
	if err := i.record(class, params.Payer, nonce, total); err != nil {
		return nil, i.reject(class, err)
	}
	req.Signature = sig
	return req, nil
}

// AuthorizeRank builds and signs a rank claim once its window has closed.
func (i *Issuer) AuthorizeRank(ctx context.Context, params RankParams) (*redeem.RankClaimRequest, error) {
	const class = redeem.ClaimClassRank
	if params.Payer.IsZero() || params.Recipient.IsZero() {
		return nil, i.reject(class, redeem.ErrZeroAddress)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.clock.Now()
	if err := ValidateRankWindow(params.StartTime, params.EndTime, now); err != nil {
		return nil, i.reject(class, err)
	}
	if err := i.checkPolicy(class, params.Amount); err != nil {
		return nil, i.reject(class, err)
	}
	nonce, err := i.nextNonce(ctx, params.Payer, class)
	if err != nil {
		return nil, i.reject(class, err)
	}
	req := &redeem.RankClaimRequest{
		Payer:     params.Payer,
		Nonce:     nonce,
		Amount:    params.Amount,
		Timestamp: uint64(now.Unix()),
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
		Recipient: params.Recipient,
	}
	sig, err := i.key.Sign(redeem.RankClaimHash(req, nonce))
	if err != nil {
		return nil, i.reject(class, err)
	}
	if err := i.record(class, params.Payer, nonce, params.Amount); err != nil {
		return nil, i.reject(class, err)
	}
	req.Signature = sig
	return req, nil
}
