package redeem_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"megaluck/core/events"
	"megaluck/core/state"
	"megaluck/crypto"
	"megaluck/native/common"
	"megaluck/native/redeem"
	"megaluck/storage"
)

var testNow = time.Unix(1_700_000_000, 0)

type harness struct {
	t         *testing.T
	engine    *redeem.Engine
	state     *state.Manager
	clock     *clockwork.FakeClock
	recorder  *events.Recorder
	admin     solana.PublicKey
	asset     solana.PublicKey
	authority *crypto.AuthorityKey
}

func newHarness(t *testing.T, pool uint64) *harness {
	t.Helper()
	authority, err := crypto.GenerateAuthorityKey()
	if err != nil {
		t.Fatalf("authority key: %v", err)
	}
	h := &harness{
		t:         t,
		state:     state.NewManager(storage.NewMemDB()),
		clock:     clockwork.NewFakeClockAt(testNow),
		recorder:  &events.Recorder{},
		admin:     solana.NewWallet().PublicKey(),
		asset:     solana.NewWallet().PublicKey(),
		authority: authority,
	}
	h.engine = redeem.NewEngine()
	h.engine.SetState(h.state)
	h.engine.SetClock(h.clock)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetAdministrator(h.admin)

	if _, err := h.engine.InitConfig(h.admin, authority.PublicKey(), h.asset, 10); err != nil {
		t.Fatalf("init config: %v", err)
	}
	if pool > 0 {
		if err := h.state.PoolCredit(h.asset, pool); err != nil {
			t.Fatalf("seed pool: %v", err)
		}
	}
	if err := h.state.Commit(); err != nil {
		t.Fatalf("commit bootstrap: %v", err)
	}
	h.recorder.Reset()
	return h
}

func (h *harness) now() uint64 { return uint64(h.clock.Now().Unix()) }

func (h *harness) claim(payer solana.PublicKey, nonce uint64, amounts [3]uint64) *redeem.ClaimRequest {
	req := &redeem.ClaimRequest{
		Payer:     payer,
		Nonce:     nonce,
		Amounts:   amounts,
		OrderType: 1,
		Timestamp: h.now(),
		Recipients: [3]solana.PublicKey{
			solana.NewWallet().PublicKey(),
			solana.NewWallet().PublicKey(),
			solana.NewWallet().PublicKey(),
		},
	}
	h.sign(req)
	return req
}

func (h *harness) sign(req *redeem.ClaimRequest) {
	sig, err := h.authority.Sign(redeem.ClaimHash(req, req.Nonce))
	if err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	req.Signature = sig
}

func (h *harness) rank(payer solana.PublicKey, nonce, amount uint64) *redeem.RankClaimRequest {
	req := &redeem.RankClaimRequest{
		Payer:     payer,
		Nonce:     nonce,
		Amount:    amount,
		Timestamp: h.now(),
		StartTime: h.now() - 86400,
		EndTime:   h.now() - 3600,
		Recipient: solana.NewWallet().PublicKey(),
	}
	h.signRank(req)
	return req
}

func (h *harness) signRank(req *redeem.RankClaimRequest) {
	sig, err := h.authority.Sign(redeem.RankClaimHash(req, req.Nonce))
	if err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	req.Signature = sig
}

func (h *harness) pool() uint64 {
	h.t.Helper()
	balance, err := h.state.PoolBalance(h.asset)
	if err != nil {
		h.t.Fatalf("pool balance: %v", err)
	}
	return balance
}

func (h *harness) nonce(owner solana.PublicKey, class redeem.ClaimClass) uint64 {
	h.t.Helper()
	n, err := h.engine.Nonce(owner, class)
	if err != nil {
		h.t.Fatalf("nonce: %v", err)
	}
	return n
}

func TestClaimScenarioSettlesThreeLegs(t *testing.T) {
	h := newHarness(t, 1000)
	payer := solana.NewWallet().PublicKey()
	req := h.claim(payer, 1, [3]uint64{300, 200, 100})

	record, err := h.engine.Claim(req)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if record.Nonce != 1 || record.Total != 600 || len(record.Legs) != 3 {
		t.Fatalf("unexpected record %+v", record)
	}
	if got := h.pool(); got != 400 {
		t.Fatalf("expected pool 400, got %d", got)
	}
	if got := h.nonce(payer, redeem.ClaimClassStandard); got != 1 {
		t.Fatalf("expected nonce 1, got %d", got)
	}
	for i, recipient := range req.Recipients {
		balance, err := h.state.Balance(h.asset, recipient)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if balance != req.Amounts[i] {
			t.Fatalf("leg %d: expected %d, got %d", i+1, req.Amounts[i], balance)
		}
	}

	emitted := h.recorder.Events()
	if len(emitted) != 1 {
		t.Fatalf("expected one event, got %d", len(emitted))
	}
	settled, ok := emitted[0].(events.ClaimSettled)
	if !ok {
		t.Fatalf("unexpected event %T", emitted[0])
	}
	if settled.Recipients != req.Recipients || settled.Amounts != req.Amounts || settled.Nonce != 1 {
		t.Fatalf("event does not mirror request: %+v", settled)
	}
}

func TestClaimDoubleSubmitFailsWithInvalidNonce(t *testing.T) {
	h := newHarness(t, 1000)
	payer := solana.NewWallet().PublicKey()
	req := h.claim(payer, 1, [3]uint64{200, 100, 0})

	if _, err := h.engine.Claim(req); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if got := h.pool(); got != 700 {
		t.Fatalf("expected 700 after first claim, got %d", got)
	}
	if _, err := h.engine.Claim(req); !errors.Is(err, redeem.ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce on replay, got %v", err)
	}
	if got := h.pool(); got != 700 {
		t.Fatalf("replay must not move funds, pool %d", got)
	}
	if got := h.nonce(payer, redeem.ClaimClassStandard); got != 1 {
		t.Fatalf("replay must not move the nonce, got %d", got)
	}
}

func TestClaimReplayFailsRegardlessOfSignature(t *testing.T) {
	h := newHarness(t, 1000)
	payer := solana.NewWallet().PublicKey()
	if _, err := h.engine.Claim(h.claim(payer, 1, [3]uint64{1, 0, 0})); err != nil {
		t.Fatalf("claim: %v", err)
	}
	replay := h.claim(payer, 1, [3]uint64{1, 0, 0})
	replay.Signature = solana.Signature{}
	if _, err := h.engine.Claim(replay); !errors.Is(err, redeem.ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce before signature check, got %v", err)
	}
}

func TestClaimSkipAheadRejected(t *testing.T) {
	h := newHarness(t, 1000)
	payer := solana.NewWallet().PublicKey()
	req := h.claim(payer, 2, [3]uint64{10, 0, 0})
	if _, err := h.engine.Claim(req); !errors.Is(err, redeem.ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce for skip ahead, got %v", err)
	}
	if h.state.Pending() != 0 {
		t.Fatalf("rejected claim staged %d writes", h.state.Pending())
	}
}

func TestClaimTamperInvalidatesSignature(t *testing.T) {
	cases := map[string]func(*redeem.ClaimRequest){
		"amount1":    func(r *redeem.ClaimRequest) { r.Amounts[0]++ },
		"amount3":    func(r *redeem.ClaimRequest) { r.Amounts[2] ^= 1 },
		"timestamp":  func(r *redeem.ClaimRequest) { r.Timestamp++ },
		"orderType":  func(r *redeem.ClaimRequest) { r.OrderType = 2 },
		"recipient1": func(r *redeem.ClaimRequest) { r.Recipients[0][0] ^= 0x01 },
		"recipient2": func(r *redeem.ClaimRequest) { r.Recipients[1][31] ^= 0x80 },
		"recipient3": func(r *redeem.ClaimRequest) { r.Recipients[2][7] ^= 0x10 },
		"payer":      func(r *redeem.ClaimRequest) { r.Payer[3] ^= 0x02 },
		"signature":  func(r *redeem.ClaimRequest) { r.Signature[10] ^= 0x04 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, 10_000)
			req := h.claim(solana.NewWallet().PublicKey(), 1, [3]uint64{300, 200, 100})
			mutate(req)
			before := h.pool()
			_, err := h.engine.Claim(req)
			if !errors.Is(err, redeem.ErrSigVerificationFailed) {
				t.Fatalf("expected ErrSigVerificationFailed, got %v", err)
			}
			if h.pool() != before {
				t.Fatalf("tampered claim moved funds")
			}
			if got := h.nonce(req.Payer, redeem.ClaimClassStandard); got != 0 {
				t.Fatalf("tampered claim advanced nonce to %d", got)
			}
		})
	}
}

func TestClaimSolvencyBoundary(t *testing.T) {
	h := newHarness(t, 600)
	payer := solana.NewWallet().PublicKey()

	over := h.claim(payer, 1, [3]uint64{300, 200, 101})
	if _, err := h.engine.Claim(over); !errors.Is(err, redeem.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	exact := h.claim(payer, 1, [3]uint64{300, 200, 100})
	if _, err := h.engine.Claim(exact); err != nil {
		t.Fatalf("exact balance claim: %v", err)
	}
	if got := h.pool(); got != 0 {
		t.Fatalf("expected empty pool, got %d", got)
	}
}

func TestClaimLegSumOverflow(t *testing.T) {
	h := newHarness(t, 1000)
	req := h.claim(solana.NewWallet().PublicKey(), 1, [3]uint64{^uint64(0), 1, 0})
	if _, err := h.engine.Claim(req); !errors.Is(err, redeem.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestClaimExpiryBoundary(t *testing.T) {
	h := newHarness(t, 1000)
	payer := solana.NewWallet().PublicKey()

	stale := h.claim(payer, 1, [3]uint64{1, 0, 0})
	stale.Timestamp = h.now() - 301
	h.sign(stale)
	if _, err := h.engine.Claim(stale); !errors.Is(err, redeem.ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}

	edge := h.claim(payer, 1, [3]uint64{1, 0, 0})
	edge.Timestamp = h.now() - 300
	h.sign(edge)
	if _, err := h.engine.Claim(edge); err != nil {
		t.Fatalf("timestamp+300 == now must pass: %v", err)
	}

	future := h.claim(payer, 2, [3]uint64{1, 0, 0})
	future.Timestamp = h.now() + 3600
	h.sign(future)
	if _, err := h.engine.Claim(future); err != nil {
		t.Fatalf("future timestamps are accepted: %v", err)
	}
}

func TestClaimExpiresAsClockAdvances(t *testing.T) {
	h := newHarness(t, 1000)
	req := h.claim(solana.NewWallet().PublicKey(), 1, [3]uint64{5, 0, 0})
	h.clock.Advance(301 * time.Second)
	if _, err := h.engine.Claim(req); !errors.Is(err, redeem.ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp after advance, got %v", err)
	}
}

func TestClaimZeroLegsAreNoops(t *testing.T) {
	h := newHarness(t, 1000)
	req := h.claim(solana.NewWallet().PublicKey(), 1, [3]uint64{0, 250, 0})
	req.Recipients[0] = solana.PublicKey{}
	req.Recipients[2] = solana.PublicKey{}
	h.sign(req)
	if _, err := h.engine.Claim(req); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := h.pool(); got != 750 {
		t.Fatalf("expected 750, got %d", got)
	}
}

func TestClaimFundedLegToZeroRecipientRejected(t *testing.T) {
	h := newHarness(t, 1000)
	req := h.claim(solana.NewWallet().PublicKey(), 1, [3]uint64{10, 0, 0})
	req.Recipients[0] = solana.PublicKey{}
	h.sign(req)
	if _, err := h.engine.Claim(req); !errors.Is(err, redeem.ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if h.state.Pending() != 0 {
		t.Fatalf("rejected claim staged writes")
	}
}

func TestClaimWithoutVerifier(t *testing.T) {
	h := newHarness(t, 1000)
	h.engine.SetVerifier(nil)
	req := h.claim(solana.NewWallet().PublicKey(), 1, [3]uint64{1, 0, 0})
	_, err := h.engine.Claim(req)
	if !errors.Is(err, redeem.ErrSigVerificationFailed) || !errors.Is(err, crypto.ErrVerificationUnavailable) {
		t.Fatalf("expected unavailable verification, got %v", err)
	}
}

func TestClaimBeforeInit(t *testing.T) {
	engine := redeem.NewEngine()
	engine.SetState(state.NewManager(storage.NewMemDB()))
	_, err := engine.Claim(&redeem.ClaimRequest{Payer: solana.NewWallet().PublicKey(), Nonce: 1})
	if !errors.Is(err, redeem.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestClaimPaused(t *testing.T) {
	h := newHarness(t, 1000)
	switches := common.NewSwitches(map[string]bool{redeem.ModuleClaims: true})
	h.engine.SetPauses(switches)
	req := h.claim(solana.NewWallet().PublicKey(), 1, [3]uint64{1, 0, 0})
	if _, err := h.engine.Claim(req); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	switches.Set(redeem.ModuleClaims, false)
	if _, err := h.engine.Claim(req); err != nil {
		t.Fatalf("claim after unpause: %v", err)
	}
}

func TestClaimRankSettles(t *testing.T) {
	h := newHarness(t, 1000)
	payer := solana.NewWallet().PublicKey()
	req := h.rank(payer, 1, 450)

	record, err := h.engine.ClaimRank(req)
	if err != nil {
		t.Fatalf("claim rank: %v", err)
	}
	if record.Class != redeem.ClaimClassRank || record.Total != 450 {
		t.Fatalf("unexpected record %+v", record)
	}
	if got := h.pool(); got != 550 {
		t.Fatalf("expected 550, got %d", got)
	}
	if got := h.nonce(payer, redeem.ClaimClassRank); got != 1 {
		t.Fatalf("rank nonce %d", got)
	}
	if got := h.nonce(payer, redeem.ClaimClassStandard); got != 0 {
		t.Fatalf("standard nonce must not move, got %d", got)
	}
	emitted := h.recorder.Events()
	if len(emitted) != 1 || emitted[0].EventType() != events.TypeRedeemClaimRank {
		t.Fatalf("unexpected events %+v", emitted)
	}
	if _, err := h.engine.ClaimRank(req); !errors.Is(err, redeem.ErrInvalidNonce) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
}

func TestClaimRankWindowBoundIntoSignatureOnly(t *testing.T) {
	h := newHarness(t, 1000)
	payer := solana.NewWallet().PublicKey()

	open := h.rank(payer, 1, 10)
	open.StartTime = h.now() + 86400
	open.EndTime = h.now() + 2*86400
	h.signRank(open)
	if _, err := h.engine.ClaimRank(open); err != nil {
		t.Fatalf("engine must not compare the window with the clock: %v", err)
	}

	tampered := h.rank(payer, 2, 10)
	tampered.EndTime++
	if _, err := h.engine.ClaimRank(tampered); !errors.Is(err, redeem.ErrSigVerificationFailed) {
		t.Fatalf("expected ErrSigVerificationFailed, got %v", err)
	}
}

func TestInitConfigGuards(t *testing.T) {
	admin := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	asset := solana.NewWallet().PublicKey()

	engine := redeem.NewEngine()
	engine.SetState(state.NewManager(storage.NewMemDB()))
	engine.SetAdministrator(admin)

	if _, err := engine.InitConfig(solana.NewWallet().PublicKey(), authority, asset, 1); !errors.Is(err, redeem.ErrNotSigner) {
		t.Fatalf("expected ErrNotSigner, got %v", err)
	}
	if _, err := engine.InitConfig(admin, solana.PublicKey{}, asset, 1); !errors.Is(err, redeem.ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	cfg, err := engine.InitConfig(admin, authority, asset, 1)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if cfg.AuthorityKey != authority || cfg.AssetID != asset || cfg.FeeAmount != 1 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := engine.InitConfig(admin, authority, asset, 2); !errors.Is(err, redeem.ErrAlreadyInited) {
		t.Fatalf("expected ErrAlreadyInited, got %v", err)
	}
}

func (h *harness) lottery(payer solana.PrivateKey, nonce uint64, name string) *redeem.LotteryEntry {
	req := &redeem.LotteryEntry{
		Payer:     payer.PublicKey(),
		NFTMint:   solana.NewWallet().PublicKey(),
		Name:      name,
		Timestamp: h.now(),
		Nonce:     nonce,
	}
	sig, err := payer.Sign(hashBytes(redeem.LotteryHash(req, nonce)))
	if err != nil {
		h.t.Fatalf("sign lottery: %v", err)
	}
	req.Signature = sig
	return req
}

func (h *harness) deposit(holder solana.PrivateKey, nonce, amount uint64) *redeem.DepositRequest {
	req := &redeem.DepositRequest{
		From:      holder.PublicKey(),
		Amount:    amount,
		Timestamp: h.now(),
		Nonce:     nonce,
	}
	sig, err := holder.Sign(hashBytes(redeem.DepositHash(req, nonce)))
	if err != nil {
		h.t.Fatalf("sign deposit: %v", err)
	}
	req.Signature = sig
	return req
}

func hashBytes(hash [32]byte) []byte { return hash[:] }

func TestEnterLotteryCollectsFee(t *testing.T) {
	h := newHarness(t, 100)
	payer := solana.NewWallet().PrivateKey
	if err := h.state.Credit(h.asset, payer.PublicKey(), 15); err != nil {
		t.Fatalf("seed: %v", err)
	}

	evt, err := h.engine.EnterLottery(h.lottery(payer, 1, "Golden Ticket"))
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if evt.Fee != 10 || evt.Name != "Golden Ticket" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if got := h.pool(); got != 110 {
		t.Fatalf("expected pool 110, got %d", got)
	}
	if bal, _ := h.state.Balance(h.asset, payer.PublicKey()); bal != 5 {
		t.Fatalf("expected payer 5, got %d", bal)
	}
	if nonce, _ := h.state.NonceGet(payer.PublicKey(), redeem.ClaimClassHolder); nonce != 1 {
		t.Fatalf("expected holder nonce 1, got %d", nonce)
	}
	if _, err := h.engine.EnterLottery(h.lottery(payer, 2, "again")); !errors.Is(err, redeem.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := h.engine.EnterLottery(h.lottery(payer, 2, strings.Repeat("x", redeem.MaxNameLength+1))); !errors.Is(err, redeem.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestEnterLotteryRequiresPayerSignature(t *testing.T) {
	h := newHarness(t, 100)
	victim := solana.NewWallet().PrivateKey
	attacker := solana.NewWallet().PrivateKey
	if err := h.state.Credit(h.asset, victim.PublicKey(), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := h.state.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	unsigned := h.lottery(victim, 1, "ticket")
	unsigned.Signature = solana.Signature{}
	if _, err := h.engine.EnterLottery(unsigned); !errors.Is(err, redeem.ErrSigVerificationFailed) {
		t.Fatalf("expected ErrSigVerificationFailed for unsigned entry, got %v", err)
	}

	forged := h.lottery(attacker, 1, "ticket")
	forged.Payer = victim.PublicKey()
	if _, err := h.engine.EnterLottery(forged); !errors.Is(err, redeem.ErrSigVerificationFailed) {
		t.Fatalf("expected ErrSigVerificationFailed for foreign signer, got %v", err)
	}

	if h.state.Pending() != 0 {
		t.Fatalf("rejected entries must not stage writes")
	}
	if bal, _ := h.state.Balance(h.asset, victim.PublicKey()); bal != 100 {
		t.Fatalf("victim balance changed to %d", bal)
	}
}

func TestHolderNonceBlocksReplay(t *testing.T) {
	h := newHarness(t, 0)
	holder := solana.NewWallet().PrivateKey
	if err := h.state.Credit(h.asset, holder.PublicKey(), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	req := h.deposit(holder, 1, 30)
	if _, err := h.engine.Deposit(req); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.engine.Deposit(req); !errors.Is(err, redeem.ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce on replay, got %v", err)
	}
	// Lottery entries share the holder counter with deposits.
	if _, err := h.engine.EnterLottery(h.lottery(holder, 1, "ticket")); !errors.Is(err, redeem.ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce for reused holder nonce, got %v", err)
	}
	if _, err := h.engine.EnterLottery(h.lottery(holder, 2, "ticket")); err != nil {
		t.Fatalf("enter with next nonce: %v", err)
	}

	stale := h.deposit(holder, 3, 1)
	h.clock.Advance(time.Duration(redeem.ExpiryWindowSeconds+1) * time.Second)
	if _, err := h.engine.Deposit(stale); !errors.Is(err, redeem.ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestEnterLotteryPaused(t *testing.T) {
	h := newHarness(t, 0)
	h.engine.SetPauses(common.NewSwitches(map[string]bool{redeem.ModuleLottery: true}))
	_, err := h.engine.EnterLottery(h.lottery(solana.NewWallet().PrivateKey, 1, "n"))
	if !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestBurnNFTEmitsOnly(t *testing.T) {
	h := newHarness(t, 100)
	payer := solana.NewWallet().PublicKey()
	evt, err := h.engine.BurnNFT(payer, solana.NewWallet().PublicKey(), "Relic")
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if evt.Timestamp != testNow.Unix() {
		t.Fatalf("unexpected timestamp %d", evt.Timestamp)
	}
	if h.state.Pending() != 0 {
		t.Fatalf("burn must not touch state")
	}
	if len(h.recorder.Events()) != 1 {
		t.Fatalf("expected one event")
	}
	if _, err := h.engine.BurnNFT(payer, solana.PublicKey{}, "Relic"); !errors.Is(err, redeem.ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestDepositFundsPool(t *testing.T) {
	h := newHarness(t, 0)
	holder := solana.NewWallet().PrivateKey
	if err := h.state.Credit(h.asset, holder.PublicKey(), 500); err != nil {
		t.Fatalf("seed: %v", err)
	}
	balance, err := h.engine.Deposit(h.deposit(holder, 1, 400))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if balance != 400 || h.pool() != 400 {
		t.Fatalf("unexpected pool %d", balance)
	}
	if _, err := h.engine.Deposit(h.deposit(holder, 2, 0)); !errors.Is(err, redeem.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := h.engine.Deposit(h.deposit(holder, 2, 101)); !errors.Is(err, redeem.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestDepositRejectsForeignSignature(t *testing.T) {
	h := newHarness(t, 0)
	victim := solana.NewWallet().PrivateKey
	if err := h.state.Credit(h.asset, victim.PublicKey(), 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := h.state.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	forged := h.deposit(solana.NewWallet().PrivateKey, 1, 60)
	forged.From = victim.PublicKey()
	if _, err := h.engine.Deposit(forged); !errors.Is(err, redeem.ErrSigVerificationFailed) {
		t.Fatalf("expected ErrSigVerificationFailed, got %v", err)
	}
	if h.state.Pending() != 0 || h.pool() != 0 {
		t.Fatalf("forged deposit must not move funds")
	}
}

func TestInitNonceAccount(t *testing.T) {
	h := newHarness(t, 1000)
	payer := solana.NewWallet().PublicKey()
	if err := h.engine.InitNonceAccount(payer, redeem.ClaimClassStandard); err != nil {
		t.Fatalf("init nonce: %v", err)
	}
	if err := h.engine.InitNonceAccount(payer, redeem.ClaimClass(9)); !errors.Is(err, redeem.ErrInvalidClass) {
		t.Fatalf("expected ErrInvalidClass, got %v", err)
	}
	if _, err := h.engine.Claim(h.claim(payer, 1, [3]uint64{1, 0, 0})); err != nil {
		t.Fatalf("claim after explicit init: %v", err)
	}
}
