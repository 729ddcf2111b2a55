package redeem

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	// ExpiryWindowSeconds bounds how stale an authorization timestamp may be.
	ExpiryWindowSeconds uint64 = 300
	// MaxNameLength caps lottery and burn display names in bytes.
	MaxNameLength = 64
	// LegCount is the fixed number of payout legs on a standard claim.
	LegCount = 3

	ModuleClaims  = "redeem.claims"
	ModuleLottery = "redeem.lottery"
)

// ClaimClass partitions nonce accounts so standard and rank claims advance
// independently. ClaimClassHolder counts requests signed by the holder
// themselves (lottery entries and deposits).
type ClaimClass uint8

const (
	ClaimClassStandard ClaimClass = iota
	ClaimClassRank
	ClaimClassHolder
)

func (c ClaimClass) String() string {
	switch c {
	case ClaimClassStandard:
		return "standard"
	case ClaimClassRank:
		return "rank"
	case ClaimClassHolder:
		return "holder"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Valid reports whether the class is one of the known values.
func (c ClaimClass) Valid() bool {
	return c == ClaimClassStandard || c == ClaimClassRank || c == ClaimClassHolder
}

// ParseClaimClass accepts the lower-case class names used by RPC and CLI callers.
func ParseClaimClass(value string) (ClaimClass, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "standard":
		return ClaimClassStandard, nil
	case "rank":
		return ClaimClassRank, nil
	case "holder":
		return ClaimClassHolder, nil
	default:
		return 0, fmt.Errorf("redeem: unknown claim class %q", value)
	}
}

// Config is the bootstrap record. It is written once and never mutated.
type Config struct {
	AuthorityKey solana.PublicKey
	AssetID      solana.PublicKey
	FeeAmount    uint64
}

// NonceAccount is the per (owner, class) replay counter.
type NonceAccount struct {
	Owner solana.PublicKey
	Class ClaimClass
	Nonce uint64
}

// ClaimRequest is a standard, three-leg payout authorization.
type ClaimRequest struct {
	Payer      solana.PublicKey
	Nonce      uint64
	Amounts    [LegCount]uint64
	OrderType  uint64
	Timestamp  uint64
	Recipients [LegCount]solana.PublicKey
	Signature  solana.Signature
}

// RankClaimRequest is a single-leg payout bound to a ranking window.
type RankClaimRequest struct {
	Payer     solana.PublicKey
	Nonce     uint64
	Amount    uint64
	Timestamp uint64
	StartTime uint64
	EndTime   uint64
	Recipient solana.PublicKey
	Signature solana.Signature
}

// LotteryEntry pays the lottery fee from the payer's balance. The payer signs it.
type LotteryEntry struct {
	Payer     solana.PublicKey
	NFTMint   solana.PublicKey
	Name      string
	Timestamp uint64
	Nonce     uint64
	Signature solana.Signature
}

// DepositRequest moves Amount from the holder's balance into the pool. The holder signs it.
type DepositRequest struct {
	From      solana.PublicKey
	Amount    uint64
	Timestamp uint64
	Nonce     uint64
	Signature solana.Signature
}

// Leg is one recipient/amount pair of a settlement.
type Leg struct {
	Recipient solana.PublicKey
	Amount    uint64
}

// SettlementRecord describes an accepted claim. It is emitted and never read back.
type SettlementRecord struct {
	Class     ClaimClass
	Payer     solana.PublicKey
	Nonce     uint64
	OrderType uint64
	Timestamp uint64
	StartTime uint64
	EndTime   uint64
	Legs      []Leg
	Total     uint64
}

func standardLegs(req *ClaimRequest) []Leg {
	legs := make([]Leg, LegCount)
	for i := range legs {
		legs[i] = Leg{Recipient: req.Recipients[i], Amount: req.Amounts[i]}
	}
	return legs
}
