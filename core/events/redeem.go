package events

import (
	"github.com/gagliardetto/solana-go"

	"megaluck/core/types"
)

const (
	TypeRedeemConfigInitialized = "redeem.config_initialized"
	TypeRedeemClaim             = "redeem.claim"
	TypeRedeemClaimRank         = "redeem.claim_rank"
	TypeRedeemLottery           = "redeem.lottery"
	TypeRedeemNFTBurned         = "redeem.nft_burned"
	TypeRedeemDeposit           = "redeem.deposit"
)

type ConfigInitialized struct {
	Authority solana.PublicKey
	Asset     solana.PublicKey
	Fee       uint64
}

func (ConfigInitialized) EventType() string { return TypeRedeemConfigInitialized }

func (e ConfigInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemConfigInitialized,
		Attributes: map[string]string{
			"authority": identity(e.Authority),
			"asset":     identity(e.Asset),
			"fee":       uintToString(e.Fee),
		},
	}
}

// ClaimSettled is the settlement record of an accepted standard claim.
type ClaimSettled struct {
	Payer      solana.PublicKey
	Nonce      uint64
	OrderType  uint64
	Amounts    [3]uint64
	Recipients [3]solana.PublicKey
	Timestamp  uint64
}

func (ClaimSettled) EventType() string { return TypeRedeemClaim }

// Total returns the sum of the settled legs. Callers guarantee it fits in a uint64.
func (e ClaimSettled) Total() uint64 {
	return e.Amounts[0] + e.Amounts[1] + e.Amounts[2]
}

func (e ClaimSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemClaim,
		Attributes: map[string]string{
			"payer":      identity(e.Payer),
			"nonce":      uintToString(e.Nonce),
			"orderType":  uintToString(e.OrderType),
			"amount1":    uintToString(e.Amounts[0]),
			"amount2":    uintToString(e.Amounts[1]),
			"amount3":    uintToString(e.Amounts[2]),
			"recipient1": identity(e.Recipients[0]),
			"recipient2": identity(e.Recipients[1]),
			"recipient3": identity(e.Recipients[2]),
			"timestamp":  uintToString(e.Timestamp),
		},
	}
}

// RankClaimSettled is the settlement record of an accepted rank claim.
type RankClaimSettled struct {
	Payer     solana.PublicKey
	Nonce     uint64
	Amount    uint64
	StartTime uint64
	EndTime   uint64
	Timestamp uint64
	Recipient solana.PublicKey
}

func (RankClaimSettled) EventType() string { return TypeRedeemClaimRank }

func (e RankClaimSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemClaimRank,
		Attributes: map[string]string{
			"payer":     identity(e.Payer),
			"nonce":     uintToString(e.Nonce),
			"amount":    uintToString(e.Amount),
			"startTime": uintToString(e.StartTime),
			"endTime":   uintToString(e.EndTime),
			"timestamp": uintToString(e.Timestamp),
			"recipient": identity(e.Recipient),
		},
	}
}

type LotteryEntered struct {
	Payer    solana.PublicKey
	NFTMint  solana.PublicKey
	Sequence uint64
	Name     string
	Fee      uint64
}

func (LotteryEntered) EventType() string { return TypeRedeemLottery }

func (e LotteryEntered) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemLottery,
		Attributes: map[string]string{
			"payer":    identity(e.Payer),
			"nftMint":  identity(e.NFTMint),
			"sequence": uintToString(e.Sequence),
			"name":     e.Name,
			"fee":      uintToString(e.Fee),
		},
	}
}

type NFTBurned struct {
	Payer     solana.PublicKey
	NFTMint   solana.PublicKey
	Timestamp int64
	Name      string
}

func (NFTBurned) EventType() string { return TypeRedeemNFTBurned }

func (e NFTBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemNFTBurned,
		Attributes: map[string]string{
			"payer":     identity(e.Payer),
			"nftMint":   identity(e.NFTMint),
			"timestamp": intToString(e.Timestamp),
			"name":      e.Name,
		},
	}
}

type Deposited struct {
	From        solana.PublicKey
	Asset       solana.PublicKey
	Amount      uint64
	PoolBalance uint64
}

func (Deposited) EventType() string { return TypeRedeemDeposit }

func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemDeposit,
		Attributes: map[string]string{
			"from":        identity(e.From),
			"asset":       identity(e.Asset),
			"amount":      uintToString(e.Amount),
			"poolBalance": uintToString(e.PoolBalance),
		},
	}
}
