package rpc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"megaluck/crypto"
	"megaluck/native/redeem"
)

// ClaimRequestJSON is the wire form of a standard claim. Identities and the
// signature are base58, amounts are decimal strings.
type ClaimRequestJSON struct {
	Payer      string                  `json:"payer"`
	Nonce      uint64                  `json:"nonce"`
	Amounts    [redeem.LegCount]string `json:"amounts"`
	OrderType  uint64                  `json:"orderType"`
	Timestamp  uint64                  `json:"timestamp"`
	Recipients [redeem.LegCount]string `json:"recipients"`
	Signature  string                  `json:"signature"`
}

// RankClaimRequestJSON is the wire form of a rank claim.
type RankClaimRequestJSON struct {
	Payer     string `json:"payer"`
	Nonce     uint64 `json:"nonce"`
	Amount    string `json:"amount"`
	Timestamp uint64 `json:"timestamp"`
	StartTime uint64 `json:"startTime"`
	EndTime   uint64 `json:"endTime"`
	Recipient string `json:"recipient"`
	Signature string `json:"signature"`
}

// LotteryEntryJSON is the wire form of a payer-signed lottery entry.
type LotteryEntryJSON struct {
	Payer     string `json:"payer"`
	NFTMint   string `json:"nftMint"`
	Name      string `json:"name"`
	Timestamp uint64 `json:"timestamp"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// DepositRequestJSON is the wire form of a holder-signed deposit.
type DepositRequestJSON struct {
	From      string `json:"from"`
	Amount    string `json:"amount"`
	Timestamp uint64 `json:"timestamp"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type LegResult struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// SettlementResult describes an accepted claim.
type SettlementResult struct {
	Class     string      `json:"class"`
	Payer     string      `json:"payer"`
	Nonce     uint64      `json:"nonce"`
	OrderType uint64      `json:"orderType,omitempty"`
	Timestamp uint64      `json:"timestamp"`
	StartTime uint64      `json:"startTime,omitempty"`
	EndTime   uint64      `json:"endTime,omitempty"`
	Legs      []LegResult `json:"legs"`
	Total     string      `json:"total"`
	Height    uint64      `json:"height"`
}

type ConfigResult struct {
	Authority string   `json:"authority"`
	Asset     string   `json:"asset"`
	Fee       string   `json:"fee"`
	Paused    []string `json:"paused"`
	Height    uint64   `json:"height"`
}

type NonceResult struct {
	Owner string `json:"owner"`
	Class string `json:"class"`
	Nonce uint64 `json:"nonce"`
}

type BalanceResult struct {
	Owner   string `json:"owner,omitempty"`
	Balance string `json:"balance"`
}

type LotteryResult struct {
	Payer    string `json:"payer"`
	NFTMint  string `json:"nftMint"`
	Sequence uint64 `json:"sequence"`
	Name     string `json:"name"`
	Fee      string `json:"fee"`
}

type BurnResult struct {
	Payer     string `json:"payer"`
	NFTMint   string `json:"nftMint"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

type AuditEventResult struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Payer      string            `json:"payer,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
	Digest     string            `json:"digest"`
}

type AuditVerifyResult struct {
	Checked uint64 `json:"checked"`
	Intact  bool   `json:"intact"`
	Error   string `json:"error,omitempty"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(field, value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a base-10 unsigned integer", field)
	}
	return amount, nil
}

// parseOptionalIdentity maps an empty string to the zero identity so unused
// legs may omit their recipient.
func parseOptionalIdentity(field, value string) (solana.PublicKey, error) {
	if strings.TrimSpace(value) == "" {
		return solana.PublicKey{}, nil
	}
	return parseIdentity(field, value)
}

func parseIdentity(field, value string) (solana.PublicKey, error) {
	id, err := crypto.ParseIdentity(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return id, nil
}

func formatIdentity(id solana.PublicKey) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}

// EncodeClaimRequest renders a signed claim in wire form.
func EncodeClaimRequest(req *redeem.ClaimRequest) ClaimRequestJSON {
	out := ClaimRequestJSON{
		Payer:     req.Payer.String(),
		Nonce:     req.Nonce,
		OrderType: req.OrderType,
		Timestamp: req.Timestamp,
		Signature: req.Signature.String(),
	}
	for i := 0; i < redeem.LegCount; i++ {
		out.Amounts[i] = formatAmount(req.Amounts[i])
		out.Recipients[i] = formatIdentity(req.Recipients[i])
	}
	return out
}

// Decode converts the wire form back into an engine request.
func (j ClaimRequestJSON) Decode() (*redeem.ClaimRequest, error) {
	payer, err := parseIdentity("payer", j.Payer)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.ParseSignature(j.Signature)
	if err != nil {
		return nil, err
	}
	req := &redeem.ClaimRequest{
		Payer:     payer,
		Nonce:     j.Nonce,
		OrderType: j.OrderType,
		Timestamp: j.Timestamp,
		Signature: sig,
	}
	for i := 0; i < redeem.LegCount; i++ {
		amount, err := parseAmount(fmt.Sprintf("amounts[%d]", i), j.Amounts[i])
		if err != nil {
			return nil, err
		}
		recipient, err := parseOptionalIdentity(fmt.Sprintf("recipients[%d]", i), j.Recipients[i])
		if err != nil {
			return nil, err
		}
		req.Amounts[i] = amount
		req.Recipients[i] = recipient
	}
	return req, nil
}

// EncodeRankClaimRequest renders a signed rank claim in wire form.
func EncodeRankClaimRequest(req *redeem.RankClaimRequest) RankClaimRequestJSON {
	return RankClaimRequestJSON{
		Payer:     req.Payer.String(),
		Nonce:     req.Nonce,
		Amount:    formatAmount(req.Amount),
		Timestamp: req.Timestamp,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Recipient: formatIdentity(req.Recipient),
		Signature: req.Signature.String(),
	}
}

func (j RankClaimRequestJSON) Decode() (*redeem.RankClaimRequest, error) {
	payer, err := parseIdentity("payer", j.Payer)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	recipient, err := parseOptionalIdentity("recipient", j.Recipient)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.ParseSignature(j.Signature)
	if err != nil {
		return nil, err
	}
	return &redeem.RankClaimRequest{
		Payer:     payer,
		Nonce:     j.Nonce,
		Amount:    amount,
		Timestamp: j.Timestamp,
		StartTime: j.StartTime,
		EndTime:   j.EndTime,
		Recipient: recipient,
		Signature: sig,
	}, nil
}

// parseHolderSignature maps a missing signature to the zero signature so the
// engine rejects it as a failed verification.
func parseHolderSignature(value string) (solana.Signature, error) {
	if strings.TrimSpace(value) == "" {
		return solana.Signature{}, nil
	}
	return crypto.ParseSignature(value)
}

// EncodeLotteryEntry renders a signed lottery entry in wire form.
func EncodeLotteryEntry(req *redeem.LotteryEntry) LotteryEntryJSON {
	return LotteryEntryJSON{
		Payer:     req.Payer.String(),
		NFTMint:   req.NFTMint.String(),
		Name:      req.Name,
		Timestamp: req.Timestamp,
		Nonce:     req.Nonce,
		Signature: req.Signature.String(),
	}
}

func (j LotteryEntryJSON) Decode() (*redeem.LotteryEntry, error) {
	payer, err := parseIdentity("payer", j.Payer)
	if err != nil {
		return nil, err
	}
	mint, err := parseIdentity("nftMint", j.NFTMint)
	if err != nil {
		return nil, err
	}
	sig, err := parseHolderSignature(j.Signature)
	if err != nil {
		return nil, err
	}
	return &redeem.LotteryEntry{
		Payer:     payer,
		NFTMint:   mint,
		Name:      j.Name,
		Timestamp: j.Timestamp,
		Nonce:     j.Nonce,
		Signature: sig,
	}, nil
}

// EncodeDepositRequest renders a signed deposit in wire form.
func EncodeDepositRequest(req *redeem.DepositRequest) DepositRequestJSON {
	return DepositRequestJSON{
		From:      req.From.String(),
		Amount:    formatAmount(req.Amount),
		Timestamp: req.Timestamp,
		Nonce:     req.Nonce,
		Signature: req.Signature.String(),
	}
}

func (j DepositRequestJSON) Decode() (*redeem.DepositRequest, error) {
	from, err := parseIdentity("from", j.From)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	sig, err := parseHolderSignature(j.Signature)
	if err != nil {
		return nil, err
	}
	return &redeem.DepositRequest{
		From:      from,
		Amount:    amount,
		Timestamp: j.Timestamp,
		Nonce:     j.Nonce,
		Signature: sig,
	}, nil
}

func settlementResult(record *redeem.SettlementRecord, height uint64) SettlementResult {
	out := SettlementResult{
		Class:     record.Class.String(),
		Payer:     record.Payer.String(),
		Nonce:     record.Nonce,
		OrderType: record.OrderType,
		Timestamp: record.Timestamp,
		StartTime: record.StartTime,
		EndTime:   record.EndTime,
		Legs:      make([]LegResult, 0, len(record.Legs)),
		Total:     formatAmount(record.Total),
		Height:    height,
	}
	for _, leg := range record.Legs {
		out.Legs = append(out.Legs, LegResult{Recipient: formatIdentity(leg.Recipient), Amount: formatAmount(leg.Amount)})
	}
	return out
}
