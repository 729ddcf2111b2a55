package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"megaluck/native/redeem"
)

// Client is a minimal JSON-RPC client for the redeem methods.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Uint64
}

func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Call invokes method with a single parameter object and decodes the result
// into out. JSON-RPC errors are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	envelope := struct {
		JSONRPC string        `json:"jsonrpc"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
		ID      uint64        `json:"id"`
	}{JSONRPC: jsonRPCVersion, Method: method, ID: c.nextID.Add(1)}
	if params != nil {
		envelope.Params = []interface{}{params}
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return err
	}
	var decoded RPCResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("rpc: %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

// Nonce reads the stored nonce for (owner, class).
func (c *Client) Nonce(ctx context.Context, owner solana.PublicKey, class redeem.ClaimClass) (uint64, error) {
	var result NonceResult
	err := c.Call(ctx, "redeem_getNonce", ownerClassParams{Owner: owner.String(), Class: class.String()}, &result)
	if err != nil {
		return 0, err
	}
	return result.Nonce, nil
}

func (c *Client) SubmitClaim(ctx context.Context, req *redeem.ClaimRequest) (*SettlementResult, error) {
	var result SettlementResult
	if err := c.Call(ctx, "redeem_claim", EncodeClaimRequest(req), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SubmitRankClaim(ctx context.Context, req *redeem.RankClaimRequest) (*SettlementResult, error) {
	var result SettlementResult
	if err := c.Call(ctx, "redeem_claimRank", EncodeRankClaimRequest(req), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) EnterLottery(ctx context.Context, req *redeem.LotteryEntry) (*LotteryResult, error) {
	var result LotteryResult
	if err := c.Call(ctx, "redeem_enterLottery", EncodeLotteryEntry(req), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Deposit submits a holder-signed deposit and returns the new pool balance.
func (c *Client) Deposit(ctx context.Context, req *redeem.DepositRequest) (string, error) {
	var result BalanceResult
	if err := c.Call(ctx, "redeem_deposit", EncodeDepositRequest(req), &result); err != nil {
		return "", err
	}
	return result.Balance, nil
}
