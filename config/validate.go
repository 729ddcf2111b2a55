package config

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"megaluck/crypto"
	"megaluck/observability/logging"
)

// Runtime is the parsed form of the identity-bearing config fields.
type Runtime struct {
	Admin       solana.PublicKey
	Asset       solana.PublicKey
	Allocations []RuntimeAllocation
}

type RuntimeAllocation struct {
	Owner  solana.PublicKey
	Amount uint64
}

// Runtime parses identities and allocations. It implies Validate.
func (c *Config) Runtime() (Runtime, error) {
	var rt Runtime
	if err := Validate(c); err != nil {
		return rt, err
	}
	asset, err := crypto.ParseIdentity(c.Asset)
	if err != nil {
		return rt, fmt.Errorf("config: Asset: %w", err)
	}
	rt.Asset = asset
	if strings.TrimSpace(c.AdminIdentity) != "" {
		admin, err := crypto.ParseIdentity(c.AdminIdentity)
		if err != nil {
			return rt, fmt.Errorf("config: AdminIdentity: %w", err)
		}
		rt.Admin = admin
	}
	seen := make(map[solana.PublicKey]struct{}, len(c.Allocations))
	for i, alloc := range c.Allocations {
		owner, err := crypto.ParseIdentity(alloc.Owner)
		if err != nil {
			return rt, fmt.Errorf("config: allocations[%d]: %w", i, err)
		}
		if _, dup := seen[owner]; dup {
			return rt, fmt.Errorf("config: allocations[%d]: duplicate owner %s", i, owner)
		}
		seen[owner] = struct{}{}
		rt.Allocations = append(rt.Allocations, RuntimeAllocation{Owner: owner, Amount: alloc.Amount})
	}
	return rt, nil
}

// Validate checks the fields the daemon cannot start without.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if strings.TrimSpace(c.Asset) == "" {
		return fmt.Errorf("config: Asset required")
	}
	if strings.TrimSpace(c.AuthorityKeystorePath) == "" {
		return fmt.Errorf("config: AuthorityKeystorePath required")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0 {
		return fmt.Errorf("config: log rotation values must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry.SampleRatio must be within [0,1]")
	}
	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for i, alloc := range c.Allocations {
		if alloc.Amount == 0 {
			return fmt.Errorf("config: allocations[%d]: amount must be positive", i)
		}
	}
	return nil
}
