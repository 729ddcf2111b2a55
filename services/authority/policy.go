package authority

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"megaluck/native/redeem"
)

// ErrPolicyNotFound indicates that no policy exists for the requested claim class.
var ErrPolicyNotFound = errors.New("authority: policy not found")

// ErrDailyCapExceeded indicates that signing would exceed the configured window cap.
var ErrDailyCapExceeded = errors.New("authority: daily cap exceeded")

// ErrClaimTooLarge reports a single authorization above the per-claim maximum.
var ErrClaimTooLarge = errors.New("authority: claim exceeds per-claim maximum")

// ErrRankWindowOpen reports a rank payout requested before its window closed.
var ErrRankWindowOpen = errors.New("authority: rank window still open")

// ErrRankWindowInvalid reports a rank window whose start is after its end.
var ErrRankWindowInvalid = errors.New("authority: rank window start after end")

// Policy captures signing limits for one claim class.
type Policy struct {
	Class       redeem.ClaimClass
	DailyCap    uint64
	MaxPerClaim uint64
}

// policyFile mirrors the YAML representation of a policy entry.
type policyFile struct {
	Class       string `yaml:"class"`
	DailyCap    string `yaml:"daily_cap"`
	MaxPerClaim string `yaml:"max_per_claim"`
}

// LoadPolicies reads policies from the provided YAML file on disk.
func LoadPolicies(path string) ([]Policy, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policies: %w", err)
	}
	defer file.Close()
	return ParsePolicies(file)
}

// ParsePolicies decodes a YAML list of policy entries.
func ParsePolicies(r io.Reader) ([]Policy, error) {
	dec := yaml.NewDecoder(r)
	var entries []policyFile
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}
	policies := make([]Policy, 0, len(entries))
	seen := make(map[redeem.ClaimClass]struct{})
	for _, entry := range entries {
		class, err := redeem.ParseClaimClass(entry.Class)
		if err != nil {
			return nil, err
		}
		if _, exists := seen[class]; exists {
			return nil, fmt.Errorf("duplicate policy for class %s", class)
		}
		capAmount, err := parseAmount(entry.DailyCap)
		if err != nil {
			return nil, fmt.Errorf("class %s daily_cap: %w", class, err)
		}
		maxPerClaim, err := parseAmount(entry.MaxPerClaim)
		if err != nil {
			return nil, fmt.Errorf("class %s max_per_claim: %w", class, err)
		}
		policies = append(policies, Policy{Class: class, DailyCap: capAmount, MaxPerClaim: maxPerClaim})
		seen[class] = struct{}{}
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Class < policies[j].Class })
	return policies, nil
}

func parseAmount(raw string) (uint64, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return 0, nil
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer amount %q", raw)
	}
	return value, nil
}

// PolicyEnforcer coordinates access to the configured signing caps. A zero cap
// or maximum means unlimited.
type PolicyEnforcer struct {
	mu       sync.Mutex
	policies map[redeem.ClaimClass]Policy
	totals   map[redeem.ClaimClass]map[string]uint64
}

// NewPolicyEnforcer constructs an enforcer for the supplied policies.
func NewPolicyEnforcer(policies []Policy) (*PolicyEnforcer, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("at least one policy must be configured")
	}
	registry := make(map[redeem.ClaimClass]Policy, len(policies))
	totals := make(map[redeem.ClaimClass]map[string]uint64, len(policies))
	for _, policy := range policies {
		if !policy.Class.Valid() {
			return nil, redeem.ErrInvalidClass
		}
		if _, exists := registry[policy.Class]; exists {
			return nil, fmt.Errorf("duplicate policy for class %s", policy.Class)
		}
		registry[policy.Class] = policy
		totals[policy.Class] = make(map[string]uint64)
	}
	return &PolicyEnforcer{policies: registry, totals: totals}, nil
}

// Validate ensures an authorization complies with the configured caps.
func (p *PolicyEnforcer) Validate(class redeem.ClaimClass, amount uint64, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	policy, ok := p.policies[class]
	if !ok {
		return ErrPolicyNotFound
	}
	if amount == 0 {
		return fmt.Errorf("authorization amount must be positive")
	}
	if policy.MaxPerClaim > 0 && amount > policy.MaxPerClaim {
		return ErrClaimTooLarge
	}
	if policy.DailyCap == 0 {
		return nil
	}
	if p.remainingLocked(policy, now) < amount {
		return ErrDailyCapExceeded
	}
	return nil
}

// Record notes a signed authorization against the configured caps.
func (p *PolicyEnforcer) Record(class redeem.ClaimClass, amount uint64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.policies[class]; !ok {
		return
	}
	dayKey := dayBucket(now)
	spent := p.totals[class][dayKey]
	if spent > math.MaxUint64-amount {
		p.totals[class][dayKey] = math.MaxUint64
		return
	}
	p.totals[class][dayKey] = spent + amount
}

// RemainingCap reports the remaining allowance for the class in the current
// window. An unlimited class reports math.MaxUint64.
func (p *PolicyEnforcer) RemainingCap(class redeem.ClaimClass, now time.Time) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	policy, ok := p.policies[class]
	if !ok {
		return 0
	}
	return p.remainingLocked(policy, now)
}

func (p *PolicyEnforcer) remainingLocked(policy Policy, now time.Time) uint64 {
	if policy.DailyCap == 0 {
		return math.MaxUint64
	}
	spent := p.totals[policy.Class][dayBucket(now)]
	if spent >= policy.DailyCap {
		return 0
	}
	return policy.DailyCap - spent
}

// DailyCap returns the configured total cap for the class.
func (p *PolicyEnforcer) DailyCap(class redeem.ClaimClass) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policies[class].DailyCap
}

// ValidateRankWindow requires start <= end <= now so rank payouts only follow closed windows.
func ValidateRankWindow(start, end uint64, now time.Time) error {
	if start > end {
		return ErrRankWindowInvalid
	}
	ts := now.Unix()
	if ts < 0 || end > uint64(ts) {
		return ErrRankWindowOpen
	}
	return nil
}

func dayBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
