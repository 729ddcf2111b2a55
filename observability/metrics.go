package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	redeemMetricsOnce sync.Once
	redeemRegistry    *RedeemMetrics

	authorityMetricsOnce sync.Once
	authorityRegistry    *AuthorityMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "megaluck",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "megaluck",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "megaluck",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "megaluck",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RedeemMetrics tracks settlement activity against the custodial pool.
type RedeemMetrics struct {
	claims       *prometheus.CounterVec
	disbursed    *prometheus.CounterVec
	lottery      prometheus.Counter
	poolBalance  prometheus.Gauge
	latency      *prometheus.HistogramVec
	pauseEngaged *prometheus.GaugeVec
}

// Redeem exposes the metrics registry for the redemption engine host.
func Redeem() *RedeemMetrics {
	redeemMetricsOnce.Do(func() {
		redeemRegistry = &RedeemMetrics{
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "megaluck",
				Subsystem: "redeem",
				Name:      "claims_total",
				Help:      "Count of claims segmented by class and outcome kind.",
			}, []string{"class", "outcome"}),
			disbursed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "megaluck",
				Subsystem: "redeem",
				Name:      "disbursed_total",
				Help:      "Total amount paid out of the pool segmented by claim class.",
			}, []string{"class"}),
			lottery: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "megaluck",
				Subsystem: "redeem",
				Name:      "lottery_entries_total",
				Help:      "Count of lottery entries that paid the configured fee.",
			}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "megaluck",
				Subsystem: "redeem",
				Name:      "pool_balance",
				Help:      "Committed custodial pool balance in base units.",
			}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "megaluck",
				Subsystem: "redeem",
				Name:      "claim_duration_seconds",
				Help:      "Latency distribution for claim processing including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"class"}),
			pauseEngaged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "megaluck",
				Subsystem: "redeem",
				Name:      "pause_engaged",
				Help:      "Indicates whether a module pause switch is active (1) or not (0).",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			redeemRegistry.claims,
			redeemRegistry.disbursed,
			redeemRegistry.lottery,
			redeemRegistry.poolBalance,
			redeemRegistry.latency,
			redeemRegistry.pauseEngaged,
		)
	})
	return redeemRegistry
}

// RecordClaim counts a claim outcome and, on success, the disbursed amount.
func (m *RedeemMetrics) RecordClaim(class, outcome string, amount uint64, d time.Duration) {
	if m == nil {
		return
	}
	class = labelOr(class, "unknown")
	m.claims.WithLabelValues(class, labelOr(outcome, "unspecified")).Inc()
	if outcome == "ok" && amount > 0 {
		m.disbursed.WithLabelValues(class).Add(float64(amount))
	}
	m.latency.WithLabelValues(class).Observe(d.Seconds())
}

func (m *RedeemMetrics) RecordLottery() {
	if m == nil {
		return
	}
	m.lottery.Inc()
}

// SetPoolBalance updates the committed pool balance gauge.
func (m *RedeemMetrics) SetPoolBalance(balance uint64) {
	if m == nil {
		return
	}
	m.poolBalance.Set(float64(balance))
}

// SetPause toggles the pause_engaged gauge for a module.
func (m *RedeemMetrics) SetPause(module string, engaged bool) {
	if m == nil {
		return
	}
	value := 0.0
	if engaged {
		value = 1
	}
	m.pauseEngaged.WithLabelValues(labelOr(module, "unknown")).Set(value)
}

// AuthorityMetrics bundles collectors for the off-chain claim signer.
type AuthorityMetrics struct {
	authorizations *prometheus.CounterVec
	capRemaining   *prometheus.GaugeVec
	capUtilization *prometheus.GaugeVec
}

// Authority exposes the metrics registry for the claim signer.
func Authority() *AuthorityMetrics {
	authorityMetricsOnce.Do(func() {
		authorityRegistry = &AuthorityMetrics{
			authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "megaluck",
				Subsystem: "authority",
				Name:      "authorizations_total",
				Help:      "Count of signing requests segmented by class and outcome.",
			}, []string{"class", "outcome"}),
			capRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "megaluck",
				Subsystem: "authority",
				Name:      "cap_remaining",
				Help:      "Remaining daily signing cap per claim class in base units.",
			}, []string{"class"}),
			capUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "megaluck",
				Subsystem: "authority",
				Name:      "cap_utilization",
				Help:      "Ratio of consumed cap for the current signing window (0-1).",
			}, []string{"class"}),
		}
		prometheus.MustRegister(
			authorityRegistry.authorizations,
			authorityRegistry.capRemaining,
			authorityRegistry.capUtilization,
		)
	})
	return authorityRegistry
}

func (m *AuthorityMetrics) RecordAuthorization(class, outcome string) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(labelOr(class, "unknown"), labelOr(outcome, "unspecified")).Inc()
}

// RecordCap updates the remaining cap and utilisation gauge for a class.
func (m *AuthorityMetrics) RecordCap(class string, remaining, total uint64) {
	if m == nil {
		return
	}
	label := labelOr(class, "unknown")
	m.capRemaining.WithLabelValues(label).Set(float64(remaining))
	utilisation := 0.0
	if total > 0 {
		used := total - remaining
		if remaining > total {
			used = 0
		}
		utilisation = float64(used) / float64(total)
	}
	m.capUtilization.WithLabelValues(label).Set(utilisation)
}

// ClearCap drops the cap gauges for a class without a daily cap.
func (m *AuthorityMetrics) ClearCap(class string) {
	if m == nil {
		return
	}
	label := labelOr(class, "unknown")
	m.capRemaining.DeleteLabelValues(label)
	m.capUtilization.DeleteLabelValues(label)
}

func labelOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
