package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the operator-facing counters. Liquidity shortfalls
// and remediation failures page; the rest feed dashboards.
type Metrics struct {
	LiquidityShortfall  *prometheus.CounterVec
	RemediationRequired prometheus.Counter
	WebhookRejected     *prometheus.CounterVec
	WebhookIPMismatch   prometheus.Counter
	RateFallback        *prometheus.CounterVec
	PollerTimeouts      *prometheus.CounterVec
	OrdersSettled       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LiquidityShortfall: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stableramp_liquidity_shortfall_total",
			Help: "Preflight checks that failed, by check.",
		}, []string{"check"}),
		RemediationRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stableramp_remediation_required_total",
			Help: "Orders failed after fiat collection; operator action needed.",
		}),
		WebhookRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stableramp_webhook_rejected_total",
			Help: "Webhook deliveries rejected, by reason.",
		}, []string{"reason"}),
		WebhookIPMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stableramp_webhook_ip_mismatch_total",
			Help: "Webhooks with a valid signature from an unlisted IP.",
		}),
		RateFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stableramp_rate_fallback_total",
			Help: "Quotes served from stale cache or the hardcoded fallback.",
		}, []string{"source"}),
		PollerTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stableramp_poller_timeouts_total",
			Help: "Orders force-failed by the reconciliation circuit breaker.",
		}, []string{"rail"}),
		OrdersSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stableramp_orders_settled_total",
			Help: "Orders reaching a terminal state, by type and status.",
		}, []string{"type", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.LiquidityShortfall,
			m.RemediationRequired,
			m.WebhookRejected,
			m.WebhookIPMismatch,
			m.RateFallback,
			m.PollerTimeouts,
			m.OrdersSettled,
		)
	}
	return m
}

// NewNop returns an unregistered set, for tests.
func NewNop() *Metrics {
	return New(nil)
}
