package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutTransitionsTotal counts checkout status transitions.
	CheckoutTransitionsTotal *prometheus.CounterVec
	// PaymentIntentTotal counts intent creation outcomes per wire path.
	PaymentIntentTotal *prometheus.CounterVec
	// GatewayRequestDuration records intent service call latency in milliseconds.
	GatewayRequestDuration *prometheus.HistogramVec
	// CallbackReplayTotal counts PSP callbacks accepted or rejected as replays.
	CallbackReplayTotal *prometheus.CounterVec
	// SessionsActive tracks sessions held by the session host.
	SessionsActive prometheus.Gauge
	// WebhookDeliveriesTotal counts merchant webhook deliveries by result.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency observes webhook delivery latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers checkout collectors. It
// is safe to call more than once; only the first call has an effect.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transition_total",
			Help:      "Count of checkout status transitions.",
		}, []string{"from", "to"})
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent creation outcomes.",
		}, []string{"provider", "path", "result"})
		GatewayRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_ms",
			Help:      "Latency of intent service calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "result"})
		CallbackReplayTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "psp_callback_total",
			Help:      "Count of PSP callbacks by replay-guard outcome.",
		}, []string{"psp", "result"})
		SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of checkout sessions held by the session host.",
		})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Merchant webhook deliveries by result.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_latency_ms",
			Help:      "Latency of merchant webhook deliveries in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})

		mustRegisterCollector(reg, CheckoutTransitionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTransitionsTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentIntentTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentIntentTotal = v
			}
		})
		mustRegisterCollector(reg, GatewayRequestDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				GatewayRequestDuration = v
			}
		})
		mustRegisterCollector(reg, CallbackReplayTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CallbackReplayTotal = v
			}
		})
		mustRegisterCollector(reg, SessionsActive, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				SessionsActive = v
			}
		})
		mustRegisterCollector(reg, WebhookDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				WebhookAttemptLatency = v
			}
		})
	})
}
