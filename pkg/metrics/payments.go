package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records webhook, payment and payout outcomes.
type PaymentMetrics struct {
	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	payments        *prometheus.CounterVec
	payouts         *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	webhookDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_handle_duration_seconds",
		Help:    "Duration of webhook event handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Payment operations by operation and outcome.",
	}, []string{"operation", "outcome"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_total",
		Help: "Payout runs by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(webhookEvents, webhookDuration, payments, payouts)
	return &PaymentMetrics{
		webhookEvents:   webhookEvents,
		webhookDuration: webhookDuration,
		payments:        payments,
		payouts:         payouts,
	}
}

// IncWebhookEvent counts one webhook delivery for the given event type.
func (p *PaymentMetrics) IncWebhookEvent(eventType, outcome string) {
	if p == nil || p.webhookEvents == nil {
		return
	}
	p.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveWebhookDuration records how long handling one event took.
func (p *PaymentMetrics) ObserveWebhookDuration(eventType string, duration time.Duration) {
	if p == nil || p.webhookDuration == nil {
		return
	}
	p.webhookDuration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

// IncPayment counts one payment operation (initiate, confirm, refund).
func (p *PaymentMetrics) IncPayment(operation, outcome string) {
	if p == nil || p.payments == nil {
		return
	}
	p.payments.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// IncPayout counts one payout run.
func (p *PaymentMetrics) IncPayout(outcome string) {
	if p == nil || p.payouts == nil {
		return
	}
	p.payouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
