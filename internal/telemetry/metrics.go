package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_payments_webhook_events_total",
		Help: "Provider webhook events by type and outcome.",
	}, []string{"type", "outcome"})

	PaymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_payments_payment_transitions_total",
		Help: "Payment status transitions caused by this service.",
	}, []string{"to"})

	IdempotentReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_payments_idempotent_replays_total",
		Help: "Operations short-circuited because the target state was already reached.",
	}, []string{"operation"})

	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_payments_payouts_total",
		Help: "Payout attempts by outcome.",
	}, []string{"outcome"})
)
