package stripewebhooks

import (
	"context"

	"booking-payments/internal/services/payments"

	stripego "github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
)

// handleChargeRefunded mirrors the charge's cumulative refund total. A charge
// without a payment intent was not created by this service.
func (h *Handler) handleChargeRefunded(ctx context.Context, log *zap.Logger, ch *stripego.Charge) (outcome, error) {
	if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
		log.Warn("stripewebhook refunded charge has no payment intent", zap.String("charge_id", ch.ID))
		return outcomeUnknown, nil
	}

	_, err := h.payments.ReconcileRefund(ctx, payments.RefundInput{
		PaymentIntentID:     ch.PaymentIntent.ID,
		ChargeID:            ch.ID,
		AmountRefundedMinor: ch.AmountRefunded,
		FullyRefunded:       ch.Refunded,
	})
	if err != nil {
		return acknowledgeUnknown(log, err, "stripewebhook refunded charge has no local payment",
			zap.String("intent_id", ch.PaymentIntent.ID),
			zap.String("charge_id", ch.ID),
		)
	}
	return outcomeReceived, nil
}
