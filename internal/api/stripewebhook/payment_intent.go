package stripewebhooks

import (
	"context"
	"errors"

	"booking-payments/internal/domain/billing"
	"booking-payments/internal/infra/stripe"
	"booking-payments/internal/services/payments"

	stripego "github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
)

func (h *Handler) handleIntentSucceeded(ctx context.Context, log *zap.Logger, pi *stripego.PaymentIntent) (outcome, error) {
	intent := stripe.IntentFrom(pi)
	log = log.With(zap.String("intent_id", intent.ID), zap.String("appointment_id", intent.Metadata["appointment_id"]))

	_, err := h.payments.ConfirmPayment(ctx, payments.ConfirmInput{
		PaymentIntentID: intent.ID,
		ChargeID:        intent.LatestChargeID,
		AppointmentID:   intent.Metadata["appointment_id"],
	})
	switch {
	case err == nil:
		return outcomeReceived, nil
	case errors.Is(err, billing.ErrValidation):
		log.Warn("stripewebhook intent does not match local payment", zap.Error(err))
		return outcomeUnknown, nil
	case errors.Is(err, billing.ErrNotFound), errors.Is(err, billing.ErrConflict):
		// Money was captured that no live payment accounts for.
		log.Error("stripewebhook captured intent has no payable local payment", zap.Error(err))
		return outcomeUnknown, nil
	}
	return "", err
}

func (h *Handler) handleIntentFailed(ctx context.Context, log *zap.Logger, pi *stripego.PaymentIntent) (outcome, error) {
	reason := "payment failed"
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		reason = pi.LastPaymentError.Msg
	}

	_, err := h.payments.MarkPaymentFailed(ctx, pi.ID, pi.Metadata["appointment_id"], reason)
	if errors.Is(err, billing.ErrValidation) {
		log.Warn("stripewebhook intent does not match local payment", zap.String("intent_id", pi.ID), zap.Error(err))
		return outcomeUnknown, nil
	}
	if err != nil {
		return acknowledgeUnknown(log, err, "stripewebhook failed intent has no local payment", zap.String("intent_id", pi.ID))
	}
	return outcomeReceived, nil
}
