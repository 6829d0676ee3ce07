package stripewebhooks

import (
	"context"

	"booking-payments/internal/infra/stripe"

	stripego "github.com/stripe/stripe-go/v75"
)

func (h *Handler) handleAccountUpdated(ctx context.Context, acct *stripego.Account) (outcome, error) {
	if err := h.accounts.SyncAccount(ctx, stripe.AccountFrom(acct)); err != nil {
		return "", err
	}
	return outcomeReceived, nil
}
