package stripewebhooks

import (
	"context"

	stripego "github.com/stripe/stripe-go/v75"
)

func (h *Handler) handleTransferCreated(ctx context.Context, tr *stripego.Transfer) (outcome, error) {
	if err := h.payouts.ConfirmTransfer(ctx, tr.ID, tr.Metadata["payment_id"]); err != nil {
		return "", err
	}
	return outcomeReceived, nil
}

func (h *Handler) handleTransferReversed(ctx context.Context, tr *stripego.Transfer) (outcome, error) {
	if err := h.payouts.ReverseTransfer(ctx, tr.ID, tr.Metadata["payment_id"], tr.AmountReversed); err != nil {
		return "", err
	}
	return outcomeReceived, nil
}
