package stripewebhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"booking-payments/internal/domain/billing"
	"booking-payments/internal/infra/stripe"
	"booking-payments/internal/services/payments"
	"booking-payments/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
	"go.uber.org/zap"
)

const maxBodyBytes = 262144

type PaymentEvents interface {
	ConfirmPayment(ctx context.Context, in payments.ConfirmInput) (*billing.Payment, error)
	MarkPaymentFailed(ctx context.Context, intentID, appointmentID, reason string) (*billing.Payment, error)
	ReconcileRefund(ctx context.Context, in payments.RefundInput) (*billing.Payment, error)
}

type PayoutEvents interface {
	ConfirmTransfer(ctx context.Context, transferID, paymentID string) error
	ReverseTransfer(ctx context.Context, transferID, paymentID string, amountReversedMinor int64) error
}

type AccountEvents interface {
	SyncAccount(ctx context.Context, acct *stripe.Account) error
}

// EventLog remembers provider event ids that were fully handled.
type EventLog interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

type Handler struct {
	secret   string
	payments PaymentEvents
	payouts  PayoutEvents
	accounts AccountEvents
	events   EventLog
	log      *zap.Logger
}

func NewHandler(secret string, p PaymentEvents, po PayoutEvents, a AccountEvents, events EventLog, log *zap.Logger) *Handler {
	return &Handler{secret: secret, payments: p, payouts: po, accounts: a, events: events, log: log}
}

// outcome is what the handler did with an event that parsed.
type outcome string

const (
	outcomeReceived outcome = "received"
	outcomeIgnored  outcome = "ignored"
	outcomeUnknown  outcome = "unknown_object"
)

var errParse = errors.New("payload parse failed")

func (h *Handler) StripeWebhook(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, maxBodyBytes)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		telemetry.WebhookEvents.WithLabelValues("unverified", "too_large").Inc()
		h.log.Error("stripewebhook body over limit", zap.Int64("limit", tooLarge.Limit))
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		telemetry.WebhookEvents.WithLabelValues("unverified", "bad_signature").Inc()
		h.log.Warn("stripewebhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	eventType := string(event.Type)
	log := h.log.With(zap.String("event_id", event.ID), zap.String("event_type", eventType))
	ctx := c.Request.Context()

	processed, err := h.events.IsProcessed(ctx, event.ID)
	if err != nil {
		telemetry.WebhookEvents.WithLabelValues(eventType, "error").Inc()
		log.Error("stripewebhook event lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed"})
		return
	}
	if processed {
		telemetry.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		log.Debug("stripewebhook duplicate event")
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	result, err := h.dispatch(ctx, log, &event)
	switch {
	case errors.Is(err, errParse):
		telemetry.WebhookEvents.WithLabelValues(eventType, "bad_payload").Inc()
		log.Warn("stripewebhook payload parse failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse event object"})
		return
	case err != nil:
		telemetry.WebhookEvents.WithLabelValues(eventType, "error").Inc()
		log.Error("stripewebhook handler failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if result != outcomeIgnored {
		if err := h.events.MarkProcessed(context.WithoutCancel(ctx), event.ID, eventType); err != nil {
			log.Warn("stripewebhook could not record event", zap.Error(err))
		}
	}
	telemetry.WebhookEvents.WithLabelValues(eventType, string(result)).Inc()

	status := "received"
	if result == outcomeIgnored {
		status = "ignored"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *Handler) dispatch(ctx context.Context, log *zap.Logger, event *stripego.Event) (outcome, error) {
	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripego.PaymentIntent
		if err := decode(event, &pi); err != nil {
			return "", err
		}
		return h.handleIntentSucceeded(ctx, log, &pi)

	case "payment_intent.payment_failed":
		var pi stripego.PaymentIntent
		if err := decode(event, &pi); err != nil {
			return "", err
		}
		return h.handleIntentFailed(ctx, log, &pi)

	case "charge.refunded":
		var ch stripego.Charge
		if err := decode(event, &ch); err != nil {
			return "", err
		}
		return h.handleChargeRefunded(ctx, log, &ch)

	case "transfer.created":
		var tr stripego.Transfer
		if err := decode(event, &tr); err != nil {
			return "", err
		}
		return h.handleTransferCreated(ctx, &tr)

	case "transfer.reversed":
		var tr stripego.Transfer
		if err := decode(event, &tr); err != nil {
			return "", err
		}
		return h.handleTransferReversed(ctx, &tr)

	case "account.updated":
		var acct stripego.Account
		if err := decode(event, &acct); err != nil {
			return "", err
		}
		return h.handleAccountUpdated(ctx, &acct)

	default:
		return outcomeIgnored, nil
	}
}

func decode(event *stripego.Event, dst any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return errParse
	}
	if err := json.Unmarshal(event.Data.Raw, dst); err != nil {
		return errors.Join(errParse, err)
	}
	return nil
}

// acknowledgeUnknown turns a missing local record into a handled event so
// the provider stops redelivering it.
func acknowledgeUnknown(log *zap.Logger, err error, msg string, fields ...zap.Field) (outcome, error) {
	if errors.Is(err, billing.ErrNotFound) {
		log.Warn(msg, append(fields, zap.Error(err))...)
		return outcomeUnknown, nil
	}
	return "", err
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
