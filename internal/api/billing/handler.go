package billing

import (
	"context"
	"net/http"

	"booking-payments/internal/app/http/middleware"
	"booking-payments/internal/domain/billing"
	"booking-payments/internal/domain/users"
	"booking-payments/internal/services/payments"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, who users.Identity, in payments.CreateIntentInput) (*payments.IntentResult, error)
	ConfirmFromClient(ctx context.Context, who users.Identity, intentID, appointmentID string) (*billing.Payment, error)
	GetByAppointment(ctx context.Context, who users.Identity, appointmentID string) (*billing.Payment, error)
	RefundForCancellation(ctx context.Context, who users.Identity, appointmentID, reason string) (*payments.RefundResult, error)
}

type Handler struct {
	payments PaymentService
	log      *zap.Logger
}

func NewHandler(p PaymentService, log *zap.Logger) *Handler {
	return &Handler{payments: p, log: log}
}

func identity(c *gin.Context) (users.Identity, bool) {
	who, ok := middleware.CurrentIdentity(c)
	if !ok || who.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return users.Identity{}, false
	}
	return who, true
}
