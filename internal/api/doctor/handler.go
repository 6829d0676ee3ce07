package doctor

import (
	"context"
	"net/http"
	"strconv"

	"booking-payments/internal/api/apierr"
	"booking-payments/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AccountService interface {
	SetupAccount(ctx context.Context, doctorID string) (*billing.DoctorPaymentAccount, error)
	RefreshStatus(ctx context.Context, doctorID string) (*billing.DoctorPaymentAccount, error)
}

type PayoutService interface {
	ListDoctorPayouts(ctx context.Context, doctorID string, limit int) ([]billing.DoctorPayout, error)
}

type Handler struct {
	accounts AccountService
	payouts  PayoutService
	log      *zap.Logger
}

func NewHandler(a AccountService, p PayoutService, log *zap.Logger) *Handler {
	return &Handler{accounts: a, payouts: p, log: log}
}

// SetupAccount creates the caller's connected account if needed and returns
// it with a fresh onboarding link while onboarding is incomplete.
func (h *Handler) SetupAccount(c *gin.Context) {
	acct, err := h.accounts.SetupAccount(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *Handler) GetAccount(c *gin.Context) {
	acct, err := h.accounts.RefreshStatus(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *Handler) ListPayouts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	list, err := h.payouts.ListDoctorPayouts(c.Request.Context(), c.GetString("user_id"), limit)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": list})
}
