package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"booking-payments/internal/api/apierr"
	"booking-payments/internal/domain/billing"
	"booking-payments/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CommissionService interface {
	Setting(ctx context.Context) (*billing.CommissionSetting, error)
	Update(ctx context.Context, pct decimal.Decimal) (*billing.CommissionSetting, error)
}

type PaymentService interface {
	List(ctx context.Context, f repository.PaymentFilter) ([]billing.Payment, error)
	Stats(ctx context.Context) (*repository.RevenueTotals, error)
}

type PayoutService interface {
	GetPendingPayouts(ctx context.Context, limit int) ([]billing.Payment, error)
	GetUnscheduledPayouts(ctx context.Context, limit int) ([]billing.Payment, error)
	RetryPayout(ctx context.Context, paymentID string) (*billing.DoctorPayout, error)
	OverrideSchedule(ctx context.Context, paymentID string, at time.Time) (*billing.Payment, error)
}

type Handler struct {
	commission CommissionService
	payments   PaymentService
	payouts    PayoutService
	log        *zap.Logger
}

func NewHandler(c CommissionService, p PaymentService, po PayoutService, log *zap.Logger) *Handler {
	return &Handler{commission: c, payments: p, payouts: po, log: log}
}

func (h *Handler) GetCommission(c *gin.Context) {
	setting, err := h.commission.Setting(c.Request.Context())
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

type updateCommissionRequest struct {
	CommissionPercentage decimal.Decimal `json:"commissionPercentage"`
}

func (h *Handler) UpdateCommission(c *gin.Context) {
	var req updateCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "commissionPercentage", "Invalid request body")
		return
	}

	setting, err := h.commission.Update(c.Request.Context(), req.CommissionPercentage)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	h.log.Info("admin.UpdateCommission commission changed",
		zap.String("by", c.GetString("user_id")),
		zap.String("percentage", setting.CommissionPercentage.String()),
	)
	c.JSON(http.StatusOK, setting)
}

func (h *Handler) ListPayments(c *gin.Context) {
	f := repository.PaymentFilter{
		Status:    billing.PaymentStatus(c.Query("status")),
		DoctorID:  c.Query("doctorId"),
		PatientID: c.Query("patientId"),
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	}
	if f.Status != "" && !validStatus(f.Status) {
		apierr.BadRequest(c, "status", "Unknown payment status")
		return
	}

	list, err := h.payments.List(c.Request.Context(), f)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list, "limit": f.Limit, "offset": f.Offset})
}

func (h *Handler) Stats(c *gin.Context) {
	totals, err := h.payments.Stats(c.Request.Context())
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

// PendingPayouts lists due payouts, and paid payments still waiting for
// their hold to be written.
func (h *Handler) PendingPayouts(c *gin.Context) {
	limit := queryInt(c, "limit", 0)
	due, err := h.payouts.GetPendingPayouts(c.Request.Context(), limit)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	unscheduled, err := h.payouts.GetUnscheduledPayouts(c.Request.Context(), limit)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": due, "count": len(due), "unscheduled": unscheduled})
}

// CreatePayout releases one payment's payout ahead of the sweep. A payout
// the provider rejected is retried.
func (h *Handler) CreatePayout(c *gin.Context) {
	payout, err := h.payouts.RetryPayout(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

type scheduleRequest struct {
	PayoutScheduledAt time.Time `json:"payoutScheduledAt" binding:"required"`
}

func (h *Handler) OverrideSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "payoutScheduledAt", "Expected an RFC 3339 timestamp")
		return
	}

	p, err := h.payouts.OverrideSchedule(c.Request.Context(), c.Param("paymentId"), req.PayoutScheduledAt)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func validStatus(s billing.PaymentStatus) bool {
	switch s {
	case billing.PaymentPending, billing.PaymentCompleted, billing.PaymentFailed,
		billing.PaymentRefunded, billing.PaymentPartiallyRefunded:
		return true
	}
	return false
}
