package cron

import (
	"context"
	"net/http"

	"booking-payments/internal/api/apierr"
	"booking-payments/internal/services/payouts"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PayoutSweeper interface {
	ProcessDuePayouts(ctx context.Context) (*payouts.SweepResult, error)
}

type Handler struct {
	sweeper PayoutSweeper
	log     *zap.Logger
}

func NewHandler(s PayoutSweeper, log *zap.Logger) *Handler {
	return &Handler{sweeper: s, log: log}
}

// ProcessPayouts runs one payout sweep. Individual payout failures are part
// of the result, not an error response.
func (h *Handler) ProcessPayouts(c *gin.Context) {
	res, err := h.sweeper.ProcessDuePayouts(c.Request.Context())
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
