package billing

import (
	"errors"
	"io"
	"net/http"

	"booking-payments/internal/api/apierr"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetByAppointment(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	p, err := h.payments.GetByAppointment(c.Request.Context(), who, c.Param("appointmentId"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type refundRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// Refund refunds what remains of a cancelled appointment's payment.
func (h *Handler) Refund(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apierr.BadRequest(c, "reason", "Invalid request body")
		return
	}

	res, err := h.payments.RefundForCancellation(c.Request.Context(), who, c.Param("appointmentId"), req.Reason)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
