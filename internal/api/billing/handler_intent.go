package billing

import (
	"net/http"

	"booking-payments/internal/api/apierr"
	"booking-payments/internal/services/payments"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createIntentRequest struct {
	AppointmentID    string           `json:"appointmentId" binding:"required"`
	AppointmentPrice *decimal.Decimal `json:"appointmentPrice"`
	DoctorID         string           `json:"doctorId"`
}

// CreateIntent starts, or resumes, the payment of an appointment.
func (h *Handler) CreateIntent(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "appointmentId", "Invalid request body")
		return
	}

	res, err := h.payments.CreatePaymentIntent(c.Request.Context(), who, payments.CreateIntentInput{
		AppointmentID:    req.AppointmentID,
		AppointmentPrice: req.AppointmentPrice,
		DoctorID:         req.DoctorID,
	})
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
	AppointmentID   string `json:"appointmentId"`
}

// Confirm lets the client report a finished checkout. The provider is the
// source of truth for whether the payment went through.
func (h *Handler) Confirm(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "paymentIntentId", "Invalid request body")
		return
	}

	p, err := h.payments.ConfirmFromClient(c.Request.Context(), who, req.PaymentIntentID, req.AppointmentID)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": p.Status, "payment": p})
}
