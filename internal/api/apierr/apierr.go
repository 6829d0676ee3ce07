package apierr

import (
	"errors"
	"net/http"

	"booking-payments/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	{billing.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{billing.ErrForbidden, http.StatusForbidden, "forbidden"},
	{billing.ErrNotFound, http.StatusNotFound, "not_found"},
	{billing.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
	{billing.ErrPaymentNotSucceeded, http.StatusConflict, "payment_not_succeeded"},
	{billing.ErrAccountNotReady, http.StatusConflict, "account_not_ready"},
	{billing.ErrPayoutInProgress, http.StatusConflict, "payout_in_progress"},
	{billing.ErrConflict, http.StatusConflict, "conflict"},
	{billing.ErrProvider, http.StatusBadGateway, "provider_error"},
}

// Status returns the HTTP status and error code for err.
func Status(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// Respond writes err as JSON and aborts the request. Internal errors are
// logged and their message is not echoed to the caller.
func Respond(c *gin.Context, log *zap.Logger, err error) {
	status, code := Status(err)

	body := gin.H{"error": code, "message": err.Error()}
	var verr *billing.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
		body["message"] = verr.Message
	}

	switch {
	case status >= http.StatusInternalServerError:
		log.Error("api request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			body["message"] = "internal error"
		}
	case status == http.StatusConflict:
		log.Info("api request conflict", zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.AbortWithStatusJSON(status, body)
}

// BadRequest answers a malformed request body or parameter.
func BadRequest(c *gin.Context, field, message string) {
	body := gin.H{"error": "validation_failed", "message": message}
	if field != "" {
		body["field"] = field
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
