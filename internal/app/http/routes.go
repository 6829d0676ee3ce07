package routes

import (
	adminapi "booking-payments/internal/api/admin"
	"booking-payments/internal/api/billing"
	cronapi "booking-payments/internal/api/cron"
	doctorapi "booking-payments/internal/api/doctor"
	stripewebhooks "booking-payments/internal/api/stripewebhook"
	"booking-payments/internal/app/http/middleware"
	"booking-payments/internal/domain/users"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Billing *billing.Handler
	Admin   *adminapi.Handler
	Doctor  *doctorapi.Handler
	Cron    *cronapi.Handler
	Webhook *stripewebhooks.Handler
}

type Options struct {
	Verifier       middleware.Verifier
	CronSecret     string
	CronSecretHash string
}

func RegisterRoutes(r *gin.Engine, h Handlers, opts Options) {
	// Signature checks need the raw body, so the webhook skips sanitizing.
	r.POST("/webhook", h.Webhook.StripeWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cron := r.Group("/cron")
	cron.Use(middleware.RequireCronSecret(opts.CronSecret, opts.CronSecretHash))
	cron.POST("/payouts", h.Cron.ProcessPayouts)

	// Authenticated
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(opts.Verifier), middleware.SanitizeAndCleanInputMiddleware())
	auth.POST("/payments/intent", h.Billing.CreateIntent)
	auth.POST("/payments/confirm", h.Billing.Confirm)
	auth.GET("/payments/appointment/:appointmentId", h.Billing.GetByAppointment)
	auth.POST("/payments/appointment/:appointmentId/refund", h.Billing.Refund)

	// Doctors
	doctor := r.Group("/doctor")
	doctor.Use(middleware.AuthMiddleware(opts.Verifier), middleware.RequireRole(users.RoleDoctor))
	doctor.POST("/payment-account", h.Doctor.SetupAccount)
	doctor.GET("/payment-account", h.Doctor.GetAccount)
	doctor.GET("/payouts", h.Doctor.ListPayouts)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(opts.Verifier), middleware.RequireRole(users.RoleAdmin), middleware.SanitizeAndCleanInputMiddleware())
	admin.GET("/commission", h.Admin.GetCommission)
	admin.PUT("/commission", h.Admin.UpdateCommission)
	admin.GET("/payments", h.Admin.ListPayments)
	admin.GET("/stats", h.Admin.Stats)
	admin.GET("/payouts/pending", h.Admin.PendingPayouts)
	admin.POST("/payouts/:paymentId", h.Admin.CreatePayout)
	admin.PUT("/payouts/:paymentId/schedule", h.Admin.OverrideSchedule)
}
