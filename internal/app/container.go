package app

import (
	adminapi "booking-payments/internal/api/admin"
	billingapi "booking-payments/internal/api/billing"
	cronapi "booking-payments/internal/api/cron"
	doctorapi "booking-payments/internal/api/doctor"
	stripewebhooks "booking-payments/internal/api/stripewebhook"
	routes "booking-payments/internal/app/http"
	"booking-payments/internal/infra/events"
	"booking-payments/internal/infra/mailer"
	"booking-payments/internal/repository"
	"booking-payments/internal/services/accounts"
	"booking-payments/internal/services/commission"
	"booking-payments/internal/services/payments"
	"booking-payments/internal/services/payouts"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Provider is everything the services need from the payment provider.
type Provider interface {
	payments.Provider
	payouts.Provider
	accounts.Provider
}

// Infra holds the connections built by main. Cache and Locker may be nil.
type Infra struct {
	DB       *gorm.DB
	Provider Provider
	Mailer   mailer.Sender
	Events   events.Publisher
	Cache    commission.Cache
	Locker   payouts.Locker
	Log      *zap.Logger
}

type Settings struct {
	Currency      string
	AppURL        string
	WebhookSecret string
	Commission    commission.Config
	Payouts       payouts.Config
}

type Container struct {
	Payments   *payments.Service
	Payouts    *payouts.Service
	Accounts   *accounts.Service
	Commission *commission.Service
	Handlers   routes.Handlers
}

func New(in Infra, s Settings) *Container {
	paymentRepo := repository.NewPaymentRepository(in.DB)
	payoutRepo := repository.NewPayoutRepository(in.DB, paymentRepo)
	accountRepo := repository.NewAccountRepository(in.DB)
	appointmentRepo := repository.NewAppointmentRepository(in.DB)
	userRepo := repository.NewUserRepository(in.DB)

	commissionSvc := commission.NewService(repository.NewSettingsRepository(in.DB), in.Cache, s.Commission, in.Log)

	payoutSvc := payouts.NewService(payouts.Deps{
		Payments:     paymentRepo,
		Payouts:      payoutRepo,
		Accounts:     accountRepo,
		Appointments: appointmentRepo,
		Users:        userRepo,
		Provider:     in.Provider,
		Mailer:       in.Mailer,
		Events:       in.Events,
		Locker:       in.Locker,
		Log:          in.Log,
	}, s.Payouts)

	paymentSvc := payments.NewService(payments.Deps{
		Payments:     paymentRepo,
		Appointments: appointmentRepo,
		Users:        userRepo,
		Provider:     in.Provider,
		Commission:   commissionSvc,
		Payouts:      payoutSvc,
		Mailer:       in.Mailer,
		Events:       in.Events,
		Currency:     s.Currency,
		Log:          in.Log,
	})

	accountSvc := accounts.NewService(accountRepo, userRepo, in.Provider, s.AppURL, in.Log)

	return &Container{
		Payments:   paymentSvc,
		Payouts:    payoutSvc,
		Accounts:   accountSvc,
		Commission: commissionSvc,
		Handlers: routes.Handlers{
			Billing: billingapi.NewHandler(paymentSvc, in.Log),
			Admin:   adminapi.NewHandler(commissionSvc, paymentSvc, payoutSvc, in.Log),
			Doctor:  doctorapi.NewHandler(accountSvc, payoutSvc, in.Log),
			Cron:    cronapi.NewHandler(payoutSvc, in.Log),
			Webhook: stripewebhooks.NewHandler(s.WebhookSecret, paymentSvc, payoutSvc, accountSvc,
				repository.NewWebhookEventRepository(in.DB), in.Log),
		},
	}
}
