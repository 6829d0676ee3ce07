package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"booking-payments/config"
	"booking-payments/database"
	"booking-payments/internal/app"
	routes "booking-payments/internal/app/http"
	"booking-payments/internal/app/http/middleware"
	"booking-payments/internal/infra/cache"
	"booking-payments/internal/infra/events"
	"booking-payments/internal/infra/mailer"
	"booking-payments/internal/infra/stripe"
	"booking-payments/internal/services/commission"
	"booking-payments/internal/services/payouts"
	"booking-payments/internal/telemetry"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadEnv()

	logger, err := telemetry.NewLogger(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}

	db, err := database.Open(cfg.DBURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}
	logger.Info("database connected and migrated")

	infra := app.Infra{
		DB:       db,
		Provider: stripe.NewClient(cfg.StripeSecretKey),
		Mailer:   mailer.LogSender{Log: logger},
		Events:   events.NopPublisher{},
		Log:      logger,
	}

	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, running without cache and sweep lock", zap.Error(err))
		} else {
			defer rdb.Close()
			infra.Cache = cache.NewStore(rdb)
			infra.Locker = cache.NewLocker(rdb)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		infra.Events = publisher
	}

	if cfg.SMTPHost != "" {
		infra.Mailer = mailer.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	var verifier middleware.Verifier = middleware.HMACVerifier{Secret: []byte(cfg.JWTSecret)}
	if cfg.OIDCIssuer != "" {
		oidcVerifier, err := middleware.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			logger.Fatal("oidc verifier init failed", zap.Error(err))
		}
		verifier = oidcVerifier
	}

	container := app.New(infra, app.Settings{
		Currency:      cfg.Currency,
		AppURL:        cfg.AppURL,
		WebhookSecret: cfg.StripeWebhookSecret,
		Commission: commission.Config{
			Default:  cfg.CommissionDefault,
			Min:      cfg.CommissionMin,
			Max:      cfg.CommissionMax,
			CacheTTL: cfg.CommissionCacheTTL,
		},
		Payouts: payouts.Config{
			Hold:      cfg.PayoutHold,
			BatchSize: cfg.PayoutBatchSize,
			LockTTL:   cfg.PayoutLockTTL,
		},
	})

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), telemetry.RequestMiddleware(logger))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, container.Handlers, routes.Options{
		Verifier:       verifier,
		CronSecret:     cfg.CronSecret,
		CronSecretHash: cfg.CronSecretHash,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", zap.Error(err))
	}
	if err := database.Close(db); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}
