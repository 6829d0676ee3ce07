package commission

import (
	"context"
	"fmt"
	"time"

	"booking-payments/internal/domain/billing"
	"booking-payments/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cacheKey = "commission:current"

// Cache is the shared read-through cache for the settings row.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Config struct {
	Default  decimal.Decimal
	Min      decimal.Decimal
	Max      decimal.Decimal
	CacheTTL time.Duration
}

type Service struct {
	store *repository.SettingsRepository
	cache Cache
	cfg   Config
	log   *zap.Logger
}

// NewService accepts a nil cache; every read then goes to the database.
func NewService(store *repository.SettingsRepository, cache Cache, cfg Config, log *zap.Logger) *Service {
	return &Service{store: store, cache: cache, cfg: cfg, log: log}
}

func (s *Service) Current(ctx context.Context) (decimal.Decimal, error) {
	setting, err := s.Setting(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return setting.CommissionPercentage, nil
}

// Setting reads the current row. Concurrent bookings may see the previous
// percentage for up to CacheTTL after an update on another instance.
func (s *Service) Setting(ctx context.Context) (*billing.CommissionSetting, error) {
	if s.cache != nil {
		var cached billing.CommissionSetting
		found, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			s.log.Warn("commission.Setting cache read failed", zap.Error(err))
		} else if found {
			return &cached, nil
		}
	}

	setting, err := s.store.Commission(ctx, s.cfg.Default)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, setting, s.cfg.CacheTTL); err != nil {
			s.log.Warn("commission.Setting cache write failed", zap.Error(err))
		}
	}
	return setting, nil
}

func (s *Service) Update(ctx context.Context, pct decimal.Decimal) (*billing.CommissionSetting, error) {
	if pct.LessThan(s.cfg.Min) || pct.GreaterThan(s.cfg.Max) {
		return nil, &billing.ValidationError{
			Field:   "commissionPercentage",
			Message: fmt.Sprintf("must be between %s and %s", s.cfg.Min, s.cfg.Max),
		}
	}
	if pct.Exponent() < -billing.MinorUnitExponent {
		return nil, &billing.ValidationError{Field: "commissionPercentage", Message: "at most two decimal places"}
	}

	setting, err := s.store.UpdateCommission(ctx, pct)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			s.log.Warn("commission.Update cache invalidation failed", zap.Error(err))
		}
	}
	s.log.Info("commission.Update percentage changed", zap.String("percentage", pct.String()))
	return setting, nil
}
