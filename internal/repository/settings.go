package repository

import (
	"context"
	"fmt"

	"booking-payments/internal/domain/billing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Commission returns the singleton row, creating it with def on first access.
func (r *SettingsRepository) Commission(ctx context.Context, def decimal.Decimal) (*billing.CommissionSetting, error) {
	seed := billing.CommissionSetting{ID: billing.CommissionSettingID, CommissionPercentage: def}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("seed commission setting: %w", err)
	}

	var s billing.CommissionSetting
	if err := r.db.WithContext(ctx).First(&s, billing.CommissionSettingID).Error; err != nil {
		return nil, fmt.Errorf("load commission setting: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepository) UpdateCommission(ctx context.Context, pct decimal.Decimal) (*billing.CommissionSetting, error) {
	s := billing.CommissionSetting{ID: billing.CommissionSettingID, CommissionPercentage: pct}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"commission_percentage", "updated_at"}),
		}).
		Create(&s).Error; err != nil {
		return nil, fmt.Errorf("update commission setting: %w", err)
	}
	return &s, nil
}
