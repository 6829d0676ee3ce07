package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-payments/internal/domain/billing"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByDoctorID(ctx context.Context, doctorID string) (*billing.DoctorPaymentAccount, error) {
	return r.findOne(ctx, "doctor_id = ?", doctorID)
}

func (r *AccountRepository) FindByExternalID(ctx context.Context, externalID string) (*billing.DoctorPaymentAccount, error) {
	return r.findOne(ctx, "external_account_id = ?", externalID)
}

func (r *AccountRepository) findOne(ctx context.Context, query string, arg any) (*billing.DoctorPaymentAccount, error) {
	var a billing.DoctorPaymentAccount
	if err := r.db.WithContext(ctx).Where(query, arg).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment account %v: %w", arg, billing.ErrNotFound)
		}
		return nil, fmt.Errorf("load payment account %v: %w", arg, err)
	}
	return &a, nil
}

// Create inserts the doctor's account. When a concurrent request won the
// insert, a is reloaded with the stored row and false is returned.
func (r *AccountRepository) Create(ctx context.Context, a *billing.DoctorPaymentAccount) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "doctor_id"}}, DoNothing: true}).
		Create(a)
	if res.Error != nil {
		return false, fmt.Errorf("create payment account for %s: %w", a.DoctorID, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	stored, err := r.FindByDoctorID(ctx, a.DoctorID)
	if err != nil {
		return false, err
	}
	*a = *stored
	return false, nil
}

func (r *AccountRepository) SaveOnboardingLink(ctx context.Context, id, url string, expiresAt time.Time) error {
	err := r.db.WithContext(ctx).Model(&billing.DoctorPaymentAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"onboarding_url":        url,
			"onboarding_expires_at": expiresAt,
		}).Error
	if err != nil {
		return fmt.Errorf("save onboarding link for %s: %w", id, err)
	}
	return nil
}

type AccountCapabilities struct {
	Status           billing.AccountStatus
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
}

// UpdateCapabilities reports false when the external account is unknown.
func (r *AccountRepository) UpdateCapabilities(ctx context.Context, externalID string, c AccountCapabilities) (bool, error) {
	res := r.db.WithContext(ctx).Model(&billing.DoctorPaymentAccount{}).
		Where("external_account_id = ?", externalID).
		Updates(map[string]any{
			"status":            c.Status,
			"details_submitted": c.DetailsSubmitted,
			"charges_enabled":   c.ChargesEnabled,
			"payouts_enabled":   c.PayoutsEnabled,
		})
	if res.Error != nil {
		return false, fmt.Errorf("update payment account %s: %w", externalID, res.Error)
	}
	return res.RowsAffected == 1, nil
}
