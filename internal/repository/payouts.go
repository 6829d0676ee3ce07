package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-payments/internal/domain/billing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PayoutRepository struct {
	db       *gorm.DB
	payments *PaymentRepository
}

func NewPayoutRepository(db *gorm.DB, payments *PaymentRepository) *PayoutRepository {
	return &PayoutRepository{db: db, payments: payments}
}

func (r *PayoutRepository) FindByPaymentID(ctx context.Context, paymentID string) (*billing.DoctorPayout, error) {
	return r.findOne(ctx, "payment_id = ?", paymentID)
}

func (r *PayoutRepository) FindByTransferID(ctx context.Context, transferID string) (*billing.DoctorPayout, error) {
	return r.findOne(ctx, "transfer_id = ?", transferID)
}

func (r *PayoutRepository) findOne(ctx context.Context, query string, arg any) (*billing.DoctorPayout, error) {
	var p billing.DoctorPayout
	if err := r.db.WithContext(ctx).Where(query, arg).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payout %v: %w", arg, billing.ErrNotFound)
		}
		return nil, fmt.Errorf("load payout %v: %w", arg, err)
	}
	return &p, nil
}

// Claim reserves the payout of one payment for the caller. A new row is
// inserted, or a row that never got a transfer is taken over again: a FAILED
// one, or a PROCESSING one left untouched since staleBefore by a sweep that
// died. It reports false when another attempt holds the claim.
func (r *PayoutRepository) Claim(ctx context.Context, p *billing.DoctorPayout, staleBefore time.Time) (bool, error) {
	p.Status = billing.PayoutProcessing
	p.Attempts = 1

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(p)
	if res.Error != nil {
		return false, fmt.Errorf("claim payout for %s: %w", p.PaymentID, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = r.db.WithContext(ctx).Model(&billing.DoctorPayout{}).
		Where("payment_id = ? AND transfer_id IS NULL", p.PaymentID).
		Where("status = ? OR (status = ? AND updated_at < ?)", billing.PayoutFailed, billing.PayoutProcessing, staleBefore).
		Updates(map[string]any{
			"status":              billing.PayoutProcessing,
			"external_account_id": p.ExternalAccountID,
			"amount":              p.Amount,
			"scheduled_at":        p.ScheduledAt,
			"failure_reason":      "",
			"attempts":            gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("reclaim payout for %s: %w", p.PaymentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	stored, err := r.FindByPaymentID(ctx, p.PaymentID)
	if err != nil {
		return false, err
	}
	*p = *stored
	return true, nil
}

func (r *PayoutRepository) MarkFailed(ctx context.Context, payoutID, reason string) error {
	err := r.db.WithContext(ctx).Model(&billing.DoctorPayout{}).
		Where("id = ? AND status = ?", payoutID, billing.PayoutProcessing).
		Updates(map[string]any{
			"status":         billing.PayoutFailed,
			"failure_reason": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("mark payout %s failed: %w", payoutID, err)
	}
	return nil
}

// MarkRejected parks a payout the provider refused. Only an admin reopens it.
func (r *PayoutRepository) MarkRejected(ctx context.Context, payoutID, reason string) error {
	err := r.db.WithContext(ctx).Model(&billing.DoctorPayout{}).
		Where("id = ? AND status = ?", payoutID, billing.PayoutProcessing).
		Updates(map[string]any{
			"status":         billing.PayoutRejected,
			"failure_reason": reason,
			"rejections":     gorm.Expr("rejections + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("mark payout %s rejected: %w", payoutID, err)
	}
	return nil
}

// Reopen turns a REJECTED payout back into a FAILED one the next claim may
// retry. It reports whether a row was reopened.
func (r *PayoutRepository) Reopen(ctx context.Context, paymentID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&billing.DoctorPayout{}).
		Where("payment_id = ? AND status = ? AND transfer_id IS NULL", paymentID, billing.PayoutRejected).
		Update("status", billing.PayoutFailed)
	if res.Error != nil {
		return false, fmt.Errorf("reopen payout for %s: %w", paymentID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteTransfer records the transfer and flips doctorPaid in one
// transaction. It reports whether doctorPaid changed.
func (r *PayoutRepository) CompleteTransfer(ctx context.Context, payoutID, paymentID, transferID string) (bool, error) {
	var marked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&billing.DoctorPayout{}).
			Where("id = ?", payoutID).
			Updates(map[string]any{
				"status":         billing.PayoutTransferred,
				"transfer_id":    transferID,
				"failure_reason": "",
			}).Error; err != nil {
			return err
		}
		ok, err := r.payments.MarkDoctorPaid(tx, paymentID)
		marked = ok
		return err
	})
	if err != nil {
		return false, fmt.Errorf("complete payout %s: %w", payoutID, err)
	}
	return marked, nil
}

// Confirm sets confirmed on the payout carrying transferID. When the local
// transfer id has not been written yet, the row is matched by paymentID.
func (r *PayoutRepository) Confirm(ctx context.Context, transferID, paymentID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&billing.DoctorPayout{}).
		Where("transfer_id = ? AND confirmed = ?", transferID, false).
		Update("confirmed", true)
	if res.Error != nil {
		return false, fmt.Errorf("confirm transfer %s: %w", transferID, res.Error)
	}
	if res.RowsAffected == 1 || paymentID == "" {
		return res.RowsAffected == 1, nil
	}

	res = r.db.WithContext(ctx).Model(&billing.DoctorPayout{}).
		Where("payment_id = ? AND transfer_id IS NULL AND confirmed = ?", paymentID, false).
		Updates(map[string]any{
			"transfer_id": transferID,
			"confirmed":   true,
		})
	if res.Error != nil {
		return false, fmt.Errorf("attach transfer %s to payment %s: %w", transferID, paymentID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Reverse flags the payout as clawed back. Repeated events only raise the
// recorded amount.
func (r *PayoutRepository) Reverse(ctx context.Context, transferID string, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).Model(&billing.DoctorPayout{}).
		Where("transfer_id = ? AND (reversed = ? OR reversed_amount IS NULL OR reversed_amount < ?)", transferID, false, amount).
		Updates(map[string]any{
			"reversed":        true,
			"reversed_amount": decimal.NewNullDecimal(amount),
		})
	if res.Error != nil {
		return false, fmt.Errorf("reverse transfer %s: %w", transferID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PayoutRepository) ListByDoctor(ctx context.Context, doctorID string, limit int) ([]billing.DoctorPayout, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []billing.DoctorPayout
	err := r.db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list payouts for doctor %s: %w", doctorID, err)
	}
	return out, nil
}
