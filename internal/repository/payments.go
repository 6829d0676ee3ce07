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

var (
	settledStatuses = []billing.PaymentStatus{billing.PaymentCompleted, billing.PaymentPartiallyRefunded, billing.PaymentRefunded}
	payableStatuses = []billing.PaymentStatus{billing.PaymentCompleted, billing.PaymentPartiallyRefunded}
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*billing.Payment, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *PaymentRepository) FindByIntentID(ctx context.Context, intentID string) (*billing.Payment, error) {
	return r.findOne(ctx, "payment_intent_id = ?", intentID)
}

// FindByAppointmentID returns the live payment of an appointment, or its
// latest failed attempt when there is no live one.
func (r *PaymentRepository) FindByAppointmentID(ctx context.Context, appointmentID string) (*billing.Payment, error) {
	return r.findOne(ctx, "appointment_id = ?", appointmentID)
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, arg any) (*billing.Payment, error) {
	var p billing.Payment
	err := r.db.WithContext(ctx).
		Where(query, arg).
		Order("CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END, created_at DESC").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %v: %w", arg, billing.ErrNotFound)
		}
		return nil, fmt.Errorf("load payment %v: %w", arg, err)
	}
	return &p, nil
}

// liveAppointment is the arbiter of the partial unique index on
// appointment_id. It must repeat the index predicate literally.
var liveAppointment = clause.OnConflict{
	Columns:     []clause.Column{{Name: "appointment_id"}},
	TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status <> 'FAILED'"}}},
	DoNothing:   true,
}

// UpsertPending stores p as the PENDING payment of its appointment. Failed
// attempts are left untouched and a new row is inserted next to them. A
// live row is overwritten only while it is still PENDING.
func (r *PaymentRepository) UpsertPending(ctx context.Context, p *billing.Payment) error {
	p.Status = billing.PaymentPending
	p.PatientPaid = false

	res := r.db.WithContext(ctx).Clauses(liveAppointment).Create(p)
	if res.Error != nil {
		return fmt.Errorf("insert payment for appointment %s: %w", p.AppointmentID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	res = r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("appointment_id = ? AND status = ? AND patient_paid = ?", p.AppointmentID, billing.PaymentPending, false).
		Updates(map[string]any{
			"patient_id":            p.PatientID,
			"doctor_id":             p.DoctorID,
			"payment_intent_id":     p.PaymentIntentID,
			"appointment_price":     p.AppointmentPrice,
			"commission_percentage": p.CommissionPercentage,
			"commission_amount":     p.CommissionAmount,
			"doctor_payout_amount":  p.DoctorPayoutAmount,
			"currency":              p.Currency,
			"status":                billing.PaymentPending,
			"version":               gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("refresh pending payment for appointment %s: %w", p.AppointmentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("appointment %s: %w", p.AppointmentID, billing.ErrAlreadyPaid)
	}

	stored, err := r.FindByAppointmentID(ctx, p.AppointmentID)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

// TransitionToCompleted moves a PENDING payment only and reports true for
// the call that moved it.
func (r *PaymentRepository) TransitionToCompleted(ctx context.Context, intentID, chargeID string, paidAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":       billing.PaymentCompleted,
		"patient_paid": true,
		"paid_at":      paidAt,
		"version":      gorm.Expr("version + 1"),
	}
	if chargeID != "" {
		updates["charge_id"] = chargeID
	}

	res := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("payment_intent_id = ? AND status = ?", intentID, billing.PaymentPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("complete payment %s: %w", intentID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) TransitionToFailed(ctx context.Context, intentID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("payment_intent_id = ? AND status = ?", intentID, billing.PaymentPending).
		Updates(map[string]any{
			"status":         billing.PaymentFailed,
			"failure_reason": reason,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("fail payment %s: %w", intentID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ApplyRefund writes refund totals if p is still the version that was read.
func (r *PaymentRepository) ApplyRefund(ctx context.Context, p *billing.Payment, refundAmount, refundedCommission decimal.Decimal, status billing.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]any{
			"status":              status,
			"refunded":            true,
			"refund_amount":       decimal.NewNullDecimal(refundAmount),
			"refunded_commission": refundedCommission,
			"version":             gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("apply refund to payment %s: %w", p.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SchedulePayout sets the hold time, moving it only later, never earlier.
func (r *PaymentRepository) SchedulePayout(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("id = ? AND (payout_scheduled_at IS NULL OR payout_scheduled_at < ?)", paymentID, at).
		Update("payout_scheduled_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("schedule payout for %s: %w", paymentID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) OverridePayoutSchedule(ctx context.Context, paymentID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("id = ? AND doctor_paid = ?", paymentID, false).
		Update("payout_scheduled_at", at)
	if res.Error != nil {
		return fmt.Errorf("override payout schedule for %s: %w", paymentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("payment %s already paid out: %w", paymentID, billing.ErrConflict)
	}
	return nil
}

// MarkDoctorPaid runs inside the caller's transaction.
func (r *PaymentRepository) MarkDoctorPaid(tx *gorm.DB, paymentID string) (bool, error) {
	res := tx.Model(&billing.Payment{}).
		Where("id = ? AND doctor_paid = ?", paymentID, false).
		Updates(map[string]any{
			"doctor_paid": true,
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark doctor paid for %s: %w", paymentID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) ListDuePayouts(ctx context.Context, now time.Time, limit int) ([]billing.Payment, error) {
	var out []billing.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND patient_paid = ? AND doctor_paid = ?", payableStatuses, true, false).
		Where("payout_scheduled_at IS NOT NULL AND payout_scheduled_at <= ?", now).
		Order("payout_scheduled_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list due payouts: %w", err)
	}
	return out, nil
}

// ListUnscheduled returns paid payments whose payout hold was never written.
func (r *PaymentRepository) ListUnscheduled(ctx context.Context, limit int) ([]billing.Payment, error) {
	var out []billing.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND patient_paid = ? AND doctor_paid = ? AND payout_scheduled_at IS NULL", payableStatuses, true, false).
		Order("paid_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list unscheduled payouts: %w", err)
	}
	return out, nil
}

type PaymentFilter struct {
	Status    billing.PaymentStatus
	DoctorID  string
	PatientID string
	Limit     int
	Offset    int
}

func (r *PaymentRepository) List(ctx context.Context, f PaymentFilter) ([]billing.Payment, error) {
	q := r.db.WithContext(ctx).Model(&billing.Payment{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.DoctorID != "" {
		q = q.Where("doctor_id = ?", f.DoctorID)
	}
	if f.PatientID != "" {
		q = q.Where("patient_id = ?", f.PatientID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []billing.Payment
	if err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}

type RevenueTotals struct {
	SettledPayments    int64           `json:"settled_payments"`
	Gross              decimal.Decimal `json:"gross"`
	Commission         decimal.Decimal `json:"commission"`
	Refunded           decimal.Decimal `json:"refunded"`
	RefundedCommission decimal.Decimal `json:"refunded_commission"`
	NetRevenue         decimal.Decimal `json:"net_revenue"`
	PaidOut            decimal.Decimal `json:"paid_out"`
	PendingPayouts     int64           `json:"pending_payouts"`
	UnscheduledPayouts int64           `json:"unscheduled_payouts"`
}

func (r *PaymentRepository) RevenueTotals(ctx context.Context) (*RevenueTotals, error) {
	var row struct {
		Count              int64
		Gross              decimal.Decimal
		Commission         decimal.Decimal
		Refunded           decimal.Decimal
		RefundedCommission decimal.Decimal
	}
	err := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Select(`COUNT(*) AS count,
			COALESCE(SUM(appointment_price), 0) AS gross,
			COALESCE(SUM(commission_amount), 0) AS commission,
			COALESCE(SUM(refund_amount), 0) AS refunded,
			COALESCE(SUM(refunded_commission), 0) AS refunded_commission`).
		Where("status IN ?", settledStatuses).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("sum revenue: %w", err)
	}

	var paidOut decimal.Decimal
	if err := r.db.WithContext(ctx).Model(&billing.DoctorPayout{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ? AND reversed = ?", billing.PayoutTransferred, false).
		Scan(&paidOut).Error; err != nil {
		return nil, fmt.Errorf("sum payouts: %w", err)
	}

	var pending int64
	if err := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("status IN ? AND doctor_paid = ?", payableStatuses, false).
		Count(&pending).Error; err != nil {
		return nil, fmt.Errorf("count pending payouts: %w", err)
	}

	var unscheduled int64
	if err := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("status IN ? AND doctor_paid = ? AND payout_scheduled_at IS NULL", payableStatuses, false).
		Count(&unscheduled).Error; err != nil {
		return nil, fmt.Errorf("count unscheduled payouts: %w", err)
	}

	return &RevenueTotals{
		SettledPayments:    row.Count,
		Gross:              row.Gross,
		Commission:         row.Commission,
		Refunded:           row.Refunded,
		RefundedCommission: row.RefundedCommission,
		NetRevenue:         row.Commission.Sub(row.RefundedCommission),
		PaidOut:            paidOut,
		PendingPayouts:     pending,
		UnscheduledPayouts: unscheduled,
	}, nil
}
