package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentCompleted         PaymentStatus = "COMPLETED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Payment mirrors one provider charge for one appointment. Rows are never
// deleted; every state change is an update. An appointment has at most one
// payment that is not FAILED; failed attempts stay behind as history.
type Payment struct {
	ID            string `gorm:"type:varchar(36);primaryKey" json:"id"`
	AppointmentID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_payments_appointment_live,where:status <> 'FAILED'" json:"appointment_id"`
	PatientID     string `gorm:"type:varchar(64);not null;index" json:"patient_id"`
	DoctorID      string `gorm:"type:varchar(64);not null;index" json:"doctor_id"`

	AppointmentPrice     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"appointment_price"`
	CommissionPercentage decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"commission_percentage"`
	CommissionAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"commission_amount"`
	DoctorPayoutAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"doctor_payout_amount"`
	Currency             string          `gorm:"type:varchar(3);not null" json:"currency"`

	Status          PaymentStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	PaymentIntentID *string       `gorm:"type:varchar(255);uniqueIndex:idx_payments_payment_intent_id" json:"payment_intent_id,omitempty"`
	ChargeID        *string       `gorm:"type:varchar(255)" json:"charge_id,omitempty"`
	FailureReason   string        `gorm:"type:text" json:"failure_reason,omitempty"`

	PatientPaid        bool                `gorm:"not null" json:"patient_paid"`
	DoctorPaid         bool                `gorm:"not null;index" json:"doctor_paid"`
	Refunded           bool                `gorm:"not null" json:"refunded"`
	RefundAmount       decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"refund_amount"`
	RefundedCommission decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"refunded_commission"`

	PayoutScheduledAt *time.Time `gorm:"index" json:"payout_scheduled_at,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`

	// Version guards read-modify-write updates (refund reconciliation).
	Version int64 `gorm:"not null" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return nil
}

// transitions lists every status change a provider event may cause.
// FAILED and REFUNDED are terminal.
var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentCompleted, PaymentFailed},
	PaymentCompleted:         {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentPartiallyRefunded: {PaymentPartiallyRefunded, PaymentRefunded},
}

func CanTransition(from, to PaymentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsSettled reports whether the patient's money was captured at some point.
func (s PaymentStatus) IsSettled() bool {
	switch s {
	case PaymentCompleted, PaymentPartiallyRefunded, PaymentRefunded:
		return true
	}
	return false
}

func (p *Payment) IntentID() string {
	if p.PaymentIntentID == nil {
		return ""
	}
	return *p.PaymentIntentID
}

func (p *Payment) RefundedSoFar() decimal.Decimal {
	if !p.RefundAmount.Valid {
		return decimal.Zero
	}
	return p.RefundAmount.Decimal
}

// RemainingRefundable is what a further refund may still return to the patient.
func (p *Payment) RemainingRefundable() decimal.Decimal {
	left := p.AppointmentPrice.Sub(p.RefundedSoFar())
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// NetDoctorPayout is the doctor's share after refunds. Refunds are split
// between platform and doctor in the same proportion as the original price.
func (p *Payment) NetDoctorPayout() decimal.Decimal {
	doctorShareRefunded := p.RefundedSoFar().Sub(p.RefundedCommission)
	net := p.DoctorPayoutAmount.Sub(doctorShareRefunded)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}
