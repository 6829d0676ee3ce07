package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PayoutStatus string

const (
	PayoutProcessing  PayoutStatus = "PROCESSING"
	PayoutTransferred PayoutStatus = "TRANSFERRED"
	PayoutFailed      PayoutStatus = "FAILED"
	// PayoutRejected waits for an admin: the provider refused the transfer.
	PayoutRejected PayoutStatus = "REJECTED"
)

// DoctorPayout is the transfer stage of a Payment. The unique payment_id is
// the claim that keeps a transfer from being started twice.
type DoctorPayout struct {
	ID                string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	PaymentID         string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_doctor_payouts_payment_id" json:"payment_id"`
	DoctorID          string          `gorm:"type:varchar(64);not null;index" json:"doctor_id"`
	ExternalAccountID string          `gorm:"type:varchar(255);not null" json:"external_account_id"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(3);not null" json:"currency"`
	ScheduledAt       *time.Time      `json:"scheduled_at,omitempty"`

	Status         PayoutStatus        `gorm:"type:varchar(32);not null;index" json:"status"`
	TransferID     *string             `gorm:"type:varchar(255);uniqueIndex:idx_doctor_payouts_transfer_id" json:"transfer_id,omitempty"`
	Confirmed      bool                `gorm:"not null" json:"confirmed"`
	Reversed       bool                `gorm:"not null" json:"reversed"`
	ReversedAmount decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"reversed_amount"`
	Attempts       int                 `gorm:"not null" json:"attempts"`
	Rejections     int                 `gorm:"not null;default:0" json:"rejections"`
	FailureReason  string              `gorm:"type:text" json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *DoctorPayout) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// TransferKey is the provider idempotency key of the next transfer attempt.
// It only changes after the provider definitively rejected the previous
// one, so a retry after a lost response reuses the same key.
func (p *DoctorPayout) TransferKey() string {
	if p.Rejections == 0 {
		return "payout_" + p.PaymentID
	}
	return fmt.Sprintf("payout_%s_r%d", p.PaymentID, p.Rejections)
}
