package billing

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountStatus string

const (
	AccountPending    AccountStatus = "PENDING"
	AccountActive     AccountStatus = "ACTIVE"
	AccountRestricted AccountStatus = "RESTRICTED"
)

type DoctorPaymentAccount struct {
	ID                  string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	DoctorID            string        `gorm:"type:varchar(64);not null;uniqueIndex:idx_doctor_accounts_doctor_id" json:"doctor_id"`
	ExternalAccountID   string        `gorm:"type:varchar(255);not null;uniqueIndex:idx_doctor_accounts_external_id" json:"external_account_id"`
	Status              AccountStatus `gorm:"type:varchar(32);not null" json:"status"`
	OnboardingURL       *string       `gorm:"type:text" json:"onboarding_url,omitempty"`
	OnboardingExpiresAt *time.Time    `json:"onboarding_expires_at,omitempty"`
	DetailsSubmitted    bool          `gorm:"not null" json:"details_submitted"`
	ChargesEnabled      bool          `gorm:"not null" json:"charges_enabled"`
	PayoutsEnabled      bool          `gorm:"not null" json:"payouts_enabled"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

func (a *DoctorPaymentAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *DoctorPaymentAccount) ReadyForPayouts() bool {
	return a != nil && a.Status == AccountActive && a.PayoutsEnabled
}

func (a *DoctorPaymentAccount) OnboardingLinkValid(now time.Time) bool {
	return a.OnboardingURL != nil && a.OnboardingExpiresAt != nil && now.Before(*a.OnboardingExpiresAt)
}

// AccountStatusFrom derives the local status from the provider's capability flags.
func AccountStatusFrom(detailsSubmitted, payoutsEnabled, hasRequirementsDue bool) AccountStatus {
	switch {
	case detailsSubmitted && payoutsEnabled:
		return AccountActive
	case detailsSubmitted && hasRequirementsDue:
		return AccountRestricted
	default:
		return AccountPending
	}
}
