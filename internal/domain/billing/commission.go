package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionSettingID is the well-known primary key of the single settings row.
const CommissionSettingID uint = 1

type CommissionSetting struct {
	ID                   uint            `gorm:"primaryKey" json:"-"`
	CommissionPercentage decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"commission_percentage"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type CommissionSplit struct {
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	PayoutAmount     decimal.Decimal `json:"payout_amount"`
}

var hundred = decimal.NewFromInt(100)

// CalculateCommission truncates the platform cut to the currency's minor unit
// and gives the doctor the exact remainder, so the two always sum to price.
func CalculateCommission(price, percentage decimal.Decimal) (CommissionSplit, error) {
	if price.IsNegative() {
		return CommissionSplit{}, &ValidationError{Field: "appointmentPrice", Message: "must not be negative"}
	}
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return CommissionSplit{}, &ValidationError{Field: "commissionPercentage", Message: "must be between 0 and 100"}
	}

	commission := price.Mul(percentage).Div(hundred).Truncate(MinorUnitExponent)
	return CommissionSplit{
		CommissionAmount: commission,
		PayoutAmount:     price.Sub(commission),
	}, nil
}

// ProRata returns amount * part / whole truncated to the minor unit.
func ProRata(amount, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	if part.GreaterThanOrEqual(whole) {
		return amount
	}
	return amount.Mul(part).Div(whole).Truncate(MinorUnitExponent)
}

// MinorUnitExponent is the number of decimals of the supported currencies.
const MinorUnitExponent = 2

func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(MinorUnitExponent).Truncate(0).IntPart()
}

func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -MinorUnitExponent)
}
