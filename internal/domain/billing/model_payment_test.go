package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentPending, PaymentCompleted, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentFailed, PaymentCompleted, false},
		{PaymentFailed, PaymentPending, false},
		{PaymentCompleted, PaymentRefunded, true},
		{PaymentCompleted, PaymentPartiallyRefunded, true},
		{PaymentPartiallyRefunded, PaymentRefunded, true},
		{PaymentCompleted, PaymentFailed, false},
		{PaymentCompleted, PaymentPending, false},
		{PaymentRefunded, PaymentCompleted, false},
		{PaymentRefunded, PaymentPartiallyRefunded, false},
		{PaymentFailed, PaymentRefunded, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNetDoctorPayout(t *testing.T) {
	p := Payment{
		AppointmentPrice:   decimal.RequireFromString("100.00"),
		CommissionAmount:   decimal.RequireFromString("3.00"),
		DoctorPayoutAmount: decimal.RequireFromString("97.00"),
	}
	assert.Equal(t, "97.00", p.NetDoctorPayout().StringFixed(2))
	assert.Equal(t, "100.00", p.RemainingRefundable().StringFixed(2))

	p.RefundAmount = decimal.NewNullDecimal(decimal.RequireFromString("50.00"))
	p.RefundedCommission = ProRata(p.CommissionAmount, p.RefundedSoFar(), p.AppointmentPrice)
	assert.Equal(t, "1.50", p.RefundedCommission.StringFixed(2))
	assert.Equal(t, "48.50", p.NetDoctorPayout().StringFixed(2))
	assert.Equal(t, "50.00", p.RemainingRefundable().StringFixed(2))

	p.RefundAmount = decimal.NewNullDecimal(p.AppointmentPrice)
	p.RefundedCommission = p.CommissionAmount
	assert.True(t, p.NetDoctorPayout().IsZero())
	assert.True(t, p.RemainingRefundable().IsZero())
}

func TestStatusIsSettled(t *testing.T) {
	assert.False(t, PaymentPending.IsSettled())
	assert.False(t, PaymentFailed.IsSettled())
	assert.True(t, PaymentCompleted.IsSettled())
	assert.True(t, PaymentPartiallyRefunded.IsSettled())
	assert.True(t, PaymentRefunded.IsSettled())
}
