package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferKeyOnlyChangesAfterRejection(t *testing.T) {
	p := DoctorPayout{PaymentID: "pay_1", Attempts: 1}
	assert.Equal(t, "payout_pay_1", p.TransferKey())

	p.Attempts = 4
	assert.Equal(t, "payout_pay_1", p.TransferKey(), "ambiguous retries reuse the key")

	p.Rejections = 2
	assert.Equal(t, "payout_pay_1_r2", p.TransferKey())
}
