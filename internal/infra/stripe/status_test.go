package stripe

import (
	"errors"
	"fmt"
	"testing"

	"booking-payments/internal/domain/billing"

	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeIntentStatus(t *testing.T) {
	assert.Equal(t, "succeeded", NormalizeIntentStatus("succeeded"))
	assert.Equal(t, "failed", NormalizeIntentStatus("canceled"))
	assert.Equal(t, "pending", NormalizeIntentStatus("requires_payment_method"))
	assert.Equal(t, "pending", NormalizeIntentStatus(" processing "))
	assert.Equal(t, "unknown", NormalizeIntentStatus(""))
}

func TestLocalAccountStatus(t *testing.T) {
	assert.Equal(t, billing.AccountPending, LocalAccountStatus(nil))
	assert.Equal(t, billing.AccountPending, LocalAccountStatus(&Account{}))
	assert.Equal(t, billing.AccountActive, LocalAccountStatus(&Account{DetailsSubmitted: true, PayoutsEnabled: true}))
	assert.Equal(t, billing.AccountRestricted, LocalAccountStatus(&Account{DetailsSubmitted: true, RequirementsDue: true}))
}

func TestClassifyOnlyRejectsDefinitiveErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"invalid request", &stripego.Error{HTTPStatusCode: 400}, true},
		{"wrapped permission error", fmt.Errorf("transfer: %w", &stripego.Error{HTTPStatusCode: 403}), true},
		{"rate limited", &stripego.Error{HTTPStatusCode: 429}, false},
		{"idempotency in flight", &stripego.Error{HTTPStatusCode: 409}, false},
		{"server error", &stripego.Error{HTTPStatusCode: 500}, false},
		{"transport", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			assert.Equal(t, tc.rejected, errors.Is(got, ErrRejected))
			assert.ErrorIs(t, got, tc.err)
		})
	}
}
