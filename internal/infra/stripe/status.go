package stripe

import (
	"strings"

	"booking-payments/internal/domain/billing"
)

const (
	IntentSucceeded  = "succeeded"
	IntentProcessing = "processing"
	IntentCanceled   = "canceled"
)

// NormalizeIntentStatus folds the provider's intent statuses into the three
// outcomes the payment flow cares about: succeeded, pending or failed.
func NormalizeIntentStatus(s string) string {
	switch strings.TrimSpace(s) {
	case IntentSucceeded:
		return "succeeded"
	case IntentCanceled:
		return "failed"
	case "":
		return "unknown"
	default:
		return "pending"
	}
}

// LocalAccountStatus maps provider capability flags onto the account status
// stored for the doctor.
func LocalAccountStatus(a *Account) billing.AccountStatus {
	if a == nil {
		return billing.AccountPending
	}
	return billing.AccountStatusFrom(a.DetailsSubmitted, a.PayoutsEnabled, a.RequirementsDue)
}
