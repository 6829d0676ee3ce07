package billing

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrAlreadyPaid         = errors.New("appointment already paid")
	ErrConflict            = errors.New("state conflict")
	ErrPaymentNotSucceeded = errors.New("payment has not succeeded at the provider")
	ErrAccountNotReady     = errors.New("doctor payment account not ready")
	ErrPayoutInProgress    = errors.New("payout already in progress")
	ErrProvider            = errors.New("payment provider error")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
