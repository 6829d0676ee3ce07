package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-payments/internal/domain/appointments"
	"booking-payments/internal/domain/billing"
	"booking-payments/internal/domain/users"
	"booking-payments/internal/infra/events"
	"booking-payments/internal/infra/mailer"
	"booking-payments/internal/infra/stripe"
	"booking-payments/internal/repository"
	"booking-payments/internal/telemetry"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Provider interface {
	CreatePaymentIntent(ctx context.Context, in stripe.CreateIntentParams) (*stripe.Intent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*stripe.Intent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*stripe.Intent, error)
	CreateRefund(ctx context.Context, in stripe.RefundParams) (*stripe.Refund, error)
}

type CommissionSource interface {
	Current(ctx context.Context) (decimal.Decimal, error)
}

type PayoutScheduler interface {
	HoldDoctorPayout(ctx context.Context, paymentID string, appointmentEnd time.Time) (time.Time, bool, error)
}

type Deps struct {
	Payments     *repository.PaymentRepository
	Appointments *repository.AppointmentRepository
	Users        *repository.UserRepository
	Provider     Provider
	Commission   CommissionSource
	Payouts      PayoutScheduler
	Mailer       mailer.Sender
	Events       events.Publisher
	Currency     string
	Log          *zap.Logger
	Now          func() time.Time
}

type Service struct {
	Deps
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Events == nil {
		d.Events = events.NopPublisher{}
	}
	if d.Currency == "" {
		d.Currency = "usd"
	}
	return &Service{Deps: d}
}

type CreateIntentInput struct {
	AppointmentID string
	// AppointmentPrice is optional; when given it must equal the booked price.
	AppointmentPrice *decimal.Decimal
	DoctorID         string
}

type IntentResult struct {
	ClientSecret    string           `json:"clientSecret"`
	PaymentIntentID string           `json:"paymentIntentId"`
	Payment         *billing.Payment `json:"payment"`
}

func (s *Service) CreatePaymentIntent(ctx context.Context, who users.Identity, in CreateIntentInput) (*IntentResult, error) {
	if in.AppointmentID == "" {
		return nil, &billing.ValidationError{Field: "appointmentId", Message: "is required"}
	}

	appt, err := s.Appointments.FindByID(ctx, in.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !who.IsAdmin() && appt.PatientID != who.UserID {
		return nil, fmt.Errorf("appointment %s: %w", appt.ID, billing.ErrForbidden)
	}
	if in.DoctorID != "" && in.DoctorID != appt.DoctorID {
		return nil, &billing.ValidationError{Field: "doctorId", Message: "does not match the appointment"}
	}
	if appt.Status == appointments.StatusCancelled {
		return nil, &billing.ValidationError{Field: "appointmentId", Message: "appointment is cancelled"}
	}
	if in.AppointmentPrice != nil && !in.AppointmentPrice.Equal(appt.Price) {
		return nil, &billing.ValidationError{Field: "appointmentPrice", Message: "does not match the appointment price"}
	}
	if !appt.Price.IsPositive() {
		return nil, &billing.ValidationError{Field: "appointmentPrice", Message: "must be greater than zero"}
	}

	existing, err := s.Payments.FindByAppointmentID(ctx, appt.ID)
	switch {
	case errors.Is(err, billing.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, err
	case existing.PatientPaid || existing.Status.IsSettled():
		return nil, fmt.Errorf("appointment %s: %w", appt.ID, billing.ErrAlreadyPaid)
	}

	if reused := s.reusableIntent(ctx, existing, appt.Price); reused != nil {
		telemetry.IdempotentReplays.WithLabelValues("create_intent").Inc()
		return &IntentResult{ClientSecret: reused.ClientSecret, PaymentIntentID: reused.ID, Payment: existing}, nil
	}
	if existing != nil {
		if err := s.retireIntent(ctx, existing); err != nil {
			return nil, err
		}
	}

	pct, err := s.Commission.Current(ctx)
	if err != nil {
		return nil, err
	}
	split, err := billing.CalculateCommission(appt.Price, pct)
	if err != nil {
		return nil, err
	}

	priceMinor := billing.ToMinorUnits(appt.Price)
	key := fmt.Sprintf("intent_%s_%d_%d", appt.ID, priceMinor, billing.ToMinorUnits(split.CommissionAmount))
	if existing != nil {
		key += "_" + supersededRef(existing)
	}
	intent, err := s.Provider.CreatePaymentIntent(ctx, stripe.CreateIntentParams{
		AmountMinor:   priceMinor,
		Currency:      s.Currency,
		Description:   "Appointment " + appt.ID,
		TransferGroup: appt.ID,
		Metadata: map[string]string{
			"appointment_id":       appt.ID,
			"doctor_id":            appt.DoctorID,
			"patient_id":           appt.PatientID,
			"commission_amount":    split.CommissionAmount.StringFixed(billing.MinorUnitExponent),
			"doctor_payout_amount": split.PayoutAmount.StringFixed(billing.MinorUnitExponent),
		},
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create intent for appointment %s: %v", billing.ErrProvider, appt.ID, err)
	}

	intentID := intent.ID
	p := &billing.Payment{
		AppointmentID:        appt.ID,
		PatientID:            appt.PatientID,
		DoctorID:             appt.DoctorID,
		AppointmentPrice:     appt.Price,
		CommissionPercentage: pct,
		CommissionAmount:     split.CommissionAmount,
		DoctorPayoutAmount:   split.PayoutAmount,
		Currency:             s.Currency,
		PaymentIntentID:      &intentID,
	}
	if err := s.Payments.UpsertPending(context.WithoutCancel(ctx), p); err != nil {
		return nil, err
	}

	telemetry.PaymentTransitions.WithLabelValues(string(billing.PaymentPending)).Inc()
	s.Log.Info("payments.CreatePaymentIntent intent created",
		zap.String("payment_id", p.ID),
		zap.String("appointment_id", appt.ID),
		zap.String("payment_intent_id", intentID),
	)
	s.publish(ctx, events.TypePaymentCreated, p)

	return &IntentResult{ClientSecret: intent.ClientSecret, PaymentIntentID: intentID, Payment: p}, nil
}

// reusableIntent returns the provider intent of an unpaid payment when the
// patient can still complete it for the same amount.
func (s *Service) reusableIntent(ctx context.Context, existing *billing.Payment, price decimal.Decimal) *stripe.Intent {
	if existing == nil || existing.Status != billing.PaymentPending || existing.IntentID() == "" {
		return nil
	}
	if !existing.AppointmentPrice.Equal(price) {
		return nil
	}
	intent, err := s.Provider.RetrievePaymentIntent(ctx, existing.IntentID())
	if err != nil {
		s.Log.Warn("payments.CreatePaymentIntent could not reuse intent", zap.String("payment_id", existing.ID), zap.Error(err))
		return nil
	}
	if stripe.NormalizeIntentStatus(intent.Status) != "pending" {
		return nil
	}
	return intent
}

// retireIntent cancels the provider intent of a payment about to be
// superseded, so a checkout still open on it cannot capture money that no
// local payment points at.
func (s *Service) retireIntent(ctx context.Context, p *billing.Payment) error {
	id := p.IntentID()
	if id == "" {
		return nil
	}
	log := s.Log.With(zap.String("payment_id", p.ID), zap.String("payment_intent_id", id))

	intent, err := s.Provider.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: retrieve intent %s: %v", billing.ErrProvider, id, err)
	}
	switch intent.Status {
	case stripe.IntentCanceled:
		return nil
	case stripe.IntentProcessing:
		return fmt.Errorf("payment %s is still processing: %w", p.ID, billing.ErrConflict)
	case stripe.IntentSucceeded:
		if p.Status != billing.PaymentPending {
			log.Error("payments.CreatePaymentIntent intent of a failed payment was captured")
			return fmt.Errorf("payment %s is %s but its intent succeeded: %w", p.ID, p.Status, billing.ErrConflict)
		}
		if _, err := s.ConfirmPayment(ctx, ConfirmInput{PaymentIntentID: id, ChargeID: intent.LatestChargeID}); err != nil {
			return err
		}
		return fmt.Errorf("appointment %s: %w", p.AppointmentID, billing.ErrAlreadyPaid)
	}

	if _, err := s.Provider.CancelPaymentIntent(context.WithoutCancel(ctx), id); err != nil {
		return fmt.Errorf("%w: cancel superseded intent %s: %v", billing.ErrProvider, id, err)
	}
	log.Info("payments.CreatePaymentIntent superseded intent cancelled")
	return nil
}

// supersededRef ties a replacement intent's idempotency key to what it
// replaces, so the provider never hands back the cancelled intent.
func supersededRef(p *billing.Payment) string {
	if id := p.IntentID(); id != "" {
		return id
	}
	return p.ID
}

type ConfirmInput struct {
	PaymentIntentID string
	ChargeID        string
	AppointmentID   string
}

// ConfirmPayment moves the payment of an intent to COMPLETED. Concurrent
// and repeated calls converge: only the call that performed the transition
// runs the side effects.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmInput) (*billing.Payment, error) {
	if in.PaymentIntentID == "" {
		return nil, &billing.ValidationError{Field: "paymentIntentId", Message: "is required"}
	}
	ctx = context.WithoutCancel(ctx)

	p, err := s.Payments.FindByIntentID(ctx, in.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if in.AppointmentID != "" && in.AppointmentID != p.AppointmentID {
		return nil, &billing.ValidationError{Field: "appointmentId", Message: "does not match the payment"}
	}

	moved, err := s.Payments.TransitionToCompleted(ctx, in.PaymentIntentID, in.ChargeID, s.Now())
	if err != nil {
		return nil, err
	}

	current, err := s.Payments.FindByIntentID(ctx, in.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if !moved {
		if current.Status.IsSettled() {
			telemetry.IdempotentReplays.WithLabelValues("confirm_payment").Inc()
			s.Log.Debug("payments.ConfirmPayment already confirmed", zap.String("payment_id", current.ID))
			return current, nil
		}
		if current.Status == billing.PaymentFailed {
			s.Log.Error("payments.ConfirmPayment succeeded intent belongs to a failed payment",
				zap.String("payment_id", current.ID),
				zap.String("payment_intent_id", in.PaymentIntentID),
			)
		}
		return nil, fmt.Errorf("payment %s is %s: %w", current.ID, current.Status, billing.ErrConflict)
	}

	telemetry.PaymentTransitions.WithLabelValues(string(billing.PaymentCompleted)).Inc()
	s.Log.Info("payments.ConfirmPayment payment completed",
		zap.String("payment_id", current.ID),
		zap.String("appointment_id", current.AppointmentID),
	)
	s.afterCompleted(ctx, current)
	return current, nil
}

// afterCompleted runs the best-effort follow-ups of a completed payment.
// Failures are logged; the payment stays completed.
func (s *Service) afterCompleted(ctx context.Context, p *billing.Payment) {
	log := s.Log.With(zap.String("payment_id", p.ID), zap.String("appointment_id", p.AppointmentID))

	appt, err := s.Appointments.FindByID(ctx, p.AppointmentID)
	if err != nil {
		log.Error("payments.afterCompleted appointment lookup failed, payout not scheduled", zap.Error(err))
	} else {
		if confirmed, err := s.Appointments.ConfirmIfPending(ctx, appt.ID); err != nil {
			log.Warn("payments.afterCompleted appointment auto-confirm failed", zap.Error(err))
		} else if confirmed {
			log.Info("payments.afterCompleted appointment confirmed")
		}

		at, _, err := s.Payouts.HoldDoctorPayout(ctx, p.ID, appt.EndsAt())
		if err != nil {
			log.Error("payments.afterCompleted payout hold failed, the next sweep schedules it", zap.Error(err))
		} else {
			p.PayoutScheduledAt = &at
		}

		s.sendConfirmation(ctx, p, appt.StartsAt)
	}

	s.publish(ctx, events.TypePaymentCompleted, p)
}

func (s *Service) sendConfirmation(ctx context.Context, p *billing.Payment, startsAt time.Time) {
	if s.Mailer == nil {
		return
	}
	patient, err := s.Users.FindByID(ctx, p.PatientID)
	if err != nil {
		s.Log.Warn("payments.sendConfirmation patient lookup failed", zap.String("payment_id", p.ID), zap.Error(err))
		return
	}
	msg := mailer.PaymentConfirmation(patient.Email, patient.FullName(),
		p.AppointmentPrice.StringFixed(billing.MinorUnitExponent), p.Currency, startsAt)
	if err := s.Mailer.Send(ctx, msg); err != nil {
		s.Log.Warn("payments.sendConfirmation email failed", zap.String("payment_id", p.ID), zap.Error(err))
	}
}

// ConfirmFromClient serves the client's confirm call. The provider is asked
// for the intent status instead of trusting the caller.
func (s *Service) ConfirmFromClient(ctx context.Context, who users.Identity, intentID, appointmentID string) (*billing.Payment, error) {
	if intentID == "" {
		return nil, &billing.ValidationError{Field: "paymentIntentId", Message: "is required"}
	}
	p, err := s.Payments.FindByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !who.IsAdmin() && p.PatientID != who.UserID {
		return nil, fmt.Errorf("payment %s: %w", p.ID, billing.ErrForbidden)
	}
	if appointmentID != "" && appointmentID != p.AppointmentID {
		return nil, &billing.ValidationError{Field: "appointmentId", Message: "does not match the payment"}
	}
	if p.Status.IsSettled() {
		telemetry.IdempotentReplays.WithLabelValues("confirm_payment").Inc()
		return p, nil
	}

	intent, err := s.Provider.RetrievePaymentIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve intent %s: %v", billing.ErrProvider, intentID, err)
	}

	switch stripe.NormalizeIntentStatus(intent.Status) {
	case "succeeded":
		return s.ConfirmPayment(ctx, ConfirmInput{
			PaymentIntentID: intentID,
			ChargeID:        intent.LatestChargeID,
			AppointmentID:   p.AppointmentID,
		})
	case "failed":
		if _, err := s.markFailed(ctx, intentID, p.AppointmentID, "intent canceled", false); err != nil {
			s.Log.Warn("payments.ConfirmFromClient could not mark failed", zap.String("payment_id", p.ID), zap.Error(err))
		}
		return nil, fmt.Errorf("intent %s: %w", intentID, billing.ErrPaymentNotSucceeded)
	default:
		return nil, fmt.Errorf("intent %s is %s: %w", intentID, intent.Status, billing.ErrPaymentNotSucceeded)
	}
}

// MarkPaymentFailed only moves PENDING payments. Any other state is left
// as is, so a late failure event cannot downgrade a completed payment.
// FAILED is final: the intent is cancelled and a retry gets a new payment.
func (s *Service) MarkPaymentFailed(ctx context.Context, intentID, appointmentID, reason string) (*billing.Payment, error) {
	return s.markFailed(ctx, intentID, appointmentID, reason, true)
}

func (s *Service) markFailed(ctx context.Context, intentID, appointmentID, reason string, cancelIntent bool) (*billing.Payment, error) {
	ctx = context.WithoutCancel(ctx)

	p, err := s.Payments.FindByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if appointmentID != "" && appointmentID != p.AppointmentID {
		return nil, &billing.ValidationError{Field: "appointmentId", Message: "does not match the payment"}
	}

	moved, err := s.Payments.TransitionToFailed(ctx, intentID, reason)
	if err != nil {
		return nil, err
	}
	if !moved {
		telemetry.IdempotentReplays.WithLabelValues("mark_failed").Inc()
		s.Log.Debug("payments.MarkPaymentFailed no transition", zap.String("payment_id", p.ID), zap.String("status", string(p.Status)))
		return s.Payments.FindByID(ctx, p.ID)
	}

	telemetry.PaymentTransitions.WithLabelValues(string(billing.PaymentFailed)).Inc()
	s.Log.Info("payments.MarkPaymentFailed payment failed", zap.String("payment_id", p.ID), zap.String("reason", reason))
	if cancelIntent {
		if _, err := s.Provider.CancelPaymentIntent(ctx, intentID); err != nil {
			s.Log.Warn("payments.MarkPaymentFailed intent not cancelled", zap.String("payment_id", p.ID), zap.Error(err))
		}
	}

	current, err := s.Payments.FindByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypePaymentFailed, current)
	return current, nil
}

type RefundInput struct {
	PaymentIntentID string
	ChargeID        string
	// AmountRefundedMinor is the cumulative amount refunded on the charge.
	AmountRefundedMinor int64
	FullyRefunded       bool
}

const refundRetries = 3

// ReconcileRefund mirrors the provider's cumulative refund total. Older or
// repeated totals are ignored.
func (s *Service) ReconcileRefund(ctx context.Context, in RefundInput) (*billing.Payment, error) {
	ctx = context.WithoutCancel(ctx)

	p, err := s.Payments.FindByIntentID(ctx, in.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < refundRetries; attempt++ {
		if !p.Status.IsSettled() {
			return nil, fmt.Errorf("refund for payment %s in %s: %w", p.ID, p.Status, billing.ErrConflict)
		}

		total := billing.FromMinorUnits(in.AmountRefundedMinor)
		if total.GreaterThan(p.AppointmentPrice) {
			total = p.AppointmentPrice
		}
		if !total.GreaterThan(p.RefundedSoFar()) {
			telemetry.IdempotentReplays.WithLabelValues("reconcile_refund").Inc()
			return p, nil
		}

		status := billing.PaymentPartiallyRefunded
		if in.FullyRefunded || total.Equal(p.AppointmentPrice) {
			status = billing.PaymentRefunded
		}
		if !billing.CanTransition(p.Status, status) {
			return p, nil
		}

		refundedCommission := billing.ProRata(p.CommissionAmount, total, p.AppointmentPrice)
		ok, err := s.Payments.ApplyRefund(ctx, p, total, refundedCommission, status)
		if err != nil {
			return nil, err
		}
		if ok {
			current, err := s.Payments.FindByID(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			telemetry.PaymentTransitions.WithLabelValues(string(status)).Inc()
			log := s.Log.With(zap.String("payment_id", p.ID), zap.String("refund_amount", total.StringFixed(billing.MinorUnitExponent)))
			if current.DoctorPaid {
				log.Warn("payments.ReconcileRefund refund after doctor payout")
			} else {
				log.Info("payments.ReconcileRefund refund recorded", zap.String("status", string(status)))
			}
			s.publish(ctx, events.TypePaymentRefunded, current)
			return current, nil
		}

		if p, err = s.Payments.FindByID(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("refund for payment %s kept changing: %w", p.ID, billing.ErrConflict)
}

type RefundOutcome string

const (
	RefundNothingCharged  RefundOutcome = "nothing_charged"
	RefundAlreadyRefunded RefundOutcome = "already_refunded"
	RefundRequested       RefundOutcome = "refund_requested"
)

type RefundResult struct {
	PaymentID string          `json:"paymentId,omitempty"`
	Outcome   RefundOutcome   `json:"outcome"`
	RefundID  string          `json:"refundId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// RefundForCancellation refunds what is left of an appointment's payment.
// Cancelling twice is a no-op. Local refund totals are written when the
// provider's refund event arrives.
func (s *Service) RefundForCancellation(ctx context.Context, who users.Identity, appointmentID, reason string) (*RefundResult, error) {
	appt, err := s.Appointments.FindByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !who.IsAdmin() && who.UserID != appt.PatientID && who.UserID != appt.DoctorID {
		return nil, fmt.Errorf("appointment %s: %w", appt.ID, billing.ErrForbidden)
	}

	p, err := s.Payments.FindByAppointmentID(ctx, appt.ID)
	if errors.Is(err, billing.ErrNotFound) {
		return &RefundResult{Outcome: RefundNothingCharged}, nil
	}
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case billing.PaymentRefunded:
		return &RefundResult{PaymentID: p.ID, Outcome: RefundAlreadyRefunded, Amount: p.RefundedSoFar()}, nil
	case billing.PaymentPending, billing.PaymentFailed:
		return &RefundResult{PaymentID: p.ID, Outcome: RefundNothingCharged}, nil
	}

	remaining := p.RemainingRefundable()
	if !remaining.IsPositive() {
		return &RefundResult{PaymentID: p.ID, Outcome: RefundAlreadyRefunded, Amount: p.RefundedSoFar()}, nil
	}

	remainingMinor := billing.ToMinorUnits(remaining)
	refund, err := s.Provider.CreateRefund(context.WithoutCancel(ctx), stripe.RefundParams{
		PaymentIntentID: p.IntentID(),
		AmountMinor:     remainingMinor,
		Reason:          "requested_by_customer",
		Metadata: map[string]string{
			"payment_id":     p.ID,
			"appointment_id": p.AppointmentID,
			"cancel_reason":  reason,
		},
		IdempotencyKey: fmt.Sprintf("refund_%s_%d", p.ID, remainingMinor),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: refund payment %s: %v", billing.ErrProvider, p.ID, err)
	}

	s.Log.Info("payments.RefundForCancellation refund requested",
		zap.String("payment_id", p.ID),
		zap.String("refund_id", refund.ID),
		zap.String("amount", remaining.StringFixed(billing.MinorUnitExponent)),
	)
	return &RefundResult{PaymentID: p.ID, Outcome: RefundRequested, RefundID: refund.ID, Amount: remaining}, nil
}

// GetByAppointment returns the payment of an appointment to its patient,
// its doctor or an admin.
func (s *Service) GetByAppointment(ctx context.Context, who users.Identity, appointmentID string) (*billing.Payment, error) {
	p, err := s.Payments.FindByAppointmentID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !who.IsAdmin() && who.UserID != p.PatientID && who.UserID != p.DoctorID {
		return nil, fmt.Errorf("payment %s: %w", p.ID, billing.ErrForbidden)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, f repository.PaymentFilter) ([]billing.Payment, error) {
	return s.Payments.List(ctx, f)
}

func (s *Service) Stats(ctx context.Context) (*repository.RevenueTotals, error) {
	return s.Payments.RevenueTotals(ctx)
}

func (s *Service) publish(ctx context.Context, eventType string, p *billing.Payment) {
	e := events.PaymentEvent{
		Type:          eventType,
		PaymentID:     p.ID,
		AppointmentID: p.AppointmentID,
		DoctorID:      p.DoctorID,
		Status:        string(p.Status),
		Amount:        p.AppointmentPrice.StringFixed(billing.MinorUnitExponent),
		OccurredAt:    s.Now(),
	}
	if err := s.Events.Publish(ctx, e); err != nil {
		s.Log.Warn("payments event publish failed", zap.String("type", eventType), zap.String("payment_id", p.ID), zap.Error(err))
	}
}
