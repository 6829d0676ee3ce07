package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-payments/internal/domain/billing"
	"booking-payments/internal/infra/events"
	"booking-payments/internal/infra/mailer"
	"booking-payments/internal/infra/stripe"
	"booking-payments/internal/repository"
	"booking-payments/internal/telemetry"

	"go.uber.org/zap"
)

const sweepLockKey = "payouts:sweep"

type Provider interface {
	CreateTransfer(ctx context.Context, in stripe.TransferParams) (*stripe.Transfer, error)
	FindTransfer(ctx context.Context, transferGroup, paymentID string) (*stripe.Transfer, error)
}

// Locker keeps two instances from sweeping at the same time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

type Config struct {
	Hold      time.Duration
	BatchSize int
	LockTTL   time.Duration
}

type Deps struct {
	Payments     *repository.PaymentRepository
	Payouts      *repository.PayoutRepository
	Accounts     *repository.AccountRepository
	Appointments *repository.AppointmentRepository
	Users        *repository.UserRepository
	Provider     Provider
	Mailer       mailer.Sender
	Events       events.Publisher
	Locker       Locker
	Log          *zap.Logger
	Now          func() time.Time
}

type Service struct {
	Deps
	cfg Config
}

func NewService(d Deps, cfg Config) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Events == nil {
		d.Events = events.NopPublisher{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Service{Deps: d, cfg: cfg}
}

// HoldDoctorPayout schedules the payout for appointmentEnd plus the configured
// hold. It reports whether the stored time changed; an existing later time
// is kept.
func (s *Service) HoldDoctorPayout(ctx context.Context, paymentID string, appointmentEnd time.Time) (time.Time, bool, error) {
	at := appointmentEnd.Add(s.cfg.Hold).UTC()

	changed, err := s.Payments.SchedulePayout(ctx, paymentID, at)
	if err != nil {
		return time.Time{}, false, err
	}
	if !changed {
		telemetry.IdempotentReplays.WithLabelValues("hold_payout").Inc()
		s.Log.Debug("payouts.HoldDoctorPayout schedule already set", zap.String("payment_id", paymentID))
		return at, false, nil
	}

	s.Log.Info("payouts.HoldDoctorPayout payout scheduled",
		zap.String("payment_id", paymentID),
		zap.Time("payout_scheduled_at", at),
	)
	s.publish(ctx, events.PaymentEvent{
		Type:      events.TypePayoutScheduled,
		PaymentID: paymentID,
		Status:    "SCHEDULED",
	})
	return at, true, nil
}

// OverrideSchedule is the administrative move in either direction. The
// payout still may not be released before the appointment starts.
func (s *Service) OverrideSchedule(ctx context.Context, paymentID string, at time.Time) (*billing.Payment, error) {
	p, err := s.Payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Status.IsSettled() {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, billing.ErrConflict)
	}

	appt, err := s.Appointments.FindByID(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if at.Before(appt.StartsAt) {
		return nil, &billing.ValidationError{Field: "payoutScheduledAt", Message: "must not be before the appointment start"}
	}

	if err := s.Payments.OverridePayoutSchedule(ctx, p.ID, at.UTC()); err != nil {
		return nil, err
	}
	s.Log.Info("payouts.OverrideSchedule payout rescheduled",
		zap.String("payment_id", p.ID),
		zap.Time("payout_scheduled_at", at.UTC()),
	)
	return s.Payments.FindByID(ctx, p.ID)
}

func (s *Service) GetPendingPayouts(ctx context.Context, limit int) ([]billing.Payment, error) {
	if limit <= 0 || limit > s.cfg.BatchSize {
		limit = s.cfg.BatchSize
	}
	return s.Payments.ListDuePayouts(ctx, s.Now(), limit)
}

func (s *Service) GetUnscheduledPayouts(ctx context.Context, limit int) ([]billing.Payment, error) {
	if limit <= 0 || limit > s.cfg.BatchSize {
		limit = s.cfg.BatchSize
	}
	return s.Payments.ListUnscheduled(ctx, limit)
}

// CreatePayout transfers the doctor's net share of one payment. A payment
// whose doctor was already paid returns its payout without a new transfer.
func (s *Service) CreatePayout(ctx context.Context, paymentID string) (*billing.DoctorPayout, error) {
	ctx = context.WithoutCancel(ctx)
	log := s.Log.With(zap.String("payment_id", paymentID))

	p, err := s.Payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.DoctorPaid {
		telemetry.IdempotentReplays.WithLabelValues("create_payout").Inc()
		log.Debug("payouts.CreatePayout doctor already paid")
		existing, err := s.Payouts.FindByPaymentID(ctx, p.ID)
		if errors.Is(err, billing.ErrNotFound) {
			return nil, nil
		}
		return existing, err
	}

	if !p.PatientPaid || (p.Status != billing.PaymentCompleted && p.Status != billing.PaymentPartiallyRefunded) {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, billing.ErrConflict)
	}
	if p.PayoutScheduledAt == nil || p.PayoutScheduledAt.After(s.Now()) {
		return nil, fmt.Errorf("payment %s payout is on hold: %w", p.ID, billing.ErrConflict)
	}

	acct, err := s.Accounts.FindByDoctorID(ctx, p.DoctorID)
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		return nil, err
	}
	if !acct.ReadyForPayouts() {
		return nil, fmt.Errorf("doctor %s: %w", p.DoctorID, billing.ErrAccountNotReady)
	}

	amount := p.NetDoctorPayout()
	if !amount.IsPositive() {
		return nil, fmt.Errorf("payment %s has nothing left to pay out: %w", p.ID, billing.ErrConflict)
	}

	payout := &billing.DoctorPayout{
		PaymentID:         p.ID,
		DoctorID:          p.DoctorID,
		ExternalAccountID: acct.ExternalAccountID,
		Amount:            amount,
		Currency:          p.Currency,
		ScheduledAt:       p.PayoutScheduledAt,
	}
	claimed, err := s.Payouts.Claim(ctx, payout, s.Now().Add(-s.cfg.LockTTL))
	if err != nil {
		return nil, err
	}
	if !claimed {
		existing, err := s.Payouts.FindByPaymentID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		switch existing.Status {
		case billing.PayoutTransferred:
			return existing, nil
		case billing.PayoutRejected:
			return nil, fmt.Errorf("payment %s payout was rejected by the provider and needs review: %w", p.ID, billing.ErrConflict)
		}
		return nil, fmt.Errorf("payment %s: %w", p.ID, billing.ErrPayoutInProgress)
	}

	transferID, err := s.transfer(ctx, p, payout)
	if err != nil {
		return nil, err
	}
	if err := s.finishTransfer(ctx, payout.ID, p, transferID); err != nil {
		return nil, err
	}
	return s.Payouts.FindByPaymentID(ctx, p.ID)
}

// transfer makes the provider transfer for a claimed payout. A retried
// claim may follow an attempt whose response was lost, so the provider is
// asked for a transfer it already holds before a new one is requested.
func (s *Service) transfer(ctx context.Context, p *billing.Payment, payout *billing.DoctorPayout) (string, error) {
	log := s.Log.With(zap.String("payment_id", p.ID), zap.Int("attempt", payout.Attempts))

	if payout.Attempts > 1 {
		found, err := s.Provider.FindTransfer(ctx, p.AppointmentID, p.ID)
		if err != nil {
			s.recordFailure(ctx, log, payout.ID, err)
			return "", fmt.Errorf("%w: look up transfer for payment %s: %v", billing.ErrProvider, p.ID, err)
		}
		if found != nil {
			telemetry.IdempotentReplays.WithLabelValues("create_payout").Inc()
			log.Warn("payouts.CreatePayout adopting transfer from an earlier attempt", zap.String("transfer_id", found.ID))
			return found.ID, nil
		}
	}

	tr, err := s.Provider.CreateTransfer(ctx, stripe.TransferParams{
		AmountMinor:          billing.ToMinorUnits(payout.Amount),
		Currency:             p.Currency,
		DestinationAccountID: payout.ExternalAccountID,
		TransferGroup:        p.AppointmentID,
		Metadata: map[string]string{
			"payment_id":     p.ID,
			"appointment_id": p.AppointmentID,
			"doctor_id":      p.DoctorID,
		},
		IdempotencyKey: payout.TransferKey(),
	})
	if errors.Is(err, stripe.ErrRejected) {
		telemetry.Payouts.WithLabelValues("rejected").Inc()
		log.Error("payouts.CreatePayout transfer rejected, payout parked for review", zap.Error(err))
		if markErr := s.Payouts.MarkRejected(ctx, payout.ID, err.Error()); markErr != nil {
			log.Error("payouts.CreatePayout could not record rejection", zap.Error(markErr))
		}
		return "", fmt.Errorf("%w: transfer for payment %s: %v", billing.ErrProvider, p.ID, err)
	}
	if err != nil {
		s.recordFailure(ctx, log, payout.ID, err)
		return "", fmt.Errorf("%w: transfer for payment %s: %v", billing.ErrProvider, p.ID, err)
	}
	return tr.ID, nil
}

func (s *Service) recordFailure(ctx context.Context, log *zap.Logger, payoutID string, cause error) {
	telemetry.Payouts.WithLabelValues("failed").Inc()
	if err := s.Payouts.MarkFailed(ctx, payoutID, cause.Error()); err != nil {
		log.Error("payouts.CreatePayout could not record failure", zap.Error(err))
	}
}

// RetryPayout is the admin release of one payout. A payout the provider
// rejected is reopened first; the retry then uses a fresh transfer key.
func (s *Service) RetryPayout(ctx context.Context, paymentID string) (*billing.DoctorPayout, error) {
	reopened, err := s.Payouts.Reopen(context.WithoutCancel(ctx), paymentID)
	if err != nil {
		return nil, err
	}
	if reopened {
		s.Log.Info("payouts.RetryPayout rejected payout reopened", zap.String("payment_id", paymentID))
	}
	return s.CreatePayout(ctx, paymentID)
}

// finishTransfer stores the transfer and fires the payout side effects only
// for the call that flipped doctorPaid.
func (s *Service) finishTransfer(ctx context.Context, payoutID string, p *billing.Payment, transferID string) error {
	marked, err := s.Payouts.CompleteTransfer(ctx, payoutID, p.ID, transferID)
	if err != nil {
		return err
	}
	if !marked {
		telemetry.IdempotentReplays.WithLabelValues("complete_transfer").Inc()
		return nil
	}

	telemetry.Payouts.WithLabelValues("transferred").Inc()
	s.Log.Info("payouts transfer completed",
		zap.String("payment_id", p.ID),
		zap.String("transfer_id", transferID),
	)
	net := p.NetDoctorPayout()
	s.publish(ctx, events.PaymentEvent{
		Type:          events.TypePayoutTransferred,
		PaymentID:     p.ID,
		AppointmentID: p.AppointmentID,
		DoctorID:      p.DoctorID,
		Status:        string(billing.PayoutTransferred),
		Amount:        net.StringFixed(billing.MinorUnitExponent),
	})
	s.notifyDoctor(ctx, p, net.StringFixed(billing.MinorUnitExponent))
	return nil
}

func (s *Service) notifyDoctor(ctx context.Context, p *billing.Payment, amount string) {
	if s.Mailer == nil || s.Users == nil {
		return
	}
	doctor, err := s.Users.FindByID(ctx, p.DoctorID)
	if err != nil {
		s.Log.Warn("payouts.notifyDoctor doctor lookup failed", zap.String("payment_id", p.ID), zap.Error(err))
		return
	}
	msg := mailer.PayoutSent(doctor.Email, doctor.FullName(), amount, p.Currency, p.AppointmentID)
	if err := s.Mailer.Send(ctx, msg); err != nil {
		s.Log.Warn("payouts.notifyDoctor email failed", zap.String("payment_id", p.ID), zap.Error(err))
	}
}

type SweepItem struct {
	PaymentID  string `json:"payment_id"`
	Outcome    string `json:"outcome"`
	TransferID string `json:"transfer_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type SweepResult struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Locked    bool        `json:"locked,omitempty"`
	Items     []SweepItem `json:"items"`
}

// ProcessDuePayouts runs one bounded sweep. A failing item is recorded and
// the sweep moves on to the next one.
func (s *Service) ProcessDuePayouts(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{Items: []SweepItem{}}

	if s.Locker != nil {
		token, ok, err := s.Locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.Log.Warn("payouts.ProcessDuePayouts lock unavailable, sweeping without it", zap.Error(err))
		case !ok:
			s.Log.Info("payouts.ProcessDuePayouts another sweep is running")
			res.Locked = true
			return res, nil
		default:
			defer func() {
				if err := s.Locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
					s.Log.Warn("payouts.ProcessDuePayouts unlock failed", zap.Error(err))
				}
			}()
		}
	}

	s.scheduleMissing(ctx)

	due, err := s.GetPendingPayouts(ctx, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	for _, p := range due {
		item := SweepItem{PaymentID: p.ID}
		payout, err := s.CreatePayout(ctx, p.ID)
		switch {
		case err == nil:
			item.Outcome = "transferred"
			if payout != nil && payout.TransferID != nil {
				item.TransferID = *payout.TransferID
			}
			res.Processed++
		case errors.Is(err, billing.ErrAccountNotReady),
			errors.Is(err, billing.ErrPayoutInProgress),
			errors.Is(err, billing.ErrConflict):
			item.Outcome = "skipped"
			item.Error = err.Error()
			res.Skipped++
			s.Log.Debug("payouts.ProcessDuePayouts payout skipped", zap.String("payment_id", p.ID), zap.Error(err))
		default:
			item.Outcome = "failed"
			item.Error = err.Error()
			res.Failed++
			s.Log.Warn("payouts.ProcessDuePayouts payout failed", zap.String("payment_id", p.ID), zap.Error(err))
		}
		res.Items = append(res.Items, item)
	}

	s.Log.Info("payouts.ProcessDuePayouts sweep done",
		zap.Int("due", len(due)),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// scheduleMissing writes the hold of paid payments whose scheduling step
// failed after confirmation, so they become due like any other.
func (s *Service) scheduleMissing(ctx context.Context) {
	missing, err := s.GetUnscheduledPayouts(ctx, s.cfg.BatchSize)
	if err != nil {
		s.Log.Error("payouts.ProcessDuePayouts unscheduled lookup failed", zap.Error(err))
		return
	}
	for _, p := range missing {
		appt, err := s.Appointments.FindByID(ctx, p.AppointmentID)
		if err != nil {
			s.Log.Error("payouts.ProcessDuePayouts appointment lookup failed", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		if _, _, err := s.HoldDoctorPayout(ctx, p.ID, appt.EndsAt()); err != nil {
			s.Log.Error("payouts.ProcessDuePayouts payout hold failed", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		s.Log.Warn("payouts.ProcessDuePayouts scheduled a payout missed at confirmation", zap.String("payment_id", p.ID))
	}
}

// ConfirmTransfer handles the provider's transfer-created notice. It also
// finishes a payout whose sweep stopped after the transfer was created.
func (s *Service) ConfirmTransfer(ctx context.Context, transferID, paymentID string) error {
	ctx = context.WithoutCancel(ctx)

	confirmed, err := s.Payouts.Confirm(ctx, transferID, paymentID)
	if err != nil {
		return err
	}

	payout, err := s.Payouts.FindByTransferID(ctx, transferID)
	if errors.Is(err, billing.ErrNotFound) {
		s.Log.Warn("payouts.ConfirmTransfer unknown transfer", zap.String("transfer_id", transferID), zap.String("payment_id", paymentID))
		return nil
	}
	if err != nil {
		return err
	}
	if !confirmed {
		telemetry.IdempotentReplays.WithLabelValues("confirm_transfer").Inc()
	}

	if payout.Status != billing.PayoutTransferred {
		p, err := s.Payments.FindByID(ctx, payout.PaymentID)
		if err != nil {
			return err
		}
		if err := s.finishTransfer(ctx, payout.ID, p, transferID); err != nil {
			return err
		}
	}
	s.Log.Info("payouts.ConfirmTransfer transfer confirmed", zap.String("transfer_id", transferID), zap.String("payment_id", payout.PaymentID))
	return nil
}

// ReverseTransfer records a clawback. doctorPaid stays as it was so the
// payout history is preserved.
func (s *Service) ReverseTransfer(ctx context.Context, transferID, paymentID string, amountReversedMinor int64) error {
	ctx = context.WithoutCancel(ctx)
	amount := billing.FromMinorUnits(amountReversedMinor)

	reversed, err := s.Payouts.Reverse(ctx, transferID, amount)
	if err != nil {
		return err
	}
	if !reversed {
		if _, err := s.Payouts.FindByTransferID(ctx, transferID); errors.Is(err, billing.ErrNotFound) {
			s.Log.Warn("payouts.ReverseTransfer unknown transfer", zap.String("transfer_id", transferID), zap.String("payment_id", paymentID))
			return nil
		} else if err != nil {
			return err
		}
		telemetry.IdempotentReplays.WithLabelValues("reverse_transfer").Inc()
		return nil
	}

	telemetry.Payouts.WithLabelValues("reversed").Inc()
	s.Log.Error("payouts.ReverseTransfer doctor payout reversed",
		zap.String("transfer_id", transferID),
		zap.String("payment_id", paymentID),
		zap.String("amount_reversed", amount.StringFixed(billing.MinorUnitExponent)),
	)
	s.publish(ctx, events.PaymentEvent{
		Type:      events.TypePayoutReversed,
		PaymentID: paymentID,
		Status:    "REVERSED",
		Amount:    amount.StringFixed(billing.MinorUnitExponent),
	})
	return nil
}

func (s *Service) ListDoctorPayouts(ctx context.Context, doctorID string, limit int) ([]billing.DoctorPayout, error) {
	return s.Payouts.ListByDoctor(ctx, doctorID, limit)
}

func (s *Service) publish(ctx context.Context, e events.PaymentEvent) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.Now()
	}
	if err := s.Events.Publish(ctx, e); err != nil {
		s.Log.Warn("payouts event publish failed", zap.String("type", e.Type), zap.String("payment_id", e.PaymentID), zap.Error(err))
	}
}
