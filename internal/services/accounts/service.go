package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-payments/internal/domain/billing"
	"booking-payments/internal/infra/stripe"
	"booking-payments/internal/repository"

	"go.uber.org/zap"
)

type Provider interface {
	CreateConnectedAccount(ctx context.Context, in stripe.AccountParams) (*stripe.Account, error)
	RetrieveAccount(ctx context.Context, id string) (*stripe.Account, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*stripe.OnboardingLink, error)
}

type Service struct {
	accounts *repository.AccountRepository
	users    *repository.UserRepository
	provider Provider
	appURL   string
	log      *zap.Logger
	now      func() time.Time
}

func NewService(accounts *repository.AccountRepository, users *repository.UserRepository, provider Provider, appURL string, log *zap.Logger) *Service {
	return &Service{
		accounts: accounts,
		users:    users,
		provider: provider,
		appURL:   strings.TrimRight(appURL, "/"),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetupAccount creates the doctor's connected account on first use and
// returns it with an onboarding link while onboarding is incomplete. An
// unexpired link is reused.
func (s *Service) SetupAccount(ctx context.Context, doctorID string) (*billing.DoctorPaymentAccount, error) {
	acct, err := s.accounts.FindByDoctorID(ctx, doctorID)
	if errors.Is(err, billing.ErrNotFound) {
		acct, err = s.createAccount(ctx, doctorID)
	}
	if err != nil {
		return nil, err
	}

	if acct.ReadyForPayouts() || acct.OnboardingLinkValid(s.now()) {
		return acct, nil
	}

	link, err := s.provider.CreateOnboardingLink(ctx, acct.ExternalAccountID,
		s.appURL+"/doctor/payments?onboarding=refresh",
		s.appURL+"/doctor/payments?onboarding=done",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: onboarding link for doctor %s: %v", billing.ErrProvider, doctorID, err)
	}
	if err := s.accounts.SaveOnboardingLink(ctx, acct.ID, link.URL, link.ExpiresAt); err != nil {
		return nil, err
	}
	acct.OnboardingURL = &link.URL
	acct.OnboardingExpiresAt = &link.ExpiresAt
	return acct, nil
}

func (s *Service) createAccount(ctx context.Context, doctorID string) (*billing.DoctorPaymentAccount, error) {
	doctor, err := s.users.FindByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	ext, err := s.provider.CreateConnectedAccount(ctx, stripe.AccountParams{
		Email:          doctor.Email,
		Country:        doctor.Country,
		Metadata:       map[string]string{"doctor_id": doctorID},
		IdempotencyKey: "account_" + doctorID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connected account for doctor %s: %v", billing.ErrProvider, doctorID, err)
	}

	acct := &billing.DoctorPaymentAccount{
		DoctorID:          doctorID,
		ExternalAccountID: ext.ID,
		Status:            stripe.LocalAccountStatus(ext),
		DetailsSubmitted:  ext.DetailsSubmitted,
		ChargesEnabled:    ext.ChargesEnabled,
		PayoutsEnabled:    ext.PayoutsEnabled,
	}
	created, err := s.accounts.Create(context.WithoutCancel(ctx), acct)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("accounts.SetupAccount connected account created",
			zap.String("doctor_id", doctorID),
			zap.String("account_id", ext.ID),
		)
	}
	return acct, nil
}

func (s *Service) Get(ctx context.Context, doctorID string) (*billing.DoctorPaymentAccount, error) {
	return s.accounts.FindByDoctorID(ctx, doctorID)
}

// RefreshStatus polls the provider for the doctor's account capabilities.
func (s *Service) RefreshStatus(ctx context.Context, doctorID string) (*billing.DoctorPaymentAccount, error) {
	acct, err := s.accounts.FindByDoctorID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	ext, err := s.provider.RetrieveAccount(ctx, acct.ExternalAccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve account %s: %v", billing.ErrProvider, acct.ExternalAccountID, err)
	}
	if err := s.SyncAccount(ctx, ext); err != nil {
		return nil, err
	}
	return s.accounts.FindByDoctorID(ctx, doctorID)
}

// SyncAccount stores the capabilities carried by an account update.
func (s *Service) SyncAccount(ctx context.Context, ext *stripe.Account) error {
	status := stripe.LocalAccountStatus(ext)
	found, err := s.accounts.UpdateCapabilities(context.WithoutCancel(ctx), ext.ID, repository.AccountCapabilities{
		Status:           status,
		DetailsSubmitted: ext.DetailsSubmitted,
		ChargesEnabled:   ext.ChargesEnabled,
		PayoutsEnabled:   ext.PayoutsEnabled,
	})
	if err != nil {
		return err
	}
	if !found {
		s.log.Debug("accounts.SyncAccount account not managed here", zap.String("account_id", ext.ID))
		return nil
	}
	s.log.Info("accounts.SyncAccount status updated", zap.String("account_id", ext.ID), zap.String("status", string(status)))
	return nil
}
