package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"booking-payments/internal/infra/events"
	"booking-payments/internal/infra/mailer"
	"booking-payments/internal/infra/stripe"
)

var ErrProviderDown = errors.New("provider unavailable")

// FakeProvider stands in for the Stripe client. Intents and transfers are
// keyed like the real API, so repeating an idempotency key returns the
// object created the first time.
type FakeProvider struct {
	mu sync.Mutex

	Intents      map[string]*stripe.Intent
	Transfers    []stripe.TransferParams
	Refunds      []stripe.RefundParams
	Accounts     map[string]*stripe.Account
	LinksCreated int
	Cancelled    []string

	FailTransfers   bool
	RejectTransfers bool
	FailIntents     bool
	// LoseTransferResponses makes the next n transfers succeed at the
	// provider while the caller sees a timeout.
	LoseTransferResponses int

	byKey       map[string]string
	transferIDs []string
	seq         int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Intents:  map[string]*stripe.Intent{},
		Accounts: map[string]*stripe.Account{},
		byKey:    map[string]string{},
	}
}

func (f *FakeProvider) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%04d", prefix, f.seq)
}

func (f *FakeProvider) CreatePaymentIntent(_ context.Context, in stripe.CreateIntentParams) (*stripe.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailIntents {
		return nil, ErrProviderDown
	}
	if id, ok := f.byKey[in.IdempotencyKey]; ok && in.IdempotencyKey != "" {
		return f.Intents[id], nil
	}
	id := f.nextID("pi")
	intent := &stripe.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		AmountMinor:  in.AmountMinor,
		Currency:     in.Currency,
		Metadata:     in.Metadata,
	}
	f.Intents[id] = intent
	f.byKey[in.IdempotencyKey] = id
	return intent, nil
}

func (f *FakeProvider) RetrievePaymentIntent(_ context.Context, id string) (*stripe.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.Intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment_intent: %s", id)
	}
	out := *intent
	return &out, nil
}

// Succeed marks an intent as paid with a charge id. A cancelled intent
// stays cancelled.
func (f *FakeProvider) Succeed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.Intents[id]; ok && intent.Status != stripe.IntentCanceled {
		intent.Status = stripe.IntentSucceeded
		intent.LatestChargeID = "ch_" + id
	}
}

func (f *FakeProvider) CreateRefund(_ context.Context, in stripe.RefundParams) (*stripe.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refunds = append(f.Refunds, in)
	return &stripe.Refund{ID: f.nextID("re"), Status: "succeeded", AmountMinor: in.AmountMinor}, nil
}

// CancelPaymentIntent follows the provider: only an intent that has not
// succeeded or started processing can be cancelled.
func (f *FakeProvider) CancelPaymentIntent(_ context.Context, id string) (*stripe.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.Intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment_intent: %s", id)
	}
	switch intent.Status {
	case stripe.IntentSucceeded, stripe.IntentProcessing, stripe.IntentCanceled:
		return nil, fmt.Errorf("%w: payment_intent %s is %s", stripe.ErrRejected, id, intent.Status)
	}
	intent.Status = stripe.IntentCanceled
	f.Cancelled = append(f.Cancelled, id)
	out := *intent
	return &out, nil
}

func (f *FakeProvider) CreateTransfer(_ context.Context, in stripe.TransferParams) (*stripe.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTransfers {
		return nil, ErrProviderDown
	}
	if f.RejectTransfers {
		return nil, fmt.Errorf("%w: destination cannot receive transfers", stripe.ErrRejected)
	}

	id, replay := f.byKey[in.IdempotencyKey]
	if !replay || in.IdempotencyKey == "" {
		id = f.nextID("tr")
		f.Transfers = append(f.Transfers, in)
		f.transferIDs = append(f.transferIDs, id)
		f.byKey[in.IdempotencyKey] = id
	}
	if f.LoseTransferResponses > 0 {
		f.LoseTransferResponses--
		return nil, fmt.Errorf("%w: request timed out", ErrProviderDown)
	}
	return f.transfer(id), nil
}

// FindTransfer scans created transfers the way a list call filtered by
// transfer group would.
func (f *FakeProvider) FindTransfer(_ context.Context, transferGroup, paymentID string) (*stripe.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTransfers {
		return nil, ErrProviderDown
	}
	for i, in := range f.Transfers {
		if in.TransferGroup == transferGroup && in.Metadata["payment_id"] == paymentID {
			return f.transfer(f.transferIDs[i]), nil
		}
	}
	return nil, nil
}

// ForgetTransferKeys drops remembered transfer idempotency keys, as the
// provider does once they expire.
func (f *FakeProvider) ForgetTransferKeys() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.transferIDs {
		for k, v := range f.byKey {
			if v == id {
				delete(f.byKey, k)
			}
		}
	}
}

func (f *FakeProvider) transfer(id string) *stripe.Transfer {
	for i, known := range f.transferIDs {
		if known == id {
			in := f.Transfers[i]
			return &stripe.Transfer{
				ID:                   id,
				AmountMinor:          in.AmountMinor,
				DestinationAccountID: in.DestinationAccountID,
				Metadata:             in.Metadata,
			}
		}
	}
	return nil
}

func (f *FakeProvider) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

func (f *FakeProvider) CreateConnectedAccount(_ context.Context, in stripe.AccountParams) (*stripe.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byKey[in.IdempotencyKey]; ok && in.IdempotencyKey != "" {
		return f.Accounts[id], nil
	}
	acct := &stripe.Account{ID: f.nextID("acct"), Metadata: in.Metadata}
	f.Accounts[acct.ID] = acct
	f.byKey[in.IdempotencyKey] = acct.ID
	return acct, nil
}

func (f *FakeProvider) RetrieveAccount(_ context.Context, id string) (*stripe.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.Accounts[id]
	if !ok {
		return nil, fmt.Errorf("no such account: %s", id)
	}
	out := *acct
	return &out, nil
}

func (f *FakeProvider) CreateOnboardingLink(_ context.Context, accountID, _, _ string) (*stripe.OnboardingLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LinksCreated++
	return &stripe.OnboardingLink{
		URL:       "https://connect.example.test/onboarding/" + accountID,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}, nil
}

// RecordingMailer counts messages instead of sending them.
type RecordingMailer struct {
	mu   sync.Mutex
	Sent []mailer.Message
}

func (m *RecordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return nil
}

func (m *RecordingMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

type RecordingPublisher struct {
	mu     sync.Mutex
	Events []events.PaymentEvent
}

func (p *RecordingPublisher) Publish(_ context.Context, e events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, e)
	return nil
}

// CountType returns how many events of the given type were published.
func (p *RecordingPublisher) CountType(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.Events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
