package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
)

type Intent struct {
	ID             string
	ClientSecret   string
	Status         string
	AmountMinor    int64
	Currency       string
	LatestChargeID string
	Metadata       map[string]string
}

type CreateIntentParams struct {
	AmountMinor    int64
	Currency       string
	Description    string
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

type Transfer struct {
	ID                   string
	AmountMinor          int64
	AmountReversedMinor  int64
	DestinationAccountID string
	Reversed             bool
	Metadata             map[string]string
}

type TransferParams struct {
	AmountMinor          int64
	Currency             string
	DestinationAccountID string
	TransferGroup        string
	Metadata             map[string]string
	IdempotencyKey       string
}

type Account struct {
	ID               string
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
	RequirementsDue  bool
	Metadata         map[string]string
}

type AccountParams struct {
	Email          string
	Country        string
	Metadata       map[string]string
	IdempotencyKey string
}

type OnboardingLink struct {
	URL       string
	ExpiresAt time.Time
}

type RefundParams struct {
	PaymentIntentID string
	AmountMinor     int64
	Reason          string
	Metadata        map[string]string
	IdempotencyKey  string
}

type Refund struct {
	ID          string
	Status      string
	AmountMinor int64
}

// ErrRejected marks a request the provider answered with a definitive 4xx.
// Nothing was created, so the caller must not retry it unchanged.
var ErrRejected = errors.New("rejected by provider")

// classify wraps definitive rejections in ErrRejected. Rate limits and
// transport failures stay ambiguous.
func classify(err error) error {
	var se *stripego.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 &&
		se.HTTPStatusCode != http.StatusTooManyRequests && se.HTTPStatusCode != http.StatusConflict {
		return errors.Join(ErrRejected, err)
	}
	return err
}

// Client talks to the Stripe API through a per-instance client.API so the
// secret key is not shared through the stripe-go global.
type Client struct {
	api *client.API
}

func NewClient(secretKey string) *Client {
	return &Client{api: client.New(secretKey, nil)}
}

func (c *Client) CreatePaymentIntent(ctx context.Context, in CreateIntentParams) (*Intent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(in.AmountMinor),
		Currency: stripego.String(in.Currency),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	if in.Description != "" {
		params.Description = stripego.String(in.Description)
	}
	if in.TransferGroup != "" {
		params.TransferGroup = stripego.String(in.TransferGroup)
	}
	applyParams(&params.Params, ctx, in.Metadata, in.IdempotencyKey)

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return intentFrom(pi), nil
}

func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe retrieve payment intent %s: %w", id, err)
	}
	return intentFrom(pi), nil
}

func (c *Client) CancelPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripego.PaymentIntentCancelParams{
		CancellationReason: stripego.String(string(stripego.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe cancel payment intent %s: %w", id, classify(err))
	}
	return intentFrom(pi), nil
}

func (c *Client) CreateTransfer(ctx context.Context, in TransferParams) (*Transfer, error) {
	params := &stripego.TransferParams{
		Amount:      stripego.Int64(in.AmountMinor),
		Currency:    stripego.String(in.Currency),
		Destination: stripego.String(in.DestinationAccountID),
	}
	if in.TransferGroup != "" {
		params.TransferGroup = stripego.String(in.TransferGroup)
	}
	applyParams(&params.Params, ctx, in.Metadata, in.IdempotencyKey)

	tr, err := c.api.Transfers.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create transfer: %w", classify(err))
	}
	return TransferFrom(tr), nil
}

// FindTransfer looks up a transfer already made for paymentID within its
// transfer group. It returns nil when there is none.
func (c *Client) FindTransfer(ctx context.Context, transferGroup, paymentID string) (*Transfer, error) {
	params := &stripego.TransferListParams{TransferGroup: stripego.String(transferGroup)}
	params.Context = ctx

	it := c.api.Transfers.List(params)
	for it.Next() {
		if tr := it.Transfer(); tr.Metadata["payment_id"] == paymentID {
			return TransferFrom(tr), nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("stripe list transfers for %s: %w", transferGroup, err)
	}
	return nil, nil
}

func (c *Client) CreateConnectedAccount(ctx context.Context, in AccountParams) (*Account, error) {
	params := &stripego.AccountParams{
		Type:  stripego.String(string(stripego.AccountTypeExpress)),
		Email: stripego.String(in.Email),
		Capabilities: &stripego.AccountCapabilitiesParams{
			Transfers: &stripego.AccountCapabilitiesTransfersParams{
				Requested: stripego.Bool(true),
			},
		},
	}
	if in.Country != "" {
		params.Country = stripego.String(in.Country)
	}
	applyParams(&params.Params, ctx, in.Metadata, in.IdempotencyKey)

	acct, err := c.api.Accounts.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create account: %w", err)
	}
	return AccountFrom(acct), nil
}

func (c *Client) RetrieveAccount(ctx context.Context, id string) (*Account, error) {
	params := &stripego.AccountParams{}
	params.Context = ctx

	acct, err := c.api.Accounts.GetByID(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe retrieve account %s: %w", id, err)
	}
	return AccountFrom(acct), nil
}

func (c *Client) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*OnboardingLink, error) {
	params := &stripego.AccountLinkParams{
		Account:    stripego.String(accountID),
		RefreshURL: stripego.String(refreshURL),
		ReturnURL:  stripego.String(returnURL),
		Type:       stripego.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := c.api.AccountLinks.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create account link: %w", err)
	}
	return &OnboardingLink{URL: link.URL, ExpiresAt: time.Unix(link.ExpiresAt, 0).UTC()}, nil
}

func (c *Client) CreateRefund(ctx context.Context, in RefundParams) (*Refund, error) {
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(in.PaymentIntentID),
	}
	if in.AmountMinor > 0 {
		params.Amount = stripego.Int64(in.AmountMinor)
	}
	if in.Reason != "" {
		params.Reason = stripego.String(in.Reason)
	}
	applyParams(&params.Params, ctx, in.Metadata, in.IdempotencyKey)

	r, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create refund: %w", err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status), AmountMinor: r.Amount}, nil
}

func applyParams(p *stripego.Params, ctx context.Context, metadata map[string]string, idempotencyKey string) {
	p.Context = ctx
	for k, v := range metadata {
		p.AddMetadata(k, v)
	}
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
}

func intentFrom(pi *stripego.PaymentIntent) *Intent {
	out := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.LatestCharge != nil {
		out.LatestChargeID = pi.LatestCharge.ID
	}
	return out
}

// IntentFrom converts a webhook payload object.
func IntentFrom(pi *stripego.PaymentIntent) *Intent {
	return intentFrom(pi)
}

func TransferFrom(tr *stripego.Transfer) *Transfer {
	out := &Transfer{
		ID:                  tr.ID,
		AmountMinor:         tr.Amount,
		AmountReversedMinor: tr.AmountReversed,
		Reversed:            tr.Reversed,
		Metadata:            tr.Metadata,
	}
	if tr.Destination != nil {
		out.DestinationAccountID = tr.Destination.ID
	}
	return out
}

func AccountFrom(acct *stripego.Account) *Account {
	out := &Account{
		ID:               acct.ID,
		DetailsSubmitted: acct.DetailsSubmitted,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		Metadata:         acct.Metadata,
	}
	if acct.Requirements != nil {
		out.RequirementsDue = len(acct.Requirements.CurrentlyDue) > 0 || len(acct.Requirements.PastDue) > 0
	}
	return out
}
