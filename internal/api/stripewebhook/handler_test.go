package stripewebhooks

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"booking-payments/internal/domain/billing"
	"booking-payments/internal/domain/users"
	"booking-payments/internal/infra/events"
	"booking-payments/internal/infra/stripe"
	"booking-payments/internal/repository"
	"booking-payments/internal/services/commission"
	"booking-payments/internal/services/payments"
	"booking-payments/internal/services/payouts"
	"booking-payments/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v75/webhook"
	"go.uber.org/zap"
)

const whsec = "whsec_test"

type recorder struct {
	mu       sync.Mutex
	confirms []payments.ConfirmInput
	failed   []string
	refunds  []payments.RefundInput
	created  []string
	reversed []int64
	synced   []*stripe.Account

	err error
}

func (r *recorder) ConfirmPayment(_ context.Context, in payments.ConfirmInput) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirms = append(r.confirms, in)
	return &billing.Payment{}, r.err
}

func (r *recorder) MarkPaymentFailed(_ context.Context, intentID, _, reason string) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, intentID+":"+reason)
	return &billing.Payment{}, r.err
}

func (r *recorder) ReconcileRefund(_ context.Context, in payments.RefundInput) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunds = append(r.refunds, in)
	return &billing.Payment{}, r.err
}

func (r *recorder) ConfirmTransfer(_ context.Context, transferID, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, transferID+":"+paymentID)
	return r.err
}

func (r *recorder) ReverseTransfer(_ context.Context, _, _ string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reversed = append(r.reversed, amount)
	return r.err
}

func (r *recorder) SyncAccount(_ context.Context, acct *stripe.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = append(r.synced, acct)
	return r.err
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirms) + len(r.failed) + len(r.refunds) + len(r.created) + len(r.reversed) + len(r.synced)
}

func newRouter(t *testing.T, rec *recorder) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	h := NewHandler(whsec, rec, rec, rec, repository.NewWebhookEventRepository(db), zap.NewNop())
	r := gin.New()
	r.POST("/webhook", h.StripeWebhook)
	return r
}

func eventJSON(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2023-08-16","data":{"object":%s}}`, id, eventType, object))
}

func post(r http.Handler, payload []byte, secret string) *httptest.ResponseRecorder {
	now := time.Now()
	sig := hex.EncodeToString(webhook.ComputeSignature(now, payload, secret))
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), sig))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	rec := &recorder{}
	r := newRouter(t, rec)

	payload := eventJSON("evt_1", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent"}`)
	w := post(r, payload, "whsec_wrong")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, rec.calls())

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, rec.calls())
}

func TestWebhookDispatchesByType(t *testing.T) {
	rec := &recorder{}
	r := newRouter(t, rec)

	cases := []struct {
		id, typ, object string
	}{
		{"evt_a", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent","latest_charge":"ch_1","metadata":{"appointment_id":"appt_1"}}`},
		{"evt_b", "payment_intent.payment_failed", `{"id":"pi_2","object":"payment_intent","last_payment_error":{"message":"card declined"}}`},
		{"evt_c", "charge.refunded", `{"id":"ch_3","object":"charge","payment_intent":"pi_3","amount":5000,"amount_refunded":2000,"refunded":false}`},
		{"evt_d", "transfer.created", `{"id":"tr_4","object":"transfer","metadata":{"payment_id":"pay_4"}}`},
		{"evt_e", "transfer.reversed", `{"id":"tr_5","object":"transfer","amount_reversed":4850,"reversed":true,"metadata":{"payment_id":"pay_5"}}`},
		{"evt_f", "account.updated", `{"id":"acct_6","object":"account","details_submitted":true,"payouts_enabled":true,"charges_enabled":true}`},
	}
	for _, tc := range cases {
		w := post(r, eventJSON(tc.id, tc.typ, tc.object), whsec)
		require.Equal(t, http.StatusOK, w.Code, tc.typ)
		assert.Contains(t, w.Body.String(), "received", tc.typ)
	}

	require.Len(t, rec.confirms, 1)
	assert.Equal(t, payments.ConfirmInput{PaymentIntentID: "pi_1", ChargeID: "ch_1", AppointmentID: "appt_1"}, rec.confirms[0])
	assert.Equal(t, []string{"pi_2:card declined"}, rec.failed)
	require.Len(t, rec.refunds, 1)
	assert.Equal(t, int64(2000), rec.refunds[0].AmountRefundedMinor)
	assert.Equal(t, "pi_3", rec.refunds[0].PaymentIntentID)
	assert.False(t, rec.refunds[0].FullyRefunded)
	assert.Equal(t, []string{"tr_4:pay_4"}, rec.created)
	assert.Equal(t, []int64{4850}, rec.reversed)
	require.Len(t, rec.synced, 1)
	assert.True(t, rec.synced[0].PayoutsEnabled)
}

func TestWebhookDeduplicatesAndIgnores(t *testing.T) {
	rec := &recorder{}
	r := newRouter(t, rec)

	payload := eventJSON("evt_dup", "transfer.created", `{"id":"tr_1","object":"transfer","metadata":{"payment_id":"pay_1"}}`)
	require.Equal(t, http.StatusOK, post(r, payload, whsec).Code)
	w := post(r, payload, whsec)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate")
	assert.Len(t, rec.created, 1)

	w = post(r, eventJSON("evt_other", "customer.created", `{"id":"cus_1","object":"customer"}`), whsec)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}

func TestWebhookFailureIsRetriedNotRecorded(t *testing.T) {
	rec := &recorder{err: fmt.Errorf("db down")}
	r := newRouter(t, rec)

	payload := eventJSON("evt_retry", "transfer.created", `{"id":"tr_1","object":"transfer","metadata":{"payment_id":"pay_1"}}`)
	assert.Equal(t, http.StatusInternalServerError, post(r, payload, whsec).Code)

	rec.err = nil
	w := post(r, payload, whsec)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "received")
	assert.Len(t, rec.created, 2)
}

func TestWebhookAcknowledgesUnknownPayment(t *testing.T) {
	rec := &recorder{err: fmt.Errorf("payment for intent pi_x: %w", billing.ErrNotFound)}
	r := newRouter(t, rec)

	w := post(r, eventJSON("evt_unknown", "payment_intent.succeeded", `{"id":"pi_x","object":"payment_intent"}`), whsec)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookAcknowledgesCaptureOnFailedPayment(t *testing.T) {
	rec := &recorder{err: fmt.Errorf("payment pay_1 is FAILED: %w", billing.ErrConflict)}
	r := newRouter(t, rec)

	object := `{"id":"pi_failed","object":"payment_intent","latest_charge":"ch_1","metadata":{"appointment_id":"appt_1"}}`
	w := post(r, eventJSON("evt_conflict", "payment_intent.succeeded", object), whsec)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.confirms, 1)
	assert.Equal(t, "ch_1", rec.confirms[0].ChargeID)
	assert.Equal(t, "appt_1", rec.confirms[0].AppointmentID)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	rec := &recorder{}
	r := newRouter(t, rec)

	padding := strings.Repeat("x", maxBodyBytes)
	payload := eventJSON("evt_big", "account.updated", fmt.Sprintf(`{"id":"acct_1","object":"account","metadata":{"pad":%q}}`, padding))
	w := post(r, payload, whsec)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, rec.calls())
}

func TestWebhookBadPayloadAfterValidSignature(t *testing.T) {
	rec := &recorder{}
	r := newRouter(t, rec)

	w := post(r, eventJSON("evt_bad", "charge.refunded", `{"id":"ch_1","amount_refunded":"lots"}`), whsec)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, rec.calls())
}

func TestWebhookConfirmsPaymentEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	log := zap.NewNop()

	patient := testutil.SeedUser(t, db, users.RolePatient)
	doctor := testutil.SeedUser(t, db, users.RoleDoctor)
	appt := testutil.SeedAppointment(t, db, patient.ID, doctor.ID, "50.00", time.Now().Add(48*time.Hour).Truncate(time.Second))

	paymentRepo := repository.NewPaymentRepository(db)
	provider := testutil.NewFakeProvider()
	pub := &testutil.RecordingPublisher{}
	payoutSvc := payouts.NewService(payouts.Deps{
		Payments:     paymentRepo,
		Payouts:      repository.NewPayoutRepository(db, paymentRepo),
		Accounts:     repository.NewAccountRepository(db),
		Appointments: repository.NewAppointmentRepository(db),
		Users:        repository.NewUserRepository(db),
		Provider:     provider,
		Events:       pub,
		Log:          log,
	}, payouts.Config{})
	paymentSvc := payments.NewService(payments.Deps{
		Payments:     paymentRepo,
		Appointments: repository.NewAppointmentRepository(db),
		Users:        repository.NewUserRepository(db),
		Provider:     provider,
		Commission: commission.NewService(repository.NewSettingsRepository(db), nil, commission.Config{
			Default: decimal.NewFromInt(3), Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(10),
		}, log),
		Payouts: payoutSvc,
		Events:  pub,
		Log:     log,
	})

	res, err := paymentSvc.CreatePaymentIntent(context.Background(),
		users.Identity{UserID: patient.ID, Role: users.RolePatient},
		payments.CreateIntentInput{AppointmentID: appt.ID})
	require.NoError(t, err)

	h := NewHandler(whsec, paymentSvc, payoutSvc, &recorder{}, repository.NewWebhookEventRepository(db), log)
	r := gin.New()
	r.POST("/webhook", h.StripeWebhook)

	object := fmt.Sprintf(`{"id":%q,"object":"payment_intent","status":"succeeded","latest_charge":"ch_e2e","metadata":{"appointment_id":%q}}`,
		res.PaymentIntentID, appt.ID)
	require.Equal(t, http.StatusOK, post(r, eventJSON("evt_e2e_1", "payment_intent.succeeded", object), whsec).Code)
	require.Equal(t, http.StatusOK, post(r, eventJSON("evt_e2e_2", "payment_intent.succeeded", object), whsec).Code)

	stored, err := paymentRepo.FindByAppointmentID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentCompleted, stored.Status)
	assert.True(t, stored.PatientPaid)
	assert.Equal(t, "1.50", stored.CommissionAmount.StringFixed(2))
	assert.Equal(t, "48.50", stored.DoctorPayoutAmount.StringFixed(2))
	require.NotNil(t, stored.PayoutScheduledAt)
	assert.False(t, stored.PayoutScheduledAt.Before(appt.EndsAt()))
	assert.Equal(t, 1, pub.CountType(events.TypePaymentCompleted))

	late := fmt.Sprintf(`{"id":%q,"object":"payment_intent","last_payment_error":{"message":"late"}}`, res.PaymentIntentID)
	require.Equal(t, http.StatusOK, post(r, eventJSON("evt_e2e_3", "payment_intent.payment_failed", late), whsec).Code)
	stored, err = paymentRepo.FindByAppointmentID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentCompleted, stored.Status)
}
