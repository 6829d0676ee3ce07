package routes_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"booking-payments/internal/app"
	routes "booking-payments/internal/app/http"
	"booking-payments/internal/app/http/middleware"
	"booking-payments/internal/domain/billing"
	"booking-payments/internal/domain/users"
	"booking-payments/internal/services/commission"
	"booking-payments/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	jwtSecret  = "routes-secret"
	cronSecret = "cron-secret"
)

type env struct {
	router   *gin.Engine
	provider *testutil.FakeProvider
	tokens   map[string]string
	ids      map[string]string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	provider := testutil.NewFakeProvider()

	c := app.New(app.Infra{
		DB:       db,
		Provider: provider,
		Mailer:   &testutil.RecordingMailer{},
		Events:   &testutil.RecordingPublisher{},
		Log:      zap.NewNop(),
	}, app.Settings{
		Currency:      "usd",
		AppURL:        "https://app.example.test",
		WebhookSecret: "whsec_routes",
		Commission: commission.Config{
			Default: decimal.NewFromInt(3),
			Min:     decimal.NewFromInt(1),
			Max:     decimal.NewFromInt(10),
		},
	})

	r := gin.New()
	routes.RegisterRoutes(r, c.Handlers, routes.Options{
		Verifier:   middleware.HMACVerifier{Secret: []byte(jwtSecret)},
		CronSecret: cronSecret,
	})

	e := &env{router: r, provider: provider, tokens: map[string]string{}, ids: map[string]string{}}
	for _, role := range []string{users.RolePatient, users.RoleDoctor, users.RoleAdmin} {
		u := testutil.SeedUser(t, db, role)
		e.ids[role] = u.ID
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  u.ID,
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(jwtSecret))
		require.NoError(t, err)
		e.tokens[role] = token
	}

	appt := testutil.SeedAppointment(t, db, e.ids[users.RolePatient], e.ids[users.RoleDoctor], "50.00", time.Now().Add(-2*time.Hour).Truncate(time.Second))
	e.ids["appointment"] = appt.ID
	testutil.SeedActiveAccount(t, db, e.ids[users.RoleDoctor])
	return e
}

func (e *env) do(method, path, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) cron() *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/cron/payouts", nil)
	req.Header.Set(middleware.CronSecretHeader, cronSecret)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	apptID := e.ids["appointment"]

	w := e.do(http.MethodPost, "/payments/intent", "", gin.H{"appointmentId": apptID})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPost, "/payments/intent", users.RoleDoctor, gin.H{"appointmentId": apptID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodPost, "/payments/intent", users.RolePatient, gin.H{"appointmentId": apptID, "appointmentPrice": "50.00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var intent struct {
		ClientSecret    string `json:"clientSecret"`
		PaymentIntentID string `json:"paymentIntentId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &intent))
	assert.NotEmpty(t, intent.ClientSecret)

	w = e.do(http.MethodPost, "/payments/confirm", users.RolePatient, gin.H{"paymentIntentId": intent.PaymentIntentID})
	assert.Equal(t, http.StatusConflict, w.Code, "unpaid intent cannot be confirmed")

	e.provider.Succeed(intent.PaymentIntentID)
	w = e.do(http.MethodPost, "/payments/confirm", users.RolePatient, gin.H{"paymentIntentId": intent.PaymentIntentID, "appointmentId": apptID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), string(billing.PaymentCompleted))

	w = e.do(http.MethodPost, "/payments/intent", users.RolePatient, gin.H{"appointmentId": apptID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already_paid")

	w = e.do(http.MethodGet, "/payments/appointment/"+apptID, users.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p billing.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.True(t, p.CommissionAmount.Equal(decimal.RequireFromString("1.50")))
	assert.True(t, p.DoctorPayoutAmount.Equal(decimal.RequireFromString("48.50")))

	w = e.cron()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"processed":1`)
	assert.Equal(t, 1, e.provider.TransferCount())

	w = e.cron()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed":0`)
	assert.Equal(t, 1, e.provider.TransferCount())

	w = e.do(http.MethodGet, "/doctor/payouts", users.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(billing.PayoutTransferred))

	w = e.do(http.MethodGet, "/admin/stats", users.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Gross      decimal.Decimal `json:"gross"`
		NetRevenue decimal.Decimal `json:"net_revenue"`
		PaidOut    decimal.Decimal `json:"paid_out"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.True(t, stats.Gross.Equal(decimal.NewFromInt(50)), stats.Gross.String())
	assert.True(t, stats.NetRevenue.Equal(decimal.RequireFromString("1.5")), stats.NetRevenue.String())
	assert.True(t, stats.PaidOut.Equal(decimal.RequireFromString("48.5")), stats.PaidOut.String())
}

func TestRouteGuards(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/admin/stats", users.RoleDoctor, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/doctor/payouts", users.RolePatient, nil).Code)

	w := e.do(http.MethodPost, "/doctor/payment-account", users.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), string(billing.AccountActive))
	assert.Zero(t, e.provider.LinksCreated, "active accounts need no onboarding link")

	req := httptest.NewRequest(http.MethodPost, "/cron/payouts", nil)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminCommissionAndSchedule(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPut, "/admin/commission", users.RoleAdmin, gin.H{"commissionPercentage": "12"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")

	w = e.do(http.MethodPut, "/admin/commission", users.RoleAdmin, gin.H{"commissionPercentage": "5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/admin/commission", users.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var setting billing.CommissionSetting
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &setting))
	assert.True(t, setting.CommissionPercentage.Equal(decimal.NewFromInt(5)))

	w = e.do(http.MethodPut, "/admin/payouts/missing/schedule", users.RoleAdmin, gin.H{"payoutScheduledAt": time.Now().UTC().Format(time.RFC3339)})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodPut, "/admin/payouts/missing/schedule", users.RoleAdmin, gin.H{"payoutScheduledAt": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/admin/payments?status=BOGUS", users.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
