package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"booking-payments/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStatusMapsWrappedSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("appointment 1: %w", billing.ErrAlreadyPaid), http.StatusConflict, "already_paid"},
		{&billing.ValidationError{Field: "amount", Message: "must be positive"}, http.StatusBadRequest, "validation_failed"},
		{fmt.Errorf("payment x: %w", billing.ErrForbidden), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: timeout", billing.ErrProvider), http.StatusBadGateway, "provider_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, code := Status(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestRespondIncludesFieldAndHidesInternals(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	Respond(c, zap.NewNop(), &billing.ValidationError{Field: "appointmentPrice", Message: "does not match"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "appointmentPrice", body["field"])
	assert.Equal(t, "does not match", body["message"])

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	Respond(c, zap.NewNop(), errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}
