package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"booking-payments/internal/domain/users"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func authRouter() *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(HMACVerifier{Secret: []byte(testSecret)}))
	r.GET("/me", func(c *gin.Context) {
		id, _ := CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"user": id.UserID, "role": id.Role})
	})
	r.GET("/admin", RequireRole(users.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/staff", RequireAnyRole(users.RoleDoctor, users.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareResolvesIdentity(t *testing.T) {
	r := authRouter()
	token := signToken(t, jwt.MapClaims{
		"sub":   "doc-1",
		"email": "doc@example.test",
		"role":  users.RoleDoctor,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	w := get(r, "/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"doc-1"`)

	assert.Equal(t, http.StatusForbidden, get(r, "/admin", token).Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/staff", token).Code)
}

func TestAuthMiddlewareRejectsBadTokens(t *testing.T) {
	r := authRouter()

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)

	expired := signToken(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()})
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", expired).Code)

	noSubject := signToken(t, jwt.MapClaims{"email": "x@example.test"})
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", noSubject).Code)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u"}).SignedString([]byte("other"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", other).Code)
}

func TestSanitizeCleansNestedStringsAndKeepsNumbers(t *testing.T) {
	r := gin.New()
	r.Use(SanitizeAndCleanInputMiddleware())
	var got string
	r.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		got = string(b)
		c.Status(http.StatusNoContent)
	})

	body := `{"reason":"<script>x</script>late","meta":{"notes":["<b>hi</b>"]},"amount":50.10}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body)))

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, got, "<script>")
	assert.NotContains(t, got, "<b>")
	assert.Contains(t, got, `"amount":50.10`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("")))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("{nope")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireCronSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cases := []struct {
		name   string
		secret string
		hash   string
		header string
		want   int
	}{
		{"open when unconfigured", "", "", "", http.StatusNoContent},
		{"plain match", "s3cret", "", "s3cret", http.StatusNoContent},
		{"plain mismatch", "s3cret", "", "nope", http.StatusUnauthorized},
		{"missing header", "s3cret", "", "", http.StatusUnauthorized},
		{"hash match", "", string(hash), "s3cret", http.StatusNoContent},
		{"hash mismatch", "", string(hash), "s3cre", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/cron", RequireCronSecret(tc.secret, tc.hash), func(c *gin.Context) { c.Status(http.StatusNoContent) })
			req := httptest.NewRequest(http.MethodPost, "/cron", nil)
			if tc.header != "" {
				req.Header.Set(CronSecretHeader, tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
