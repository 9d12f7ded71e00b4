package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/brightline-labs/voicecore/internal/api/handlers"
	"github.com/brightline-labs/voicecore/internal/queue"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

func signedToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRouter_HealthIsUnauthenticated(t *testing.T) {
	r := New(&Config{Logger: logging.Default()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CreateCallRequiresBearerToken(t *testing.T) {
	callHandler := handlers.NewCallHandler(nil, queue.NewMemoryQueue(1), logging.Default())
	r := New(&Config{Logger: logging.Default(), CallHandler: callHandler, JWTSecret: "test-secret"})

	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{"phone_number":"+15551234567"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_CreateCallAcceptsValidBearerToken(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	callHandler := handlers.NewCallHandler(nil, q, logging.Default())
	r := New(&Config{Logger: logging.Default(), CallHandler: callHandler, JWTSecret: "test-secret"})

	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{"phone_number":"+15551234567"}`))
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}
