package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/api/middleware"
	"github.com/storyloom/storyloom-api/internal/config"
	"github.com/storyloom/storyloom-api/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthFixture(t *testing.T) (auth.JWTService, *middleware.AuthMiddleware) {
	t.Helper()

	svc, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            strings.Repeat("k", 32),
		TokenLifetimeMinutes: 60,
	})
	require.NoError(t, err)
	return svc, middleware.NewAuthMiddleware(svc)
}

func TestAuthenticatePassesValidToken(t *testing.T) {
	t.Parallel()

	svc, mw := newAuthFixture(t)
	userID := uuid.New()

	token, err := svc.GenerateToken(context.Background(), userID)
	require.NoError(t, err)

	var gotUserID uuid.UUID
	var found bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, found = middleware.GetUserID(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.Authenticate(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, found)
	assert.Equal(t, userID, gotUserID)
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	t.Parallel()

	_, mw := newAuthFixture(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()

	mw.Authenticate(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateRejectsBadFormat(t *testing.T) {
	t.Parallel()

	_, mw := newAuthFixture(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	})

	for _, header := range []string{"Basic abc", "Bearer", "Bearer a b"} {
		req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()

		mw.Authenticate(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuthenticateRejectsForgedToken(t *testing.T) {
	t.Parallel()

	_, mw := newAuthFixture(t)

	forger, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            strings.Repeat("z", 32),
		TokenLifetimeMinutes: 60,
	})
	require.NoError(t, err)

	token, err := forger.GenerateToken(context.Background(), uuid.New())
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.Authenticate(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
