package auth_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/config"
	"github.com/storyloom/storyloom-api/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) auth.JWTService {
	t.Helper()

	svc, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            strings.Repeat("s", 32),
		TokenLifetimeMinutes: 60,
	})
	require.NoError(t, err)
	return svc
}

func TestGenerateAndValidateToken(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	userID := uuid.New()

	token, err := svc.GenerateToken(context.Background(), userID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.ValidateToken(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	}
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	t.Parallel()

	issuer := newTestService(t)
	verifier, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            strings.Repeat("x", 32),
		TokenLifetimeMinutes: 60,
	})
	require.NoError(t, err)

	token, err := issuer.GenerateToken(context.Background(), uuid.New())
	require.NoError(t, err)

	_, err = verifier.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	t.Parallel()

	_, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            "too-short",
		TokenLifetimeMinutes: 60,
	})
	require.Error(t, err)
}
