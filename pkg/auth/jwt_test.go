package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_GenerateToken(t *testing.T) {
	service := NewJWTService("test-secret-key-min-32-characters-long", "test-issuer", time.Hour)

	token, err := service.GenerateToken("dev-42", "dev@example.com")

	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestJWTService_ValidateToken(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		duration time.Duration
		wantErr  error
	}{
		{
			name:     "valid token",
			userID:   "dev-42",
			duration: time.Hour,
			wantErr:  nil,
		},
		{
			name:     "expired token",
			userID:   "dev-42",
			duration: -time.Hour, // Already expired
			wantErr:  ErrExpiredToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewJWTService("test-secret-key-min-32-characters-long", "test-issuer", tt.duration)

			token, err := service.GenerateToken(tt.userID, "dev@example.com")
			require.NoError(t, err)

			claims, err := service.ValidateToken(token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.userID, claims.UserID)
			assert.Equal(t, "test-issuer", claims.Issuer)
		})
	}
}

func TestJWTService_ValidateToken_WrongSecret(t *testing.T) {
	service := NewJWTService("test-secret-key-min-32-characters-long", "test-issuer", time.Hour)
	other := NewJWTService("another-secret-key-also-32-chars-xx", "test-issuer", time.Hour)

	token, err := service.GenerateToken("dev-42", "")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_ValidateToken_Garbage(t *testing.T) {
	service := NewJWTService("test-secret-key-min-32-characters-long", "test-issuer", time.Hour)

	_, err := service.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Resolve(t *testing.T) {
	service := NewJWTService("test-secret-key-min-32-characters-long", "test-issuer", time.Hour)

	token, err := service.GenerateToken("dev-42", "")
	require.NoError(t, err)

	userID, err := service.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "dev-42", userID)

	_, err = service.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingClaims)
}

func TestJWTService_RefreshToken(t *testing.T) {
	service := NewJWTService("test-secret-key-min-32-characters-long", "test-issuer", time.Hour)

	token, err := service.GenerateToken("dev-42", "dev@example.com")
	require.NoError(t, err)

	refreshed, err := service.RefreshToken(token)
	require.NoError(t, err)

	claims, err := service.ValidateToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "dev-42", claims.UserID)
}
