package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestVerifyAccessToken(t *testing.T) {
	t.Parallel()

	v := NewVerifier(testSecret)
	userID := uuid.New()

	t.Run("ValidToken", func(t *testing.T) {
		t.Parallel()
		token, err := SignAccessToken(testSecret, userID, time.Hour)
		require.NoError(t, err)

		got, err := v.VerifyAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, userID, got)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		t.Parallel()
		token, err := SignAccessToken(testSecret, userID, -time.Minute)
		require.NoError(t, err)

		_, err = v.VerifyAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		t.Parallel()
		token, err := SignAccessToken("other-secret", userID, time.Hour)
		require.NoError(t, err)

		_, err = v.VerifyAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("RefreshTokenRejected", func(t *testing.T) {
		t.Parallel()
		claims := Claims{
			TokenType: "refresh",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID.String(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = v.VerifyAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("MissingSubjectRejected", func(t *testing.T) {
		t.Parallel()
		claims := Claims{
			TokenType: accessTokenType,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = v.VerifyAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("GarbageRejected", func(t *testing.T) {
		t.Parallel()
		_, err := v.VerifyAccessToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
