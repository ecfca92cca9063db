package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfinder/camfinder/internal/auth"
	"github.com/camfinder/camfinder/internal/clock"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newJWT(key, issuer, audience string, clk clock.Clock) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: key,
		Issuer:     issuer,
		Audience:   audience,
		TTL:        time.Hour,
		Clock:      clk,
	})
}

func TestJWTService_GenerateAndValidateToken(t *testing.T) {
	svc := newJWT("test-secret-key-for-testing-only", "camfinder", "camfinder-admin", clock.NewFake(t0))

	token, expiresAt, err := svc.GenerateToken(auth.OperatorSubject)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, t0.Add(time.Hour), expiresAt)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, auth.OperatorSubject, claims.Subject)
	assert.Equal(t, auth.OperatorSubject, claims.Role)
	assert.Equal(t, "camfinder", claims.Issuer)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newJWT("test-secret-key-for-testing-only", "camfinder", "camfinder-admin", nil)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestJWTService_Expired(t *testing.T) {
	clk := clock.NewFake(t0)
	svc := newJWT("key", "camfinder", "camfinder-admin", clk)

	token, _, err := svc.GenerateToken(auth.OperatorSubject)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestJWTService_Mismatch(t *testing.T) {
	clk := clock.NewFake(t0)
	issuer := newJWT("key-one", "camfinder", "camfinder-admin", clk)
	token, _, err := issuer.GenerateToken(auth.OperatorSubject)
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier *auth.JWTService
	}{
		{"wrong key", newJWT("key-two", "camfinder", "camfinder-admin", clk)},
		{"wrong issuer", newJWT("key-one", "other", "camfinder-admin", clk)},
		{"wrong audience", newJWT("key-one", "camfinder", "other", clk)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.ValidateToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestJWTService_RejectsOtherAlgorithms(t *testing.T) {
	svc := newJWT("key", "camfinder", "camfinder-admin", nil)

	claims := auth.OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "camfinder",
			Subject:   auth.OperatorSubject,
			Audience:  jwt.ClaimStrings{"camfinder-admin"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: auth.OperatorSubject,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWTService_NoSigningKeyFailsClosed(t *testing.T) {
	svc := newJWT("", "camfinder", "camfinder-admin", nil)

	_, _, err := svc.GenerateToken(auth.OperatorSubject)
	assert.Error(t, err)

	_, err = svc.ValidateToken("anything")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
