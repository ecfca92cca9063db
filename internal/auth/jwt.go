package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/camfinder/camfinder/internal/clock"
)

// DefaultTokenTTL is how long operator tokens are valid when no TTL is configured.
const DefaultTokenTTL = 12 * time.Hour

// Predefined token errors.
var (
	ErrInvalidToken = errors.New("invalid operator token")
	ErrTokenExpired = errors.New("operator token has expired")
)

// OperatorClaims are the claims carried by operator tokens.
type OperatorClaims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}

// JWTService issues and validates HS256 operator tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	clock      clock.Clock
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the HMAC secret.
	SigningKey string

	Issuer   string
	Audience string

	// TTL is the token lifetime. Default: DefaultTokenTTL.
	TTL time.Duration

	Clock clock.Clock
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig) *JWTService {
	s := &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ttl:        cfg.TTL,
		clock:      cfg.Clock,
	}
	if s.issuer == "" {
		s.issuer = "camfinder"
	}
	if s.audience == "" {
		s.audience = "camfinder-admin"
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	return s
}

// GenerateToken creates a signed token for subject.
func (s *JWTService) GenerateToken(subject string) (string, time.Time, error) {
	if len(s.signingKey) == 0 {
		return "", time.Time{}, errors.New("signing key not configured")
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)

	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Role: OperatorSubject,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing operator token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a token and returns its claims.
func (s *JWTService) ValidateToken(tokenString string) (*OperatorClaims, error) {
	if len(s.signingKey) == 0 {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid || claims.Role != OperatorSubject {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
