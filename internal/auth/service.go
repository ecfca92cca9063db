package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when the operator password does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service authenticates the operator.
type Service struct {
	jwtService   *JWTService
	passwordHash []byte
	logger       zerolog.Logger
}

// ServiceConfig holds configuration for the auth service.
type ServiceConfig struct {
	JWTService *JWTService

	// PasswordHash is a bcrypt hash of the operator password.
	PasswordHash string

	// Password is a plaintext password, hashed at startup.
	// Ignored when PasswordHash is set. Meant for local development.
	Password string

	Logger zerolog.Logger
}

// NewService creates a new auth service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.JWTService == nil {
		return nil, errors.New("jwt service is required")
	}

	var hash []byte
	switch {
	case cfg.PasswordHash != "":
		hash = []byte(cfg.PasswordHash)
		if _, err := bcrypt.Cost(hash); err != nil {
			return nil, fmt.Errorf("invalid operator password hash: %w", err)
		}
	case cfg.Password != "":
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing operator password: %w", err)
		}
	default:
		return nil, errors.New("operator password is not configured")
	}

	return &Service{
		jwtService:   cfg.JWTService,
		passwordHash: hash,
		logger:       cfg.Logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Login checks the operator password and issues a token.
func (s *Service) Login(_ context.Context, password string) (*TokenResponse, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		s.logger.Warn().Msg("operator login failed")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwtService.GenerateToken(OperatorSubject)
	if err != nil {
		return nil, fmt.Errorf("generating operator token: %w", err)
	}

	s.logger.Info().Time("expires_at", expiresAt).Msg("operator logged in")

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwtService.ttl.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateToken validates an operator token and returns its subject.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	claims, err := s.jwtService.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
