// Package auth authenticates the operator console.
package auth

import "time"

// OperatorSubject is the subject of every operator token.
const OperatorSubject = "operator"

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	// AccessToken is the bearer token for the operator endpoints.
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the number of seconds until the token expires.
	ExpiresIn int64 `json:"expires_in"`

	ExpiresAt time.Time `json:"expires_at"`
}
