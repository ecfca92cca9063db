package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/camfinder/camfinder/internal/api/models"
	"github.com/camfinder/camfinder/internal/api/response"
	"github.com/camfinder/camfinder/internal/auth"
)

// AuthHandler handles operator authentication.
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler creates a new AuthHandler. A nil service disables login.
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Login handles POST /v1/auth/login - exchange the operator password for a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.authService == nil {
		response.ServiceUnavailable(w, r, "operator login is not configured")
		return
	}

	var req models.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	tokenResp, err := h.authService.Login(r.Context(), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			zerolog.Ctx(r.Context()).Warn().Msg("operator login rejected")
			response.Unauthorized(w, r, "invalid credentials")
			return
		}
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, tokenResp)
}
