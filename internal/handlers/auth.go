package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/AyushPandey003/quantcal-auth/internal/auth"
	"github.com/AyushPandey003/quantcal-auth/internal/models"
	"github.com/AyushPandey003/quantcal-auth/internal/services"
	pkghttp "github.com/AyushPandey003/quantcal-auth/pkg/http"
)

// AuthServiceInterface defines the auth business logic the handler needs
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, name, ip, deviceInfo string) (*services.AuthResponse, error)
	Login(ctx context.Context, email, password, ip, deviceInfo string) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken, ip string) (*services.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
	RequestPasswordReset(ctx context.Context, email, ip string)
}

// CookieSettings carries the cookie attributes and lifetimes for token cookies
type CookieSettings struct {
	Config        auth.CookieConfig
	AccessMaxAge  int
	RefreshMaxAge int
}

// AuthHandler handles authentication HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	cookies  CookieSettings
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, cookies CookieSettings) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		cookies:  cookies,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest represents the optional request body for token refresh.
// The refresh token may also arrive in a cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// PasswordResetRequest represents the request body for a reset request
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	ip := pkghttp.ClientIP(r, h.ipConfig)
	resp, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name, ip, r.Header.Get("User-Agent"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Email is already registered")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.setCookies(w, resp)
	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ip := pkghttp.ClientIP(r, h.ipConfig)
	resp, err := h.service.Login(r.Context(), req.Email, req.Password, ip, r.Header.Get("User-Agent"))
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.setCookies(w, resp)
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Refresh handles token refresh. The refresh token is read from the
// cookie when present, otherwise from the request body.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := h.refreshTokenFrom(r)
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Missing refresh token")
		return
	}

	ip := pkghttp.ClientIP(r, h.ipConfig)
	resp, err := h.service.Refresh(r.Context(), token, ip)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			auth.ClearTokenCookies(w, h.cookies.Config)
			pkghttp.WriteUnauthorized(w, "Invalid or expired refresh token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.setCookies(w, resp)
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Logout revokes the current session and clears cookies
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := h.refreshTokenFrom(r); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	auth.ClearTokenCookies(w, h.cookies.Config)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// LogoutAll revokes every session of the authenticated user
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.UserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearTokenCookies(w, h.cookies.Config)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "All sessions revoked"})
}

// RequestPasswordReset accepts a reset request. The response is the
// same whether or not the account exists.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ClientIP(r, h.ipConfig)
	h.service.RequestPasswordReset(r.Context(), req.Email, ip)

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the email is registered, reset instructions will be sent.",
	})
}

func (h *AuthHandler) setCookies(w http.ResponseWriter, resp *services.AuthResponse) {
	auth.SetTokenCookies(w, resp.AccessToken, resp.RefreshToken,
		h.cookies.AccessMaxAge, h.cookies.RefreshMaxAge, h.cookies.Config)
}

func (h *AuthHandler) refreshTokenFrom(r *http.Request) string {
	if token, err := auth.RefreshTokenFromRequest(r); err == nil && token != "" {
		return token
	}

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return strings.TrimSpace(req.RefreshToken)
	}
	return ""
}
