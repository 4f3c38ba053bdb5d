package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/auth"
	"github.com/AyushPandey003/quantcal-auth/internal/models"
	pkgauth "github.com/AyushPandey003/quantcal-auth/pkg/auth"
	pkglogger "github.com/AyushPandey003/quantcal-auth/pkg/logger"
	"github.com/google/uuid"
)

// UserRepository defines the user persistence operations the service needs
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// SessionRepository defines the session persistence operations
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	FindActiveByToken(ctx context.Context, tokenValue string) (*models.Session, error)
	Rotate(ctx context.Context, sessionID, newToken string, newExpiry time.Time) error
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// ReputationRecorder feeds login outcomes into the IP reputation tracker
type ReputationRecorder interface {
	RecordFailure(ctx context.Context, ip string) error
	RecordSuccess(ctx context.Context, ip string) error
}

// AuthService handles authentication business logic
type AuthService struct {
	users         UserRepository
	sessions      SessionRepository
	reputation    ReputationRecorder
	tm            *auth.TokenManager
	timing        *auth.TimingDelay
	refreshExpiry time.Duration
	logger        *slog.Logger
	auditLogger   *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	sessions SessionRepository,
	reputation ReputationRecorder,
	tm *auth.TokenManager,
	timing *auth.TimingDelay,
	refreshExpiry time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:         users,
		sessions:      sessions,
		reputation:    reputation,
		tm:            tm,
		timing:        timing,
		refreshExpiry: refreshExpiry,
		logger:        logger,
		auditLogger:   auditLogger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// Register creates an account and opens its first session
func (s *AuthService) Register(ctx context.Context, email, password, name, ip, deviceInfo string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, models.ErrBadRequest
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "register",
		UserID:    user.ID,
		IPAddress: ip,
		Success:   true,
	})

	return s.openSession(ctx, user, ip, deviceInfo)
}

// Login authenticates a user and returns tokens. Failures are reported
// as a uniform ErrUnauthorized: the caller never learns whether the
// account exists.
func (s *AuthService) Login(ctx context.Context, email, password, ip, deviceInfo string) (*AuthResponse, error) {
	start := time.Now()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.loginFailed(ctx, "", ip, "invalid_credentials", start)
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, s.loginFailed(ctx, user.ID, ip, "invalid_credentials", start)
	}

	if err := s.reputation.RecordSuccess(ctx, ip); err != nil {
		// Reputation bookkeeping is best effort on the success path
		s.logger.Error("failed to record login success", slog.String("ip", ip), slog.Any("error", err))
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: ip,
		Success:   true,
	})

	return s.openSession(ctx, user, ip, deviceInfo)
}

// Refresh rotates a refresh token, reusing the same session row.
// Store errors on the session lookup are treated as "not
// authenticated": the primary auth decision fails closed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string) (*AuthResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshToken)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}
	if claims.Type != auth.TokenTypeRefresh {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	session, err := s.sessions.FindActiveByToken(ctx, refreshToken)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("session lookup failed, treating as unauthenticated", slog.Any("error", err))
		}
		return nil, models.ErrUnauthorized
	}
	if session.UserID != claims.UserID {
		s.logger.Warn("refresh token user mismatch", slog.String("session_id", session.ID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	// Invalidate tokens issued before a password change
	if user.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(*user.PasswordChangedAt) {
		s.logger.Info("refresh blocked: token predates password change", slog.String("user_id", user.ID))
		return nil, models.ErrUnauthorized
	}

	accessToken, newRefreshToken, err := s.issueTokens(user, session.ID)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	if err := s.sessions.Rotate(ctx, session.ID, newRefreshToken, time.Now().Add(s.refreshExpiry)); err != nil {
		s.logger.Error("failed to rotate session", slog.String("session_id", session.ID), slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// Logout revokes the session holding the given refresh token
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.sessions.FindActiveByToken(ctx, refreshToken)
	if err != nil {
		// Already revoked or unknown: logout is idempotent
		return nil
	}

	if err := s.sessions.Revoke(ctx, session.ID); err != nil {
		s.logger.Error("failed to revoke session", slog.String("session_id", session.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout",
		UserID:    session.UserID,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every session of a user
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.Error("failed to revoke all sessions", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout_all",
		UserID:    userID,
		Success:   true,
	})
	return nil
}

// GetProfile loads the user backing an authenticated request
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load user profile", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every session of the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.ErrBadRequest
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.Error("failed to revoke sessions after password change", slog.String("user_id", userID), slog.Any("error", err))
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "password_changed",
		UserID:    userID,
		Success:   true,
	})
	return nil
}

// RequestPasswordReset records the request. The response to the caller
// is identical whether or not the account exists.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, ip string) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "password_reset_requested",
			IPAddress:     ip,
			Success:       false,
			FailureReason: "unknown_account",
		})
		return
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "password_reset_requested",
		UserID:    user.ID,
		IPAddress: ip,
		Success:   true,
	})
}

func (s *AuthService) loginFailed(ctx context.Context, userID, ip, reason string, start time.Time) error {
	if err := s.reputation.RecordFailure(ctx, ip); err != nil {
		s.logger.Error("failed to record login failure", slog.String("ip", ip), slog.Any("error", err))
	}

	s.logger.Info("login failed: invalid credentials")
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		IPAddress:     ip,
		FailureReason: reason,
		Success:       false,
	})

	if s.timing != nil {
		s.timing.WaitFrom(start, false)
	}
	return models.ErrUnauthorized
}

func (s *AuthService) openSession(ctx context.Context, user *models.User, ip, deviceInfo string) (*AuthResponse, error) {
	sessionID := uuid.New().String()

	accessToken, refreshToken, err := s.issueTokens(user, sessionID)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	_, err = s.sessions.Create(ctx, &models.Session{
		ID:           sessionID,
		UserID:       user.ID,
		RefreshToken: refreshToken,
		DeviceInfo:   deviceInfo,
		IPAddress:    ip,
		ExpiresAt:    time.Now().Add(s.refreshExpiry),
	})
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
	}, nil
}

func (s *AuthService) issueTokens(user *models.User, sessionID string) (string, string, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email, user.Role, sessionID)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return "", "", err
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email, user.Role, sessionID)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
}
