package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/database"
	"github.com/AyushPandey003/quantcal-auth/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository persists refresh-token sessions.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

const sessionColumns = "id, user_id, refresh_token, device_info, ip_address, is_active, expires_at, last_used_at, created_at"

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var session models.Session
	var lastUsedAt *time.Time

	err := scanner.Scan(
		&session.ID, &session.UserID, &session.RefreshToken,
		&session.DeviceInfo, &session.IPAddress, &session.IsActive,
		&session.ExpiresAt, &lastUsedAt, &session.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	session.LastUsedAt = lastUsedAt
	return &session, nil
}

// Create inserts a new session row. Always additive: an account may
// hold several concurrent sessions (one per device).
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token, device_info, ip_address, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		RETURNING ` + sessionColumns

	created, err := scanSessionRow(r.pool.QueryRow(ctx, query,
		session.ID, session.UserID, session.RefreshToken,
		session.DeviceInfo, session.IPAddress, session.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// FindActiveByToken returns the active, unexpired session holding the
// given refresh token value.
func (r *SessionRepository) FindActiveByToken(ctx context.Context, tokenValue string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE refresh_token = $1 AND is_active AND expires_at > NOW()
	`
	return scanSessionRow(r.pool.QueryRow(ctx, query, tokenValue))
}

// Rotate swaps in a new refresh token value on the same row. Refresh
// must never insert a second row, or repeated refreshes would grow the
// table without bound.
func (r *SessionRepository) Rotate(ctx context.Context, sessionID, newToken string, newExpiry time.Time) error {
	query := `
		UPDATE sessions
		SET refresh_token = $2, expires_at = $3, last_used_at = NOW()
		WHERE id = $1 AND is_active
	`

	tag, err := r.pool.Exec(ctx, query, sessionID, newToken, newExpiry)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Revoke deactivates one session
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET is_active = FALSE WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RevokeAllForUser deactivates every session of a user. Used on
// logout-all, password change and password reset.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active`

	_, err := r.pool.Exec(ctx, query, userID)
	return database.MapPostgresError(err)
}

// DeleteExpired removes rows past their expiry; run by the background
// cleaner.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < NOW()`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
