package models

import "time"

// Session represents a persisted refresh-token session.
// One row per login; token rotation on refresh updates the same row.
type Session struct {
	ID           string     `db:"id"`
	UserID       string     `db:"user_id"`
	RefreshToken string     `db:"refresh_token"`
	DeviceInfo   string     `db:"device_info"`
	IPAddress    string     `db:"ip_address"`
	IsActive     bool       `db:"is_active"`
	ExpiresAt    time.Time  `db:"expires_at"`
	LastUsedAt   *time.Time `db:"last_used_at"`
	CreatedAt    time.Time  `db:"created_at"`
}
