package models

import "time"

// User represents an account in the system
type User struct {
	ID           string     `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	Name         string     `db:"name"`
	Role         string     `db:"role"`
	PasswordChangedAt *time.Time `db:"password_changed_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
