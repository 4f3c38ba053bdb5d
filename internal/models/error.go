package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Security subsystem errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrIPBlocked         = errors.New("ip address is blocked")
	ErrSessionRevoked    = errors.New("session has been revoked")
)
