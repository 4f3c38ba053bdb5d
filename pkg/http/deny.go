package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Deny codes reported by the admission gate
const (
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeIPBlocked         = "IP_BLOCKED"
	CodeCaptchaFailed     = "RECAPTCHA_FAILED"
	CodeCaptchaMissing    = "RECAPTCHA_MISSING"
)

// DenyResponse is the wire format for gate rejections
type DenyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Reset   *int64 `json:"reset,omitempty"` // epoch milliseconds
}

// WriteRateLimited writes a 429 with the standard rate-limit headers.
// resetAt drives X-RateLimit-Reset and Retry-After.
func WriteRateLimited(w http.ResponseWriter, message string, limit, remaining int64, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.UnixMilli(), 10))

	if retryAfter := time.Until(resetAt); retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
	}

	reset := resetAt.UnixMilli()
	writeDeny(w, http.StatusTooManyRequests, DenyResponse{
		Message: message,
		Code:    CodeRateLimitExceeded,
		Reset:   &reset,
	})
}

// WriteIPBlocked writes a 403 for a blocked IP. expiresAt is nil for
// permanent blocks.
func WriteIPBlocked(w http.ResponseWriter, message string, expiresAt *time.Time) {
	resp := DenyResponse{
		Message: message,
		Code:    CodeIPBlocked,
	}
	if expiresAt != nil {
		reset := expiresAt.UnixMilli()
		resp.Reset = &reset

		if retryAfter := time.Until(*expiresAt); retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
		}
	}
	writeDeny(w, http.StatusForbidden, resp)
}

// WriteCaptchaMissing writes a 400 for a request lacking a challenge token.
func WriteCaptchaMissing(w http.ResponseWriter, message string) {
	writeDeny(w, http.StatusBadRequest, DenyResponse{
		Message: message,
		Code:    CodeCaptchaMissing,
	})
}

// WriteCaptchaFailed writes a 400 for a failed or low-score challenge.
func WriteCaptchaFailed(w http.ResponseWriter, message string) {
	writeDeny(w, http.StatusBadRequest, DenyResponse{
		Message: message,
		Code:    CodeCaptchaFailed,
	})
}

func writeDeny(w http.ResponseWriter, statusCode int, resp DenyResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
