// Package security implements the request-admission core: sliding-window
// rate limiting, escalating IP blocks, challenge verification and the
// gate middleware that composes them.
package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/kv"
	"github.com/AyushPandey003/quantcal-auth/internal/models"
	pkglogger "github.com/AyushPandey003/quantcal-auth/pkg/logger"
)

const eventKeyPrefix = "sec:events:"

// Security event names emitted by the subsystems
const (
	EventRateLimitHit     = "rate_limit_exceeded"
	EventIPBlocked        = "ip_blocked"
	EventIPUnblocked      = "ip_unblocked"
	EventBlockExpired     = "block_expired"
	EventCaptchaFailed    = "captcha_failed"
	EventCaptchaSucceeded = "captcha_succeeded"
	EventFailureRecorded  = "failed_attempt"
)

// EventRecorder appends security events to a per-IP trail in the KV
// store and mirrors them to the audit log. Recording is best effort: a
// store failure is logged and swallowed, never surfaced to the request
// path.
type EventRecorder struct {
	store  kv.Store
	audit  *pkglogger.AuditLogger
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewEventRecorder creates an EventRecorder with the given trail TTL.
func NewEventRecorder(store kv.Store, audit *pkglogger.AuditLogger, logger *slog.Logger, ttl time.Duration) *EventRecorder {
	return &EventRecorder{
		store:  store,
		audit:  audit,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Record persists one event and writes the matching audit entry.
func (r *EventRecorder) Record(ctx context.Context, ip, event string, detail map[string]string) {
	r.audit.LogSecurityEvent(pkglogger.AuditEvent{
		EventType: event,
		IPAddress: ip,
		Success:   event == EventCaptchaSucceeded || event == EventIPUnblocked,
		Metadata:  detail,
	})

	entry := models.SecurityEvent{
		IP:        ip,
		Event:     event,
		Timestamp: r.now().UTC(),
		Detail:    detail,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error("failed to marshal security event", slog.Any("error", err))
		return
	}

	if err := r.store.Append(ctx, eventKeyPrefix+ip, string(data), r.ttl); err != nil {
		r.logger.Error("failed to persist security event",
			slog.String("ip", ip),
			slog.String("event", event),
			slog.Any("error", err))
	}
}

// Recent returns up to limit most recent events for an IP.
func (r *EventRecorder) Recent(ctx context.Context, ip string, limit int64) ([]models.SecurityEvent, error) {
	raw, err := r.store.Range(ctx, eventKeyPrefix+ip, -limit, -1)
	if err != nil {
		return nil, err
	}

	events := make([]models.SecurityEvent, 0, len(raw))
	for _, item := range raw {
		var event models.SecurityEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
