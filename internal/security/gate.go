package security

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	pkghttp "github.com/AyushPandey003/quantcal-auth/pkg/http"
)

// maxPeekBytes bounds how much of a request body the gate will read to
// extract the email and challenge token fields.
const maxPeekBytes = 64 << 10

// GateConfig describes which admission stages a route enables.
type GateConfig struct {
	// SkipBlockCheck disables stage 1. Set on per-route gates nested
	// under a router-wide gate that already ran the block check.
	SkipBlockCheck bool

	// Purpose enables an IP-keyed rate limit for stage 2.
	Purpose Purpose

	// EmailPurpose adds an email-keyed limit, combined with Purpose per
	// the stricter-constraint rule. The email comes from the request
	// body's "email" field.
	EmailPurpose Purpose

	// CaptchaAction enables stage 3 with the expected action name.
	CaptchaAction string
}

// Gate composes the IP reputation tracker, traffic counter and
// challenge verifier into a single admission decision, in a fixed
// order: block check, rate limit, challenge. The first denying stage
// short-circuits with one structured response and one security event.
// The gate never authenticates; passing it only means "no objection".
type Gate struct {
	tracker  *IPReputationTracker
	counter  *TrafficCounter
	verifier *ChallengeVerifier
	events   *EventRecorder
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewGate creates a Gate over the given subsystems.
func NewGate(tracker *IPReputationTracker, counter *TrafficCounter, verifier *ChallengeVerifier, events *EventRecorder, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *Gate {
	return &Gate{
		tracker:  tracker,
		counter:  counter,
		verifier: verifier,
		events:   events,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Protect returns the admission middleware for one route configuration.
func (g *Gate) Protect(cfg GateConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ClientIP(r, g.ipConfig)
			ctx := r.Context()

			// Stage 1: IP block check (fast reject)
			if !cfg.SkipBlockCheck && !g.checkBlock(ctx, w, ip) {
				return
			}

			// Stage 2: purpose-specific rate limits
			if cfg.Purpose != "" || cfg.EmailPurpose != "" {
				if !g.checkLimits(ctx, w, r, cfg, ip) {
					return
				}
			}

			// Stage 3: challenge verification
			if cfg.CaptchaAction != "" && g.verifier.Enabled() {
				if !g.checkChallenge(ctx, w, r, cfg, ip) {
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// checkBlock runs stage 1; returns false when the request was denied.
func (g *Gate) checkBlock(ctx context.Context, w http.ResponseWriter, ip string) bool {
	status, err := g.tracker.CheckBlock(ctx, ip)
	if err != nil {
		// Best-effort stage: store trouble must not take the API down.
		g.logger.Error("block check unavailable, failing open", slog.String("ip", ip), slog.Any("error", err))
		return true
	}
	if !status.Blocked {
		return true
	}

	g.events.Record(ctx, ip, EventIPBlocked, map[string]string{
		"stage": "gate",
		"type":  string(status.Type),
	})

	message := "access denied: this address is permanently blocked"
	if status.ExpiresAt != nil {
		message = "access denied: this address is temporarily blocked"
	}
	pkghttp.WriteIPBlocked(w, message, status.ExpiresAt)
	return false
}

// checkLimits runs stage 2; returns false when the request was denied.
func (g *Gate) checkLimits(ctx context.Context, w http.ResponseWriter, r *http.Request, cfg GateConfig, ip string) bool {
	var result LimitResult

	switch {
	case cfg.Purpose != "" && cfg.EmailPurpose != "":
		email := g.peekField(r, "email")
		if email == "" {
			// No email to key on; the IP-scoped limit still applies.
			result = g.counter.CheckAndConsume(ctx, cfg.Purpose, ip)
		} else {
			ipResult := g.counter.CheckAndConsume(ctx, cfg.Purpose, ip)
			emailResult := g.counter.CheckAndConsume(ctx, cfg.EmailPurpose, email)
			result = combineLimits(ipResult, emailResult)
		}
	case cfg.EmailPurpose != "":
		email := g.peekField(r, "email")
		if email == "" {
			return true // handler will reject the malformed request
		}
		result = g.counter.CheckAndConsume(ctx, cfg.EmailPurpose, email)
	default:
		result = g.counter.CheckAndConsume(ctx, cfg.Purpose, ip)
	}

	if result.Allowed {
		return true
	}

	g.events.Record(ctx, ip, EventRateLimitHit, map[string]string{
		"purpose": string(cfg.Purpose),
		"limit":   strconv.FormatInt(result.Limit, 10),
	})

	pkghttp.WriteRateLimited(w, "too many requests, slow down", result.Limit, result.Remaining, result.ResetAt)
	return false
}

// checkChallenge runs stage 3; returns false when the request was denied.
func (g *Gate) checkChallenge(ctx context.Context, w http.ResponseWriter, r *http.Request, cfg GateConfig, ip string) bool {
	token := r.Header.Get("X-Recaptcha-Token")
	if token == "" {
		token = g.peekField(r, "recaptchaToken")
	}
	if token == "" {
		g.events.Record(ctx, ip, EventCaptchaFailed, map[string]string{
			"action": cfg.CaptchaAction,
			"reason": "missing token",
		})
		pkghttp.WriteCaptchaMissing(w, "verification token is required")
		return false
	}

	result := g.verifier.Verify(ctx, token, ip)
	if result.Success {
		g.events.Record(ctx, ip, EventCaptchaSucceeded, map[string]string{
			"action": cfg.CaptchaAction,
			"score":  fmt.Sprintf("%.2f", result.Score),
		})
		return true
	}

	g.events.Record(ctx, ip, EventCaptchaFailed, map[string]string{
		"action": cfg.CaptchaAction,
		"reason": result.Error,
	})

	// Repeated challenge failures count against the IP's reputation.
	failures := g.counter.CheckAndConsume(ctx, PurposeCaptchaFailuresByIP, ip)
	if !failures.Allowed {
		if err := g.tracker.RecordFailure(ctx, ip); err != nil {
			g.logger.Error("failed to record challenge abuse", slog.String("ip", ip), slog.Any("error", err))
		}
	}

	pkghttp.WriteCaptchaFailed(w, "verification failed")
	return false
}

// peekField reads a top-level string field out of a JSON body without
// consuming it: the body is re-buffered for the downstream handler.
func (g *Gate) peekField(r *http.Request, field string) string {
	if r.Body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}

	var value string
	if raw, ok := body[field]; ok {
		_ = json.Unmarshal(raw, &value)
	}
	return value
}

// combineLimits merges two limit results: deny if either denies, report
// the smaller remaining and the later reset so clients wait out the
// stricter constraint.
func combineLimits(a, b LimitResult) LimitResult {
	combined := LimitResult{
		Allowed:   a.Allowed && b.Allowed,
		Limit:     a.Limit,
		Remaining: a.Remaining,
		ResetAt:   a.ResetAt,
	}
	if b.Remaining < combined.Remaining {
		combined.Remaining = b.Remaining
		combined.Limit = b.Limit
	}
	if b.ResetAt.After(combined.ResetAt) {
		combined.ResetAt = b.ResetAt
	}
	return combined
}
