package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/kv"
)

// Purpose names a logical rate-limit bucket. Each purpose has its own
// window and quota; the key (IP, email, user id) scopes the counter.
type Purpose string

const (
	PurposeLoginByIP            Purpose = "login_ip"
	PurposeLoginByEmail         Purpose = "login_email"
	PurposeRegisterByIP         Purpose = "register_ip"
	PurposePasswordResetByEmail Purpose = "pwreset_email"
	PurposeAPIByIP              Purpose = "api_ip"
	PurposeCaptchaFailuresByIP  Purpose = "captcha_fail_ip"
)

// Quota pairs a window duration with the maximum requests allowed in it.
type Quota struct {
	Window time.Duration
	Max    int64
}

// Quotas maps purposes to their configured limits.
type Quotas map[Purpose]Quota

// DefaultQuotas returns the production limits.
func DefaultQuotas() Quotas {
	return Quotas{
		PurposeLoginByIP:            {Window: 5 * time.Minute, Max: 5},
		PurposeLoginByEmail:         {Window: 15 * time.Minute, Max: 3},
		PurposeRegisterByIP:         {Window: 10 * time.Minute, Max: 3},
		PurposePasswordResetByEmail: {Window: time.Hour, Max: 3},
		PurposeAPIByIP:              {Window: time.Minute, Max: 60},
		PurposeCaptchaFailuresByIP:  {Window: 10 * time.Minute, Max: 5},
	}
}

// LimitResult reports the outcome of a quota check.
type LimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// TrafficCounter enforces sliding-window quotas on the KV store. The
// store's atomic increment is the only synchronization; no app-level
// locks are taken.
type TrafficCounter struct {
	store  kv.Store
	quotas Quotas
	logger *slog.Logger
	now    func() time.Time
}

// NewTrafficCounter creates a TrafficCounter with the given quotas.
func NewTrafficCounter(store kv.Store, quotas Quotas, logger *slog.Logger) *TrafficCounter {
	return &TrafficCounter{
		store:  store,
		quotas: quotas,
		logger: logger,
		now:    time.Now,
	}
}

// CheckAndConsume counts this request against the (purpose, key) bucket
// and reports whether it is allowed. A denied attempt still consumes
// quota: there is no decrement on rejection.
//
// Store failures fail open with an error log. Unlimited traffic during
// a store outage beats taking every caller down with it; primary
// authentication decisions stay fail-closed elsewhere.
func (c *TrafficCounter) CheckAndConsume(ctx context.Context, purpose Purpose, key string) LimitResult {
	quota, ok := c.quotas[purpose]
	if !ok {
		c.logger.Error("rate limit check for unconfigured purpose", slog.String("purpose", string(purpose)))
		return LimitResult{Allowed: true}
	}
	return c.consume(ctx, counterKey(purpose, key), quota)
}

// CheckCustom counts against an ad-hoc bucket with an explicit quota,
// used for per-resource-type creation limits.
func (c *TrafficCounter) CheckCustom(ctx context.Context, bucket, key string, quota Quota) LimitResult {
	return c.consume(ctx, counterKey(Purpose(bucket), key), quota)
}

// CheckLogin consults both the IP-scoped and email-scoped login
// counters. The request is denied if either is exhausted; remaining is
// the minimum of the two and the reset is the later one, so a client
// waits out the stricter constraint.
func (c *TrafficCounter) CheckLogin(ctx context.Context, ip, email string) LimitResult {
	byIP := c.CheckAndConsume(ctx, PurposeLoginByIP, ip)
	byEmail := c.CheckAndConsume(ctx, PurposeLoginByEmail, email)
	return combineLimits(byIP, byEmail)
}

func (c *TrafficCounter) consume(ctx context.Context, key string, quota Quota) LimitResult {
	count, err := c.store.Incr(ctx, key)
	if err != nil {
		c.logger.Error("rate limit store unavailable, failing open",
			slog.String("key", key),
			slog.Any("error", err))
		return LimitResult{Allowed: true, Limit: quota.Max, Remaining: quota.Max, ResetAt: c.now().Add(quota.Window)}
	}

	resetAt := c.now().Add(quota.Window)
	if count == 1 {
		if err := c.store.Expire(ctx, key, quota.Window); err != nil {
			c.logger.Error("failed to set rate limit window",
				slog.String("key", key),
				slog.Any("error", err))
		}
	} else {
		ttl, err := c.store.TTL(ctx, key)
		if err == nil && ttl > 0 {
			resetAt = c.now().Add(ttl)
		} else if err == nil && ttl < 0 {
			// Counter lost its expiry (e.g. partial failure on a prior
			// request). Re-arm the window rather than counting forever.
			if err := c.store.Expire(ctx, key, quota.Window); err != nil {
				c.logger.Error("failed to re-arm rate limit window",
					slog.String("key", key),
					slog.Any("error", err))
			}
		}
	}

	remaining := quota.Max - count
	if remaining < 0 {
		remaining = 0
	}

	return LimitResult{
		Allowed:   count <= quota.Max,
		Limit:     quota.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func counterKey(purpose Purpose, key string) string {
	return fmt.Sprintf("sec:rl:%s:%s", purpose, key)
}
