package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/kv"
	"github.com/AyushPandey003/quantcal-auth/internal/models"
)

const (
	failureKeyPrefix    = "sec:fail:"
	blockKeyPrefix      = "sec:block:"
	escalationKeyPrefix = "sec:esc:"
)

// ReputationConfig holds the thresholds driving block escalation.
type ReputationConfig struct {
	// FailureThreshold failed attempts inside FailureWindow trigger a block.
	FailureThreshold int64
	FailureWindow    time.Duration

	// BlockDuration is the length of a temporary block.
	BlockDuration time.Duration

	// PermanentThreshold temporary blocks escalate to a permanent one.
	PermanentThreshold int64

	// EscalationMemory is how long past blocks are remembered. It must
	// exceed BlockDuration or escalation never accumulates.
	EscalationMemory time.Duration
}

// DefaultReputationConfig returns the production thresholds.
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{
		FailureThreshold:   10,
		FailureWindow:      24 * time.Hour,
		BlockDuration:      24 * time.Hour,
		PermanentThreshold: 3,
		EscalationMemory:   30 * 24 * time.Hour,
	}
}

// IPReputationTracker escalates punishment for repeat offenders,
// independent of short-window rate limiting. Per-IP state machine:
//
//	clean -> failures accumulate -> temporary block -> block expires ->
//	more failures -> temporary block ... -> permanent block
//
// The escalation counter survives block expiry, successful logins and
// manual unblocks, so a clean stretch does not erase history.
type IPReputationTracker struct {
	store  kv.Store
	cfg    ReputationConfig
	events *EventRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewIPReputationTracker creates a tracker with the given thresholds.
func NewIPReputationTracker(store kv.Store, cfg ReputationConfig, events *EventRecorder, logger *slog.Logger) *IPReputationTracker {
	return &IPReputationTracker{
		store:  store,
		cfg:    cfg,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// RecordFailure counts one failed attempt for the IP. Reaching the
// failure threshold triggers a block.
func (t *IPReputationTracker) RecordFailure(ctx context.Context, ip string) error {
	key := failureKeyPrefix + ip

	count, err := t.store.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", ip, err)
	}
	if count == 1 {
		if err := t.store.Expire(ctx, key, t.cfg.FailureWindow); err != nil {
			t.logger.Error("failed to set failure counter ttl", slog.String("ip", ip), slog.Any("error", err))
		}
	}

	t.events.Record(ctx, ip, EventFailureRecorded, map[string]string{
		"failed_attempts": strconv.FormatInt(count, 10),
	})

	if count >= t.cfg.FailureThreshold {
		if _, err := t.Block(ctx, ip, "too many failed attempts", t.cfg.BlockDuration); err != nil {
			return err
		}
	}
	return nil
}

// RecordSuccess clears the failure counter for the IP. The escalation
// counter is left untouched: past blocks are remembered even after a
// clean login.
func (t *IPReputationTracker) RecordSuccess(ctx context.Context, ip string) error {
	if err := t.store.Del(ctx, failureKeyPrefix+ip); err != nil {
		return fmt.Errorf("clear failures for %s: %w", ip, err)
	}
	return nil
}

// Block applies a block to the IP, escalating to permanent once the IP
// has collected PermanentThreshold blocks.
func (t *IPReputationTracker) Block(ctx context.Context, ip, reason string, duration time.Duration) (*models.IPBlock, error) {
	escalations, err := t.store.Incr(ctx, escalationKeyPrefix+ip)
	if err != nil {
		return nil, fmt.Errorf("escalate block for %s: %w", ip, err)
	}
	if escalations == 1 {
		if err := t.store.Expire(ctx, escalationKeyPrefix+ip, t.cfg.EscalationMemory); err != nil {
			t.logger.Error("failed to set escalation ttl", slog.String("ip", ip), slog.Any("error", err))
		}
	}

	now := t.now()
	block := &models.IPBlock{
		IP:        ip,
		Type:      models.BlockTemporary,
		Reason:    reason,
		CreatedAt: now,
	}

	var storeTTL time.Duration
	if escalations >= t.cfg.PermanentThreshold {
		block.Type = models.BlockPermanent
		storeTTL = 0 // no expiry; only a manual unblock clears it
	} else {
		expiresAt := now.Add(duration)
		block.ExpiresAt = &expiresAt
		// Keep the record past its logical expiry so CheckBlock can
		// observe and clear it lazily.
		storeTTL = duration * 2
	}

	data, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("marshal block for %s: %w", ip, err)
	}
	if err := t.store.Set(ctx, blockKeyPrefix+ip, string(data), storeTTL); err != nil {
		return nil, fmt.Errorf("store block for %s: %w", ip, err)
	}

	t.logger.Warn("ip blocked",
		slog.String("ip", ip),
		slog.String("type", string(block.Type)),
		slog.String("reason", reason),
		slog.Int64("escalations", escalations))

	t.events.Record(ctx, ip, EventIPBlocked, map[string]string{
		"type":        string(block.Type),
		"reason":      reason,
		"escalations": strconv.FormatInt(escalations, 10),
	})

	return block, nil
}

// CheckBlock reports the block status for an IP. An expired temporary
// block is cleared here (lazy expiry); the escalation counter is
// preserved so the next block still counts toward permanence.
func (t *IPReputationTracker) CheckBlock(ctx context.Context, ip string) (*models.BlockStatus, error) {
	status := &models.BlockStatus{}

	status.FailedAttempts = t.counterValue(ctx, failureKeyPrefix+ip)
	status.Escalations = t.counterValue(ctx, escalationKeyPrefix+ip)

	raw, err := t.store.Get(ctx, blockKeyPrefix+ip)
	if err == kv.ErrNotFound {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check block for %s: %w", ip, err)
	}

	var block models.IPBlock
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		return nil, fmt.Errorf("decode block for %s: %w", ip, err)
	}

	if block.Expired(t.now()) {
		if err := t.store.Del(ctx, blockKeyPrefix+ip); err != nil {
			t.logger.Error("failed to clear expired block", slog.String("ip", ip), slog.Any("error", err))
		}
		t.events.Record(ctx, ip, EventBlockExpired, nil)
		return status, nil
	}

	status.Blocked = true
	status.Type = block.Type
	status.Reason = block.Reason
	status.ExpiresAt = block.ExpiresAt
	return status, nil
}

// ManualBlock is the administrative override. The same escalation rule
// applies, so repeated manual blocks also converge on permanence.
func (t *IPReputationTracker) ManualBlock(ctx context.Context, ip, reason string, duration time.Duration) (*models.IPBlock, error) {
	if duration <= 0 {
		duration = t.cfg.BlockDuration
	}
	return t.Block(ctx, ip, reason, duration)
}

// ManualBlockPermanent pins the IP until an explicit unblock,
// regardless of its escalation history.
func (t *IPReputationTracker) ManualBlockPermanent(ctx context.Context, ip, reason string) (*models.IPBlock, error) {
	block := &models.IPBlock{
		IP:        ip,
		Type:      models.BlockPermanent,
		Reason:    reason,
		CreatedAt: t.now(),
	}

	data, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("marshal block for %s: %w", ip, err)
	}
	if err := t.store.Set(ctx, blockKeyPrefix+ip, string(data), 0); err != nil {
		return nil, fmt.Errorf("store block for %s: %w", ip, err)
	}

	t.logger.Warn("ip blocked",
		slog.String("ip", ip),
		slog.String("type", string(models.BlockPermanent)),
		slog.String("reason", reason))

	t.events.Record(ctx, ip, EventIPBlocked, map[string]string{
		"type":   string(models.BlockPermanent),
		"reason": reason,
	})
	return block, nil
}

// ManualUnblock clears the active block and the failure counter. The
// escalation counter persists: lifting a block is not an amnesty, and
// the next offense still escalates. Use ResetEscalation for deliberate
// forgiveness.
func (t *IPReputationTracker) ManualUnblock(ctx context.Context, ip string) error {
	if err := t.store.Del(ctx, blockKeyPrefix+ip, failureKeyPrefix+ip); err != nil {
		return fmt.Errorf("unblock %s: %w", ip, err)
	}
	t.events.Record(ctx, ip, EventIPUnblocked, nil)
	return nil
}

// ResetEscalation erases the IP's block history. Separate from
// ManualUnblock so that forgetting past blocks is always an explicit
// administrative decision.
func (t *IPReputationTracker) ResetEscalation(ctx context.Context, ip string) error {
	if err := t.store.Del(ctx, escalationKeyPrefix+ip); err != nil {
		return fmt.Errorf("reset escalation for %s: %w", ip, err)
	}
	return nil
}

func (t *IPReputationTracker) counterValue(ctx context.Context, key string) int64 {
	raw, err := t.store.Get(ctx, key)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
