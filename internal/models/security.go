package models

import "time"

// BlockType classifies an IP block record
type BlockType string

const (
	BlockNone      BlockType = ""
	BlockTemporary BlockType = "temporary"
	BlockPermanent BlockType = "permanent"
)

// IPBlock is the stored record for a blocked IP address.
// ExpiresAt is nil for permanent blocks.
type IPBlock struct {
	IP        string     `json:"ip"`
	Type      BlockType  `json:"type"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether a temporary block has passed its expiry.
// Permanent blocks never expire.
func (b *IPBlock) Expired(now time.Time) bool {
	if b.Type == BlockPermanent || b.ExpiresAt == nil {
		return false
	}
	return now.After(*b.ExpiresAt)
}

// BlockStatus is the answer to a block lookup, including the reputation
// counters that drive escalation decisions.
type BlockStatus struct {
	Blocked        bool       `json:"blocked"`
	Type           BlockType  `json:"type,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	FailedAttempts int64      `json:"failed_attempts"`
	Escalations    int64      `json:"escalations"`
}

// SecurityEvent is an append-only audit record of a notable security
// transition (block applied, quota exhausted, challenge failed).
type SecurityEvent struct {
	IP        string            `json:"ip"`
	Event     string            `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]string `json:"detail,omitempty"`
}
