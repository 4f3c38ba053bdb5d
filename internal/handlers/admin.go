package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/models"
	pkghttp "github.com/AyushPandey003/quantcal-auth/pkg/http"
	"github.com/go-chi/chi/v5"
)

// BlockAdminInterface defines the reputation operations exposed to admins
type BlockAdminInterface interface {
	CheckBlock(ctx context.Context, ip string) (*models.BlockStatus, error)
	ManualBlock(ctx context.Context, ip, reason string, duration time.Duration) (*models.IPBlock, error)
	ManualBlockPermanent(ctx context.Context, ip, reason string) (*models.IPBlock, error)
	ManualUnblock(ctx context.Context, ip string) error
	ResetEscalation(ctx context.Context, ip string) error
}

// EventReaderInterface reads the recent security event trail for an IP
type EventReaderInterface interface {
	Recent(ctx context.Context, ip string, limit int64) ([]models.SecurityEvent, error)
}

// AdminHandler handles IP block management requests
type AdminHandler struct {
	blocks BlockAdminInterface
	events EventReaderInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(blocks BlockAdminInterface, events EventReaderInterface) *AdminHandler {
	return &AdminHandler{blocks: blocks, events: events}
}

// ManualBlockRequest represents the request body for blocking an IP.
// DurationMinutes of zero applies the default block duration; Permanent
// overrides it.
type ManualBlockRequest struct {
	IP              string `json:"ip" validate:"required,ip"`
	Reason          string `json:"reason" validate:"required,min=3,max=200"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0"`
	Permanent       bool   `json:"permanent"`
}

// BlockDetailResponse combines block status with the recent event trail
type BlockDetailResponse struct {
	*models.BlockStatus
	IP     string                 `json:"ip"`
	Events []models.SecurityEvent `json:"events"`
}

// GetBlock returns the block status and recent security events for an IP
func (h *AdminHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		pkghttp.WriteBadRequest(w, "Missing IP address")
		return
	}

	status, err := h.blocks.CheckBlock(r.Context(), ip)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	events, err := h.events.Recent(r.Context(), ip, 50)
	if err != nil {
		events = nil
	}

	pkghttp.WriteJSON(w, http.StatusOK, BlockDetailResponse{
		BlockStatus: status,
		IP:          ip,
		Events:      events,
	})
}

// CreateBlock applies a manual block to an IP
func (h *AdminHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req ManualBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var block *models.IPBlock
	var err error
	if req.Permanent {
		block, err = h.blocks.ManualBlockPermanent(r.Context(), req.IP, req.Reason)
	} else {
		block, err = h.blocks.ManualBlock(r.Context(), req.IP, req.Reason, time.Duration(req.DurationMinutes)*time.Minute)
	}
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, block)
}

// DeleteBlock removes a block from an IP. The escalation history is
// kept; use ResetEscalation to clear it.
func (h *AdminHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		pkghttp.WriteBadRequest(w, "Missing IP address")
		return
	}

	if err := h.blocks.ManualUnblock(r.Context(), ip); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "IP unblocked"})
}

// ResetEscalation clears the escalation counter for an IP
func (h *AdminHandler) ResetEscalation(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		pkghttp.WriteBadRequest(w, "Missing IP address")
		return
	}

	if err := h.blocks.ResetEscalation(r.Context(), ip); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Escalation history cleared"})
}
