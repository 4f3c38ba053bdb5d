package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlockAdmin struct {
	status *models.BlockStatus

	blockedIP       string
	blockedDuration time.Duration
	permanentIP     string
	unblockedIP     string
	resetIP         string
}

func (f *fakeBlockAdmin) CheckBlock(_ context.Context, ip string) (*models.BlockStatus, error) {
	if f.status != nil {
		return f.status, nil
	}
	return &models.BlockStatus{}, nil
}

func (f *fakeBlockAdmin) ManualBlock(_ context.Context, ip, reason string, duration time.Duration) (*models.IPBlock, error) {
	f.blockedIP = ip
	f.blockedDuration = duration
	expires := time.Now().Add(duration)
	return &models.IPBlock{IP: ip, Type: models.BlockTemporary, Reason: reason, ExpiresAt: &expires}, nil
}

func (f *fakeBlockAdmin) ManualBlockPermanent(_ context.Context, ip, reason string) (*models.IPBlock, error) {
	f.permanentIP = ip
	return &models.IPBlock{IP: ip, Type: models.BlockPermanent, Reason: reason}, nil
}

func (f *fakeBlockAdmin) ManualUnblock(_ context.Context, ip string) error {
	f.unblockedIP = ip
	return nil
}

func (f *fakeBlockAdmin) ResetEscalation(_ context.Context, ip string) error {
	f.resetIP = ip
	return nil
}

type fakeEventReader struct {
	events []models.SecurityEvent
}

func (f *fakeEventReader) Recent(_ context.Context, ip string, limit int64) ([]models.SecurityEvent, error) {
	return f.events, nil
}

func adminRouter(blocks *fakeBlockAdmin, events *fakeEventReader) *chi.Mux {
	h := NewAdminHandler(blocks, events)
	r := chi.NewRouter()
	r.Get("/admin/blocks/{ip}", h.GetBlock)
	r.Post("/admin/blocks", h.CreateBlock)
	r.Delete("/admin/blocks/{ip}", h.DeleteBlock)
	r.Delete("/admin/blocks/{ip}/escalation", h.ResetEscalation)
	return r
}

func TestGetBlockIncludesEvents(t *testing.T) {
	blocks := &fakeBlockAdmin{status: &models.BlockStatus{
		Blocked:        true,
		Type:           models.BlockTemporary,
		Reason:         "too many failed attempts",
		FailedAttempts: 10,
		Escalations:    1,
	}}
	events := &fakeEventReader{events: []models.SecurityEvent{
		{IP: "203.0.113.9", Event: "ip_blocked"},
	}}

	req := httptest.NewRequest(http.MethodGet, "/admin/blocks/203.0.113.9", nil)
	rec := httptest.NewRecorder()
	adminRouter(blocks, events).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp BlockDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Blocked)
	assert.Equal(t, "203.0.113.9", resp.IP)
	assert.Len(t, resp.Events, 1)
	assert.Equal(t, int64(1), resp.Escalations)
}

func TestCreateBlockTemporary(t *testing.T) {
	blocks := &fakeBlockAdmin{}

	body, _ := json.Marshal(ManualBlockRequest{
		IP:              "203.0.113.9",
		Reason:          "abusive scanner",
		DurationMinutes: 60,
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/blocks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	adminRouter(blocks, &fakeEventReader{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "203.0.113.9", blocks.blockedIP)
	assert.Equal(t, time.Hour, blocks.blockedDuration)
	assert.Empty(t, blocks.permanentIP)
}

func TestCreateBlockPermanent(t *testing.T) {
	blocks := &fakeBlockAdmin{}

	body, _ := json.Marshal(ManualBlockRequest{
		IP:        "203.0.113.9",
		Reason:    "known botnet node",
		Permanent: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/blocks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	adminRouter(blocks, &fakeEventReader{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "203.0.113.9", blocks.permanentIP)
	assert.Empty(t, blocks.blockedIP)
}

func TestCreateBlockRejectsInvalidIP(t *testing.T) {
	body, _ := json.Marshal(ManualBlockRequest{IP: "not-an-ip", Reason: "whatever"})
	req := httptest.NewRequest(http.MethodPost, "/admin/blocks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	adminRouter(&fakeBlockAdmin{}, &fakeEventReader{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteBlock(t *testing.T) {
	blocks := &fakeBlockAdmin{}

	req := httptest.NewRequest(http.MethodDelete, "/admin/blocks/203.0.113.9", nil)
	rec := httptest.NewRecorder()
	adminRouter(blocks, &fakeEventReader{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "203.0.113.9", blocks.unblockedIP)
	assert.Empty(t, blocks.resetIP, "unblock must not clear escalation history")
}

func TestResetEscalation(t *testing.T) {
	blocks := &fakeBlockAdmin{}

	req := httptest.NewRequest(http.MethodDelete, "/admin/blocks/203.0.113.9/escalation", nil)
	rec := httptest.NewRecorder()
	adminRouter(blocks, &fakeEventReader{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "203.0.113.9", blocks.resetIP)
}
