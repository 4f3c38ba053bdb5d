package security

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/kv"
	pkghttp "github.com/AyushPandey003/quantcal-auth/pkg/http"
	pkglogger "github.com/AyushPandey003/quantcal-auth/pkg/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	gate    *Gate
	tracker *IPReputationTracker
	counter *TrafficCounter
	mr      *miniredis.Miniredis
}

func newGateFixture(t *testing.T, captcha CaptchaConfig) *gateFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := kv.NewRedisStore(client)
	logger := testLogger()
	events := NewEventRecorder(store, pkglogger.NewAuditLogger(logger), logger, 7*24*time.Hour)
	tracker := NewIPReputationTracker(store, DefaultReputationConfig(), events, logger)
	counter := NewTrafficCounter(store, DefaultQuotas(), logger)
	verifier := NewChallengeVerifier(captcha, nil, logger)

	return &gateFixture{
		gate:    NewGate(tracker, counter, verifier, events, nil, logger),
		tracker: tracker,
		counter: counter,
		mr:      mr,
	}
}

func serveThrough(gate *Gate, cfg GateConfig, req *http.Request) (*httptest.ResponseRecorder, bool) {
	handlerCalled := false
	handler := gate.Protect(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, handlerCalled
}

func decodeDeny(t *testing.T, rec *httptest.ResponseRecorder) pkghttp.DenyResponse {
	t.Helper()
	var deny pkghttp.DenyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&deny))
	return deny
}

func TestGate_AllowsCleanRequest(t *testing.T) {
	f := newGateFixture(t, CaptchaConfig{})

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	rec, called := serveThrough(f.gate, GateConfig{Purpose: PurposeLoginByIP}, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_RateLimitShortCircuitsHandler(t *testing.T) {
	f := newGateFixture(t, CaptchaConfig{})
	cfg := GateConfig{Purpose: PurposeLoginByIP}

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "192.0.2.2:1234"
		_, called := serveThrough(f.gate, cfg, req)
		assert.True(t, called, "request %d should pass", i+1)
	}

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.2:1234"
	rec, called := serveThrough(f.gate, cfg, req)

	assert.False(t, called, "6th attempt must never reach the handler")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	deny := decodeDeny(t, rec)
	assert.False(t, deny.Success)
	assert.Equal(t, pkghttp.CodeRateLimitExceeded, deny.Code)
	assert.NotNil(t, deny.Reset)
}

func TestGate_PermanentBlockDeniesEverything(t *testing.T) {
	f := newGateFixture(t, CaptchaConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.tracker.ManualBlock(ctx, "192.0.2.3", "abuse", time.Hour)
		require.NoError(t, err)
	}

	// Any route config, rate limit state irrelevant: the block wins
	for _, cfg := range []GateConfig{{}, {Purpose: PurposeLoginByIP}, {Purpose: PurposeAPIByIP}} {
		req := httptest.NewRequest("GET", "/anything", nil)
		req.RemoteAddr = "192.0.2.3:9999"

		rec, called := serveThrough(f.gate, cfg, req)
		assert.False(t, called)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		deny := decodeDeny(t, rec)
		assert.Equal(t, pkghttp.CodeIPBlocked, deny.Code)
		assert.Nil(t, deny.Reset, "permanent blocks carry no expiry")
	}
}

func TestGate_TemporaryBlockReportsExpiry(t *testing.T) {
	f := newGateFixture(t, CaptchaConfig{})

	_, err := f.tracker.ManualBlock(context.Background(), "192.0.2.4", "abuse", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/anything", nil)
	req.RemoteAddr = "192.0.2.4:9999"

	rec, _ := serveThrough(f.gate, GateConfig{}, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	deny := decodeDeny(t, rec)
	assert.Equal(t, pkghttp.CodeIPBlocked, deny.Code)
	require.NotNil(t, deny.Reset)
	assert.Greater(t, *deny.Reset, time.Now().UnixMilli())
}

func TestGate_CombinedLoginLimits(t *testing.T) {
	f := newGateFixture(t, CaptchaConfig{})
	cfg := GateConfig{Purpose: PurposeLoginByIP, EmailPurpose: PurposeLoginByEmail}

	// Exhaust the email quota from varying IPs; the shared email is the
	// binding constraint.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"email":"victim@example.com"}`))
		req.RemoteAddr = "203.0.113.10:1234"
		serveThrough(f.gate, cfg, req)
	}

	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"email":"victim@example.com"}`))
	req.RemoteAddr = "203.0.113.99:1234"
	rec, called := serveThrough(f.gate, cfg, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGate_BodyIsPreservedForHandler(t *testing.T) {
	f := newGateFixture(t, CaptchaConfig{})
	cfg := GateConfig{Purpose: PurposeLoginByIP, EmailPurpose: PurposeLoginByEmail}

	payload := `{"email":"user@example.com","password":"hunter2aB1"}`
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(payload))
	req.RemoteAddr = "192.0.2.6:1234"

	var seenBody string
	handler := f.gate.Protect(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seenBody = string(data)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, payload, seenBody, "gate body peek must not consume the body")
}

func TestGate_CaptchaMissingToken(t *testing.T) {
	srv := captchaServer(t, `{"success":true,"score":0.9}`)
	f := newGateFixture(t, CaptchaConfig{SiteKey: "k", Secret: "s", VerifyURL: srv.URL, MinScore: 0.5})

	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{}`))
	req.RemoteAddr = "192.0.2.7:1234"

	rec, called := serveThrough(f.gate, GateConfig{CaptchaAction: "login"}, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, pkghttp.CodeCaptchaMissing, decodeDeny(t, rec).Code)
}

func TestGate_CaptchaLowScore(t *testing.T) {
	srv := captchaServer(t, `{"success":true,"score":0.2,"action":"login"}`)
	f := newGateFixture(t, CaptchaConfig{SiteKey: "k", Secret: "s", VerifyURL: srv.URL, MinScore: 0.5})

	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"recaptchaToken":"tok"}`))
	req.RemoteAddr = "192.0.2.8:1234"

	rec, called := serveThrough(f.gate, GateConfig{CaptchaAction: "login"}, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, pkghttp.CodeCaptchaFailed, decodeDeny(t, rec).Code)
}

func TestGate_CaptchaTokenFromHeader(t *testing.T) {
	srv := captchaServer(t, `{"success":true,"score":0.9,"action":"login"}`)
	f := newGateFixture(t, CaptchaConfig{SiteKey: "k", Secret: "s", VerifyURL: srv.URL, MinScore: 0.5})

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.9:1234"
	req.Header.Set("X-Recaptcha-Token", "tok")

	rec, called := serveThrough(f.gate, GateConfig{CaptchaAction: "login"}, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_SkipsCaptchaWhenVerifierDisabled(t *testing.T) {
	f := newGateFixture(t, CaptchaConfig{}) // no site key or secret

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.10:1234"

	_, called := serveThrough(f.gate, GateConfig{CaptchaAction: "login"}, req)
	assert.True(t, called, "unconfigured verifier must be skipped entirely")
}

func TestGate_BlockCheckPrecedesRateLimit(t *testing.T) {
	f := newGateFixture(t, CaptchaConfig{})
	ctx := context.Background()

	// Exhaust the rate limit, then block the IP: the deny must switch
	// from 429 to 403 because the block check runs first.
	cfg := GateConfig{Purpose: PurposeLoginByIP}
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "192.0.2.11:1234"
		serveThrough(f.gate, cfg, req)
	}

	_, err := f.tracker.ManualBlock(ctx, "192.0.2.11", "abuse", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.11:1234"
	rec, _ := serveThrough(f.gate, cfg, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, pkghttp.CodeIPBlocked, decodeDeny(t, rec).Code)
}
