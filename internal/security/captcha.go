package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CaptchaConfig configures the challenge verifier.
type CaptchaConfig struct {
	SiteKey   string
	Secret    string
	VerifyURL string
	MinScore  float64
	Timeout   time.Duration
}

// ChallengeResult is the local verdict on a challenge token.
type ChallengeResult struct {
	Success bool
	Score   float64
	Action  string
	Error   string
}

// siteverifyResponse mirrors the external service's JSON body.
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

// ChallengeVerifier delegates human/bot scoring to an external
// verification service and applies the local score threshold on top of
// the remote verdict.
type ChallengeVerifier struct {
	cfg    CaptchaConfig
	client *http.Client
	logger *slog.Logger
}

// NewChallengeVerifier creates a verifier. A nil client gets a default
// one bounded by the configured timeout.
func NewChallengeVerifier(cfg CaptchaConfig, client *http.Client, logger *slog.Logger) *ChallengeVerifier {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ChallengeVerifier{cfg: cfg, client: client, logger: logger}
}

// Enabled reports whether verification is configured. Callers skip the
// challenge stage entirely when it is not.
func (v *ChallengeVerifier) Enabled() bool {
	return v.cfg.SiteKey != "" && v.cfg.Secret != ""
}

// Verify sends the response token to the external service and applies
// the score policy. Network and decode errors never propagate as
// errors: they come back as a failed result so the caller's handling is
// uniform.
func (v *ChallengeVerifier) Verify(ctx context.Context, responseToken, remoteIP string) ChallengeResult {
	form := url.Values{}
	form.Set("secret", v.cfg.Secret)
	form.Set("response", responseToken)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return v.failure("verification request could not be built", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return v.failure("verification service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return v.failure(fmt.Sprintf("verification service returned status %d", resp.StatusCode), nil)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return v.failure("verification response could not be decoded", err)
	}

	if !body.Success {
		return ChallengeResult{
			Success: false,
			Action:  body.Action,
			Error:   "verification failed: " + strings.Join(body.ErrorCodes, ", "),
		}
	}

	// The score policy is enforced locally; a structurally valid token
	// with a low trust score is still a failure.
	if body.Score < v.cfg.MinScore {
		return ChallengeResult{
			Success: false,
			Score:   body.Score,
			Action:  body.Action,
			Error:   fmt.Sprintf("score %.2f below required %.2f", body.Score, v.cfg.MinScore),
		}
	}

	return ChallengeResult{
		Success: true,
		Score:   body.Score,
		Action:  body.Action,
	}
}

func (v *ChallengeVerifier) failure(message string, err error) ChallengeResult {
	if err != nil {
		v.logger.Error("challenge verification error", slog.String("reason", message), slog.Any("error", err))
	} else {
		v.logger.Error("challenge verification error", slog.String("reason", message))
	}
	return ChallengeResult{Success: false, Error: message}
}
