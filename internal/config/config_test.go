package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Auth.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("AccessTokenExpiry: got %v, want 15m", cfg.Auth.AccessTokenExpiry)
	}
	if cfg.Auth.RefreshTokenExpiry != 7*24*time.Hour {
		t.Errorf("RefreshTokenExpiry: got %v, want 168h", cfg.Auth.RefreshTokenExpiry)
	}
	if cfg.Auth.AccessCookieMaxAge != 86400 {
		t.Errorf("AccessCookieMaxAge: got %d, want 86400", cfg.Auth.AccessCookieMaxAge)
	}
	if cfg.Auth.RefreshCookieMaxAge != 2592000 {
		t.Errorf("RefreshCookieMaxAge: got %d, want 2592000", cfg.Auth.RefreshCookieMaxAge)
	}
	if cfg.Security.FailureThreshold != 10 {
		t.Errorf("FailureThreshold: got %d, want 10", cfg.Security.FailureThreshold)
	}
	if cfg.Security.PermanentThreshold != 3 {
		t.Errorf("PermanentThreshold: got %d, want 3", cfg.Security.PermanentThreshold)
	}
	if cfg.Captcha.MinScore != 0.5 {
		t.Errorf("MinScore: got %v, want 0.5", cfg.Captcha.MinScore)
	}
}

func TestLoad_CustomSecurityValues(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("IP_FAILURE_THRESHOLD", "5")
	os.Setenv("IP_BLOCK_DURATION", "1h")
	os.Setenv("RECAPTCHA_MIN_SCORE", "0.7")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Security.FailureThreshold != 5 {
		t.Errorf("FailureThreshold: got %d, want 5", cfg.Security.FailureThreshold)
	}
	if cfg.Security.BlockDuration != time.Hour {
		t.Errorf("BlockDuration: got %v, want 1h", cfg.Security.BlockDuration)
	}
	if cfg.Captcha.MinScore != 0.7 {
		t.Errorf("MinScore: got %v, want 0.7", cfg.Captcha.MinScore)
	}
}

func TestLoad_RejectsMissingJWTSecret(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without JWT_SECRET")
	}
}

func TestLoad_RejectsShortSecretInProduction(t *testing.T) {
	os.Setenv("JWT_SECRET", "short-secret-16c")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("ENV", "production")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted a 16-char secret in production")
	}
}

func TestLoad_RejectsInvalidMinScore(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("RECAPTCHA_MIN_SCORE", "1.5")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted min score outside [0,1]")
	}
}
