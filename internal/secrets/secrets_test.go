package secrets

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func setValidEnv(t *testing.T) {
	t.Setenv("KITE_API_KEY", "testapikey123")
	t.Setenv("KITE_API_SECRET", "testapisecret456")
	t.Setenv("KITE_REDIRECT_URI", "https://example.com/callback")
	t.Setenv("KITE_MOBILE", "9876543210")
	t.Setenv("KITE_TOTP_SEED", "GEZDGNBVGEZDGNBVGEZDGNBVGEZDGNBV")
	t.Setenv("KITE_MPIN", "123456")
	t.Setenv("KITE_ACCESS_TOKEN", "")
	t.Setenv("KITE_ACCESS_TOKEN_EXPIRY", "")
}

func TestLoadValidBundle(t *testing.T) {
	setValidEnv(t)

	b, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b.APIKey != "testapikey123" {
		t.Errorf("Expected api key to round-trip, got %q", b.APIKey)
	}
	if b.HasCachedToken(time.Now()) {
		t.Error("Expected no cached token")
	}
}

func TestLoadMissingField(t *testing.T) {
	setValidEnv(t)
	t.Setenv("KITE_API_SECRET", "")

	_, err := Load()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if ce.Field != "KITE_API_SECRET" {
		t.Errorf("Expected KITE_API_SECRET, got %s", ce.Field)
	}
}

func TestLoadBadTOTPSeed(t *testing.T) {
	setValidEnv(t)
	t.Setenv("KITE_TOTP_SEED", "not-base32-1890")

	_, err := Load()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if ce.Field != "KITE_TOTP_SEED" {
		t.Errorf("Expected KITE_TOTP_SEED, got %s", ce.Field)
	}
}

func TestLoadInsecureRedirect(t *testing.T) {
	setValidEnv(t)
	t.Setenv("KITE_REDIRECT_URI", "http://example.com/callback")

	_, err := Load()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if ce.Field != "KITE_REDIRECT_URI" {
		t.Errorf("Expected KITE_REDIRECT_URI, got %s", ce.Field)
	}
}

func TestLoadBadMPIN(t *testing.T) {
	setValidEnv(t)
	t.Setenv("KITE_MPIN", "12ab56")

	_, err := Load()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
}

func TestCachedTokenAdoption(t *testing.T) {
	setValidEnv(t)
	t.Setenv("KITE_ACCESS_TOKEN", "cachedtoken")
	t.Setenv("KITE_ACCESS_TOKEN_EXPIRY", time.Now().Add(2*time.Hour).Format(time.RFC3339))

	b, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !b.HasCachedToken(time.Now()) {
		t.Error("Expected cached token to be adoptable")
	}
	if b.HasCachedToken(time.Now().Add(3 * time.Hour)) {
		t.Error("Expected cached token to be stale past its expiry")
	}
}

func TestRedactedNeverLeaksSecrets(t *testing.T) {
	setValidEnv(t)

	b, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	red := b.Redacted()
	for field, v := range red {
		if field == "redirect_uri" || field == "api_key" {
			continue
		}
		if strings.Contains(v, "testapisecret456") || strings.Contains(v, "9876543210") ||
			strings.Contains(v, "GEZDGNBV") || strings.Contains(v, "123456") {
			t.Errorf("Redacted output leaks secret in field %s: %q", field, v)
		}
	}
	if got := red["api_secret"]; got != "[redacted]" {
		t.Errorf("Expected api_secret to be fully masked, got %q", got)
	}
}
