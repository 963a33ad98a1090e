package secrets

import (
	"encoding/base32"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// ConfigError reports a missing or malformed credential field. It names the
// field only; secret values are never included.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("credential config error: %s: %s", e.Field, e.Reason)
}

// CredentialBundle is the immutable set of static secrets the login pipeline
// needs. Loaded once at startup; values must never appear in logs.
type CredentialBundle struct {
	APIKey       string
	APISecret    string
	RedirectURI  string
	MobileNumber string
	TOTPSeed     string
	MPIN         string

	// Optional cached token adopted at startup if still valid.
	CachedToken       string
	CachedTokenExpiry time.Time
}

// Load reads the credential bundle from the environment. godotenv.Load is
// expected to have populated the environment already. Load is read-only and
// idempotent.
func Load() (*CredentialBundle, error) {
	b := &CredentialBundle{
		APIKey:       os.Getenv("KITE_API_KEY"),
		APISecret:    os.Getenv("KITE_API_SECRET"),
		RedirectURI:  os.Getenv("KITE_REDIRECT_URI"),
		MobileNumber: os.Getenv("KITE_MOBILE"),
		TOTPSeed:     strings.ToUpper(strings.ReplaceAll(os.Getenv("KITE_TOTP_SEED"), " ", "")),
		MPIN:         os.Getenv("KITE_MPIN"),
		CachedToken:  os.Getenv("KITE_ACCESS_TOKEN"),
	}

	if v := os.Getenv("KITE_ACCESS_TOKEN_EXPIRY"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, &ConfigError{Field: "KITE_ACCESS_TOKEN_EXPIRY", Reason: "not a valid RFC3339 timestamp"}
		}
		b.CachedTokenExpiry = t
	}

	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *CredentialBundle) validate() error {
	required := []struct {
		field string
		value string
	}{
		{"KITE_API_KEY", b.APIKey},
		{"KITE_API_SECRET", b.APISecret},
		{"KITE_REDIRECT_URI", b.RedirectURI},
		{"KITE_MOBILE", b.MobileNumber},
		{"KITE_TOTP_SEED", b.TOTPSeed},
		{"KITE_MPIN", b.MPIN},
	}
	for _, r := range required {
		if r.value == "" {
			return &ConfigError{Field: r.field, Reason: "missing or empty"}
		}
	}

	u, err := url.Parse(b.RedirectURI)
	if err != nil || u.Host == "" {
		return &ConfigError{Field: "KITE_REDIRECT_URI", Reason: "not a valid URL"}
	}
	if u.Scheme != "https" {
		return &ConfigError{Field: "KITE_REDIRECT_URI", Reason: "must be https"}
	}

	if _, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(b.TOTPSeed, "=")); err != nil {
		return &ConfigError{Field: "KITE_TOTP_SEED", Reason: "not valid base32"}
	}

	if len(b.MPIN) < 4 || len(b.MPIN) > 6 {
		return &ConfigError{Field: "KITE_MPIN", Reason: "must be 4-6 digits"}
	}
	for _, c := range b.MPIN {
		if c < '0' || c > '9' {
			return &ConfigError{Field: "KITE_MPIN", Reason: "must be 4-6 digits"}
		}
	}

	return nil
}

// HasCachedToken reports whether a usable cached token was configured.
func (b *CredentialBundle) HasCachedToken(now time.Time) bool {
	return b.CachedToken != "" && !b.CachedTokenExpiry.IsZero() && now.Before(b.CachedTokenExpiry)
}

// Redacted renders the bundle for logging. The API key keeps a short prefix
// for operator recognition; everything else is masked entirely.
func (b *CredentialBundle) Redacted() map[string]string {
	return map[string]string{
		"api_key":      prefix(b.APIKey, 4),
		"api_secret":   mask(b.APISecret),
		"redirect_uri": b.RedirectURI,
		"mobile":       mask(b.MobileNumber),
		"totp_seed":    mask(b.TOTPSeed),
		"mpin":         mask(b.MPIN),
		"cached_token": mask(b.CachedToken),
	}
}

func mask(v string) string {
	if v == "" {
		return "(unset)"
	}
	return "[redacted]"
}

func prefix(v string, n int) string {
	if v == "" {
		return "(unset)"
	}
	if len(v) <= n {
		return "[redacted]"
	}
	return v[:n] + "…[redacted]"
}
