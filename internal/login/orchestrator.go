package login

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/secrets"
	"kite-trading-bot/internal/totp"
)

// orchestrator drives a single login attempt through one browser session.
// It never retries internally: any stage failure is terminal for the attempt
// and the pipeline restarts from a clean browser.
type orchestrator struct {
	br    interfaces.Browser
	creds *secrets.CredentialBundle
	cfg   Config
}

// run walks the state machine and returns the captured authorization code.
func (o *orchestrator) run(ctx context.Context) (string, error) {
	sel := o.cfg.Selectors

	if err := o.br.Navigate(o.cfg.LoginURL); err != nil {
		return "", &FlowError{Stage: StageStart, Detail: "open login page", Retryable: true, Err: err}
	}

	// START -> CREDENTIALS_ENTERED
	if err := o.br.WaitVisible(ctx, sel.Mobile, o.cfg.StageTimeout); err != nil {
		return "", o.failWithPage(StageCredentialsEntered, "mobile field not found", err)
	}
	if err := o.br.Fill(sel.Mobile, o.creds.MobileNumber); err != nil {
		return "", &FlowError{Stage: StageCredentialsEntered, Detail: "enter mobile number", Retryable: true, Err: err}
	}
	if err := o.br.Click(sel.GetOTP); err != nil {
		return "", &FlowError{Stage: StageCredentialsEntered, Detail: "request OTP", Retryable: true, Err: err}
	}

	// CREDENTIALS_ENTERED -> TOTP_SUBMITTED
	if err := o.submitTOTP(ctx); err != nil {
		return "", err
	}

	// TOTP_SUBMITTED -> CONSENT_CONFIRMED
	if err := o.br.Fill(sel.PIN, o.creds.MPIN); err != nil {
		return "", &FlowError{Stage: StageConsentConfirmed, Detail: "enter MPIN", Retryable: true, Err: err}
	}
	if err := o.br.Click(sel.Confirm); err != nil {
		return "", &FlowError{Stage: StageConsentConfirmed, Detail: "confirm consent", Retryable: true, Err: err}
	}

	// CONSENT_CONFIRMED -> REDIRECT_CAPTURED
	redirectURL, err := o.br.WaitURLContains(ctx, o.cfg.TokenParam+"=", o.cfg.StageTimeout)
	if err != nil {
		return "", o.failWithPage(StageConsentConfirmed, "consent not accepted", err)
	}

	// REDIRECT_CAPTURED -> DONE
	code, err := parseAuthCode(redirectURL, o.cfg.TokenParam)
	if err != nil {
		return "", &FlowError{Stage: StageRedirectCaptured, Detail: "no code", Retryable: true, Err: err}
	}
	return code, nil
}

// submitTOTP enters the current time-step code and, if the broker flags it
// as invalid (clock skew), retries once with the adjacent step's code.
func (o *orchestrator) submitTOTP(ctx context.Context) error {
	sel := o.cfg.Selectors

	if err := o.br.WaitVisible(ctx, sel.TOTP, o.cfg.StageTimeout); err != nil {
		return o.failWithPage(StageTOTPSubmitted, "TOTP field not found", err)
	}

	codes, err := totp.Codes(o.creds.TOTPSeed, o.cfg.Now())
	if err != nil {
		return &FlowError{Stage: StageTOTPSubmitted, Detail: "derive TOTP code", Retryable: false, Err: err}
	}

	for i, code := range codes[:2] {
		if err := o.br.Fill(sel.TOTP, code); err != nil {
			return &FlowError{Stage: StageTOTPSubmitted, Detail: "enter TOTP code", Retryable: true, Err: err}
		}
		if err := o.br.Click(sel.Continue); err != nil {
			return &FlowError{Stage: StageTOTPSubmitted, Detail: "submit TOTP code", Retryable: true, Err: err}
		}

		if err := o.br.WaitVisible(ctx, sel.PIN, o.cfg.StageTimeout); err == nil {
			return nil
		}

		if pat, locked := o.pageSignal(o.cfg.LockoutPatterns); locked {
			return &FlowError{Stage: StageTOTPSubmitted, Detail: "lockout signal: " + pat, Retryable: false}
		}
		if _, invalid := o.pageSignal(o.cfg.InvalidCodePatterns); !invalid {
			return o.failWithPage(StageTOTPSubmitted, "TOTP not accepted", nil)
		}
		if i == 1 {
			break
		}
		// invalid-code signal: loop once more with the adjacent-step code
	}

	return &FlowError{Stage: StageTOTPSubmitted, Detail: "TOTP rejected after adjacent-step retry", Retryable: true}
}

// failWithPage builds the stage failure, downgrading it to non-retryable when
// the page carries a lockout/CAPTCHA signal.
func (o *orchestrator) failWithPage(stage Stage, detail string, cause error) error {
	if pat, locked := o.pageSignal(o.cfg.LockoutPatterns); locked {
		return &FlowError{Stage: stage, Detail: "lockout signal: " + pat, Retryable: false, Err: cause}
	}
	return &FlowError{Stage: stage, Detail: detail, Retryable: true, Err: cause}
}

// pageSignal reports whether the rendered page text matches any of the
// configured patterns.
func (o *orchestrator) pageSignal(patterns []string) (string, bool) {
	if len(patterns) == 0 {
		return "", false
	}
	src, err := o.br.PageSource()
	if err != nil {
		return "", false
	}
	text := strings.ToLower(pageText(src))
	for _, pat := range patterns {
		if strings.Contains(text, strings.ToLower(pat)) {
			return pat, true
		}
	}
	return "", false
}

// pageText extracts the visible text of an HTML document so markup never
// produces false pattern matches.
func pageText(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return src
	}
	return doc.Text()
}

func parseAuthCode(rawURL, param string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	code := u.Query().Get(param)
	if code == "" {
		return "", fmt.Errorf("redirect %s has no %q parameter", u.Path, param)
	}
	return code, nil
}

// Config drives one pipeline's login behavior.
type Config struct {
	LoginURL            string
	TokenParam          string
	MaxAttempts         int
	StageTimeout        time.Duration
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	LockoutPatterns     []string
	InvalidCodePatterns []string
	Selectors           Selectors

	// Now is a clock hook for tests; defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.TokenParam == "" {
		c.TokenParam = "request_token"
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 30 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Selectors == (Selectors{}) {
		c.Selectors = DefaultSelectors
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
