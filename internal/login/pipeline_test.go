package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"kite-trading-bot/internal/exchange"
	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/secrets"
	"kite-trading-bot/internal/types"
)

const testSeed = "GEZDGNBVGEZDGNBVGEZDGNBVGEZDGNBV"

func testCreds() *secrets.CredentialBundle {
	return &secrets.CredentialBundle{
		APIKey:       "key",
		APISecret:    "secret",
		RedirectURI:  "https://example.com/cb",
		MobileNumber: "9876543210",
		TOTPSeed:     testSeed,
		MPIN:         "123456",
	}
}

func testConfig() Config {
	cfg := Config{
		LoginURL:            "https://broker.test/login",
		StageTimeout:        50 * time.Millisecond,
		BackoffInitial:      time.Millisecond,
		BackoffMax:          2 * time.Millisecond,
		LockoutPatterns:     []string{"account is blocked"},
		InvalidCodePatterns: []string{"invalid totp"},
		Now:                 func() time.Time { return time.Unix(59, 0).UTC() },
	}
	cfg.applyDefaults()
	return cfg
}

// fakeBrowser walks the broker's login pages in memory.
type fakeBrowser struct {
	page   string // login, totp, pin, redirect
	url    string
	source string

	redirectURL   string
	badMPIN       bool
	badTOTPCount  int // reject this many TOTP submissions as invalid
	lockoutOnTOTP bool

	totpFills []string
	closed    bool
}

var _ interfaces.Browser = (*fakeBrowser)(nil)

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		redirectURL: "https://example.com/cb?request_token=toktok123&action=login",
	}
}

func (b *fakeBrowser) Navigate(url string) error {
	b.page, b.url, b.source = "login", url, ""
	return nil
}

func (b *fakeBrowser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	visible := map[string]string{
		"#mobileNum": "login",
		"#otpNum":    "totp",
		"#pinCode":   "pin",
	}
	if visible[selector] == b.page {
		return nil
	}
	return fmt.Errorf("timeout waiting for %s on page %s", selector, b.page)
}

func (b *fakeBrowser) Fill(selector, value string) error {
	if selector == "#otpNum" {
		b.totpFills = append(b.totpFills, value)
	}
	return nil
}

func (b *fakeBrowser) Click(selector string) error {
	switch {
	case selector == "#getOtp" && b.page == "login":
		b.page = "totp"
	case selector == "#continueBtn" && b.page == "totp":
		switch {
		case b.lockoutOnTOTP:
			b.source = "Your account is blocked after too many failed attempts"
		case b.badTOTPCount > 0:
			b.badTOTPCount--
			b.source = "Invalid TOTP entered, please retry"
		default:
			b.page, b.source = "pin", ""
		}
	case selector == "#pinContinueBtn" && b.page == "pin":
		if b.badMPIN {
			b.source = "Incorrect PIN entered"
		} else {
			b.page, b.url = "redirect", b.redirectURL
		}
	}
	return nil
}

func (b *fakeBrowser) CurrentURL() (string, error) { return b.url, nil }

func (b *fakeBrowser) PageSource() (string, error) {
	return "<html><body><p>" + b.source + "</p></body></html>", nil
}

func (b *fakeBrowser) WaitURLContains(ctx context.Context, substr string, timeout time.Duration) (string, error) {
	if strings.Contains(b.url, substr) {
		return b.url, nil
	}
	return "", fmt.Errorf("timeout waiting for url containing %q", substr)
}

func (b *fakeBrowser) Close() error {
	b.closed = true
	return nil
}

type fakeFactory struct {
	build   func() *fakeBrowser
	created []*fakeBrowser
	err     error
}

func (f *fakeFactory) NewBrowser(ctx context.Context) (interfaces.Browser, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := f.build()
	f.created = append(f.created, b)
	return b, nil
}

type fakeExchanger struct {
	failures    int
	calls       int
	gotCodes    []string
	invalidated []string

	refreshed   int
	refreshSess *types.Session
	refreshErr  error
}

func (e *fakeExchanger) LoginURL() string { return "https://broker.test/login" }

func (e *fakeExchanger) Refresh(ctx context.Context, s *types.Session) (*types.Session, error) {
	e.refreshed++
	if e.refreshErr != nil {
		return nil, e.refreshErr
	}
	if e.refreshSess != nil {
		return e.refreshSess, nil
	}
	return nil, exchange.ErrRefreshUnsupported
}

func (e *fakeExchanger) Exchange(ctx context.Context, authCode string) (*types.Session, error) {
	e.calls++
	e.gotCodes = append(e.gotCodes, authCode)
	if e.failures > 0 {
		e.failures--
		return nil, &exchange.ExchangeError{Op: "generate session", Err: errors.New("connection reset")}
	}
	return &types.Session{
		AccessToken: "access-" + authCode,
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(8 * time.Hour),
		State:       types.StateValid,
	}, nil
}

func (e *fakeExchanger) Invalidate(ctx context.Context, accessToken string) error {
	e.invalidated = append(e.invalidated, accessToken)
	return nil
}

func TestAuthenticateHappyPath(t *testing.T) {
	factory := &fakeFactory{build: newFakeBrowser}
	exch := &fakeExchanger{}
	p := NewPipeline(factory, exch, testCreds(), testConfig())

	sess, err := p.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess.AccessToken != "access-toktok123" {
		t.Errorf("Expected exchanged token, got %s", sess.AccessToken)
	}
	if len(factory.created) != 1 {
		t.Errorf("Expected one browser session, got %d", len(factory.created))
	}
	if !factory.created[0].closed {
		t.Error("Browser session leaked past the attempt")
	}
	if exch.gotCodes[0] != "toktok123" {
		t.Errorf("Expected captured code toktok123, got %s", exch.gotCodes[0])
	}
}

func TestBadMPINExhaustsAttemptsAtConsentStage(t *testing.T) {
	factory := &fakeFactory{build: func() *fakeBrowser {
		b := newFakeBrowser()
		b.badMPIN = true
		return b
	}}
	exch := &fakeExchanger{}
	p := NewPipeline(factory, exch, testCreds(), testConfig())

	_, err := p.Authenticate(context.Background())
	if err == nil {
		t.Fatal("Expected authentication to fail")
	}
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Stage != StageConsentConfirmed {
		t.Errorf("Expected failure at CONSENT_CONFIRMED, got %s", fe.Stage)
	}
	if len(factory.created) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(factory.created))
	}
	for i, b := range factory.created {
		if !b.closed {
			t.Errorf("Browser %d leaked", i)
		}
	}
	if exch.calls != 0 {
		t.Errorf("Exchange must not run without a captured code, got %d calls", exch.calls)
	}
}

func TestLockoutSignalShortCircuits(t *testing.T) {
	factory := &fakeFactory{build: func() *fakeBrowser {
		b := newFakeBrowser()
		b.lockoutOnTOTP = true
		return b
	}}
	p := NewPipeline(factory, &fakeExchanger{}, testCreds(), testConfig())

	_, err := p.Authenticate(context.Background())
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Retryable {
		t.Error("Lockout failure must be non-retryable")
	}
	if len(factory.created) != 1 {
		t.Errorf("Expected a single attempt on lockout, got %d", len(factory.created))
	}
}

func TestExchangeFailureEarnsOneExtraAttempt(t *testing.T) {
	factory := &fakeFactory{build: newFakeBrowser}
	exch := &fakeExchanger{failures: 1}
	p := NewPipeline(factory, exch, testCreds(), testConfig())

	sess, err := p.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess.State != types.StateValid {
		t.Errorf("Expected VALID session, got %s", sess.State)
	}
	if len(factory.created) != 2 {
		t.Errorf("Expected a fresh login after exchange failure, got %d attempts", len(factory.created))
	}
	if exch.calls != 2 {
		t.Errorf("Expected 2 exchange calls, got %d", exch.calls)
	}
}

func TestPersistentExchangeFailureStops(t *testing.T) {
	factory := &fakeFactory{build: newFakeBrowser}
	exch := &fakeExchanger{failures: 10}
	p := NewPipeline(factory, exch, testCreds(), testConfig())

	_, err := p.Authenticate(context.Background())
	var xe *exchange.ExchangeError
	if !errors.As(err, &xe) {
		t.Fatalf("Expected ExchangeError, got %v", err)
	}
	if exch.calls != 2 {
		t.Errorf("Expected exactly one extra attempt after exchange failure, got %d", exch.calls)
	}
}

func TestBrowserUnavailableRetriesThenFails(t *testing.T) {
	factory := &fakeFactory{err: errors.New("driver download failed")}
	p := NewPipeline(factory, &fakeExchanger{}, testCreds(), testConfig())

	_, err := p.Authenticate(context.Background())
	if err == nil {
		t.Fatal("Expected failure when no browser can be provisioned")
	}
	if !strings.Contains(err.Error(), "browser unavailable") {
		t.Errorf("Expected browser unavailable error, got %v", err)
	}
}

func TestRefreshTokenSkipsBrowserLogin(t *testing.T) {
	factory := &fakeFactory{build: newFakeBrowser}
	renewed := &types.Session{
		AccessToken:  "renewed",
		RefreshToken: "r2",
		ExpiresAt:    time.Now().Add(8 * time.Hour),
		State:        types.StateValid,
	}
	exch := &fakeExchanger{refreshSess: renewed}
	p := NewPipeline(factory, exch, testCreds(), testConfig())
	p.last = &types.Session{AccessToken: "old", RefreshToken: "r1"}

	sess, err := p.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess.AccessToken != "renewed" {
		t.Errorf("Expected renewed session, got %s", sess.AccessToken)
	}
	if exch.refreshed != 1 {
		t.Errorf("Expected one refresh call, got %d", exch.refreshed)
	}
	if len(factory.created) != 0 {
		t.Errorf("Refresh must not open a browser, got %d sessions", len(factory.created))
	}
}

func TestRefreshFailureFallsBackToLogin(t *testing.T) {
	factory := &fakeFactory{build: newFakeBrowser}
	exch := &fakeExchanger{refreshErr: errors.New("refresh rejected")}
	p := NewPipeline(factory, exch, testCreds(), testConfig())
	p.last = &types.Session{AccessToken: "old", RefreshToken: "r1"}

	sess, err := p.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess.AccessToken != "access-toktok123" {
		t.Errorf("Expected interactive login session, got %s", sess.AccessToken)
	}
	if len(factory.created) != 1 {
		t.Errorf("Expected one browser session, got %d", len(factory.created))
	}
}

func TestLogoutDelegatesToExchanger(t *testing.T) {
	exch := &fakeExchanger{}
	p := NewPipeline(&fakeFactory{build: newFakeBrowser}, exch, testCreds(), testConfig())

	if err := p.Logout(context.Background(), "tok"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if len(exch.invalidated) != 1 || exch.invalidated[0] != "tok" {
		t.Errorf("Expected token invalidated broker-side, got %v", exch.invalidated)
	}
}
