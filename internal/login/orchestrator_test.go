package login

import (
	"context"
	"errors"
	"testing"
)

func runOrchestrator(t *testing.T, b *fakeBrowser) (string, error) {
	t.Helper()
	cfg := testConfig()
	o := &orchestrator{br: b, creds: testCreds(), cfg: cfg}
	return o.run(context.Background())
}

func TestOrchestratorCapturesAuthCode(t *testing.T) {
	code, err := runOrchestrator(t, newFakeBrowser())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if code != "toktok123" {
		t.Errorf("Expected toktok123, got %s", code)
	}
}

func TestInvalidTOTPRetriedOnceWithAdjacentCode(t *testing.T) {
	b := newFakeBrowser()
	b.badTOTPCount = 1

	code, err := runOrchestrator(t, b)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if code != "toktok123" {
		t.Errorf("Expected toktok123, got %s", code)
	}
	if len(b.totpFills) != 2 {
		t.Fatalf("Expected 2 TOTP submissions, got %d", len(b.totpFills))
	}
	if b.totpFills[0] == b.totpFills[1] {
		t.Error("Expected adjacent-step code to differ from the first code")
	}
}

func TestInvalidTOTPTwiceIsHardFailure(t *testing.T) {
	b := newFakeBrowser()
	b.badTOTPCount = 2

	_, err := runOrchestrator(t, b)
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Stage != StageTOTPSubmitted {
		t.Errorf("Expected failure at TOTP_SUBMITTED, got %s", fe.Stage)
	}
	if len(b.totpFills) != 2 {
		t.Errorf("Expected exactly 2 TOTP submissions, got %d", len(b.totpFills))
	}
}

func TestMissingRedirectParameterIsNoCode(t *testing.T) {
	b := newFakeBrowser()
	b.redirectURL = "https://example.com/cb?request_token=&action=login"

	_, err := runOrchestrator(t, b)
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Stage != StageRedirectCaptured {
		t.Errorf("Expected failure at REDIRECT_CAPTURED, got %s", fe.Stage)
	}
	if fe.Detail != "no code" {
		t.Errorf("Expected detail 'no code', got %q", fe.Detail)
	}
}

func TestUnexpectedLoginPageFailsCredentialsStage(t *testing.T) {
	b := newFakeBrowser()

	cfg := testConfig()
	cfg.Selectors.Mobile = "#renamedField" // page changed under us
	o := &orchestrator{br: b, creds: testCreds(), cfg: cfg}

	_, err := o.run(context.Background())
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	if fe.Stage != StageCredentialsEntered {
		t.Errorf("Expected failure at CREDENTIALS_ENTERED, got %s", fe.Stage)
	}
	if !fe.Retryable {
		t.Error("Element-not-found must stay retryable")
	}
}

func TestPageTextStripsMarkup(t *testing.T) {
	text := pageText(`<html><body><div class="error">account is <b>blocked</b></div></body></html>`)
	if text != "account is blocked" {
		t.Errorf("Expected plain text, got %q", text)
	}
}
