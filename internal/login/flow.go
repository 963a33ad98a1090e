package login

import "fmt"

// Stage names one step of the interactive login state machine.
type Stage string

const (
	StageStart              Stage = "START"
	StageCredentialsEntered Stage = "CREDENTIALS_ENTERED"
	StageTOTPSubmitted      Stage = "TOTP_SUBMITTED"
	StageConsentConfirmed   Stage = "CONSENT_CONFIRMED"
	StageRedirectCaptured   Stage = "REDIRECT_CAPTURED"
	StageDone               Stage = "DONE"
)

// FlowError is the terminal FAILED(stage, detail) of one login attempt.
// Retryable is false for lockout/CAPTCHA signals, where another attempt
// would only worsen the lockout.
type FlowError struct {
	Stage     Stage
	Detail    string
	Retryable bool
	Err       error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login flow failed at %s: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("login flow failed at %s: %s", e.Stage, e.Detail)
}

func (e *FlowError) Unwrap() error { return e.Err }

// Selectors are the CSS selectors for the broker's login page elements.
type Selectors struct {
	Mobile   string // mobile number input
	GetOTP   string // request-OTP button
	TOTP     string // TOTP code input
	Continue string // TOTP submit button
	PIN      string // MPIN input
	Confirm  string // MPIN/consent submit button
}

// DefaultSelectors match the broker login page as currently deployed.
var DefaultSelectors = Selectors{
	Mobile:   "#mobileNum",
	GetOTP:   "#getOtp",
	TOTP:     "#otpNum",
	Continue: "#continueBtn",
	PIN:      "#pinCode",
	Confirm:  "#pinContinueBtn",
}
