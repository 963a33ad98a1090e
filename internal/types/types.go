package types

import "time"

// SessionState tracks where the session lifecycle currently is.
type SessionState string

const (
	StateUninitialized  SessionState = "UNINITIALIZED"
	StateAuthenticating SessionState = "AUTHENTICATING"
	StateValid          SessionState = "VALID"
	StateExpired        SessionState = "EXPIRED"
	StateRevoked        SessionState = "REVOKED"
)

// Session is the live, time-bounded access-token state held by the process.
// Exactly one Session exists per process; it is owned by the session manager
// and mutated only through its re-authentication protocol.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	State        SessionState
}

// LiveAt reports whether the session token can still be handed out at the
// given instant, keeping a safety margin before the hard expiry.
func (s *Session) LiveAt(now time.Time, margin time.Duration) bool {
	if s == nil || s.State != StateValid || s.AccessToken == "" {
		return false
	}
	return now.Before(s.ExpiresAt.Add(-margin))
}

// StatusEvent is published on session state changes for external consumers
// (notification channels, health dashboards).
type StatusEvent struct {
	State  SessionState
	Reason string
	At     time.Time
}

// DriverHandle describes a provisioned browser-automation driver binary.
type DriverHandle struct {
	BinaryPath   string
	Version      string
	BrowserMajor int
	ProfileDir   string
}

// OrderReq is a downstream order placement request.
type OrderReq struct {
	Symbol string
	Side   string // BUY or SELL
	Qty    int
	Tag    string
}

// OrderResp is the broker's answer to an order placement.
type OrderResp struct {
	OrderID string
	Status  string
	Message string
}
