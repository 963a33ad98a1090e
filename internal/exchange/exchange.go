// Package exchange converts captured authorization codes into broker
// sessions over the Kite Connect token endpoint.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"kite-trading-bot/internal/secrets"
	"kite-trading-bot/internal/types"
)

// ExchangeError reports a rejected or malformed token exchange. Fatal for
// the current login attempt: the auth code is single-use, so only a fresh
// login can recover.
type ExchangeError struct {
	Op  string
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange: %s: %v", e.Op, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// ErrRefreshUnsupported is returned by Refresh when the broker issued no
// refresh token; expiry then forces a full re-login.
var ErrRefreshUnsupported = errors.New("session has no refresh token")

// KiteExchanger exchanges auth codes for access tokens via Kite Connect.
type KiteExchanger struct {
	kc        *kiteconnect.Client
	apiSecret string

	// now and loc are clock hooks for expiry computation; Kite access
	// tokens lapse at 06:00 IST the following day.
	now func() time.Time
	loc *time.Location
}

func New(bundle *secrets.CredentialBundle) *KiteExchanger {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &KiteExchanger{
		kc:        kiteconnect.New(bundle.APIKey),
		apiSecret: bundle.APISecret,
		now:       time.Now,
		loc:       loc,
	}
}

// LoginURL returns the interactive login entry point for this API key.
func (e *KiteExchanger) LoginURL() string {
	return e.kc.GetLoginURL()
}

// SetBaseURI redirects API calls, used by tests.
func (e *KiteExchanger) SetBaseURI(uri string) {
	e.kc.SetBaseURI(uri)
}

// Exchange performs the authorization-code-to-token exchange.
func (e *KiteExchanger) Exchange(ctx context.Context, authCode string) (*types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	us, err := e.kc.GenerateSession(authCode, e.apiSecret)
	if err != nil {
		return nil, &ExchangeError{Op: "generate session", Err: err}
	}
	if us.AccessToken == "" {
		return nil, &ExchangeError{Op: "generate session", Err: errors.New("response carries no access token")}
	}

	now := e.now()
	return &types.Session{
		AccessToken:  us.AccessToken,
		RefreshToken: us.RefreshToken,
		UserID:       us.UserSessionTokens.UserID,
		IssuedAt:     now,
		ExpiresAt:    e.nextExpiry(now),
		State:        types.StateValid,
	}, nil
}

// Refresh renews the access token when the broker granted a refresh token.
func (e *KiteExchanger) Refresh(ctx context.Context, s *types.Session) (*types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.RefreshToken == "" {
		return nil, ErrRefreshUnsupported
	}

	tokens, err := e.kc.RenewAccessToken(s.RefreshToken, e.apiSecret)
	if err != nil {
		return nil, &ExchangeError{Op: "renew access token", Err: err}
	}
	if tokens.AccessToken == "" {
		return nil, &ExchangeError{Op: "renew access token", Err: errors.New("response carries no access token")}
	}

	now := e.now()
	return &types.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		UserID:       s.UserID,
		IssuedAt:     now,
		ExpiresAt:    e.nextExpiry(now),
		State:        types.StateValid,
	}, nil
}

// Invalidate logs the token out on the broker side.
func (e *KiteExchanger) Invalidate(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.kc.SetAccessToken(accessToken)
	ok, err := e.kc.InvalidateAccessToken()
	if err != nil {
		return &ExchangeError{Op: "invalidate access token", Err: err}
	}
	if !ok {
		return &ExchangeError{Op: "invalidate access token", Err: errors.New("broker declined invalidation")}
	}
	return nil
}

// nextExpiry computes the broker's next 06:00 IST cutoff after now.
func (e *KiteExchanger) nextExpiry(now time.Time) time.Time {
	local := now.In(e.loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), 6, 0, 0, 0, e.loc)
	if !cutoff.After(local) {
		cutoff = cutoff.AddDate(0, 0, 1)
	}
	return cutoff
}
