package login

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kite-trading-bot/internal/exchange"
	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/logger"
	"kite-trading-bot/internal/secrets"
	"kite-trading-bot/internal/trace"
	"kite-trading-bot/internal/types"
)

// Exchanger turns a captured authorization code into a session and handles
// broker-side renewal and invalidation.
type Exchanger interface {
	LoginURL() string
	Exchange(ctx context.Context, authCode string) (*types.Session, error)
	Refresh(ctx context.Context, s *types.Session) (*types.Session, error)
	Invalidate(ctx context.Context, accessToken string) error
}

// Pipeline runs the bounded-retry login loop: one fresh browser session per
// attempt, increasing backoff between attempts, immediate stop on lockout
// signals. An exchange failure earns one extra attempt because the auth code
// is single-use and only a fresh login can mint another.
type Pipeline struct {
	browsers  interfaces.BrowserFactory
	exchanger Exchanger
	creds     *secrets.CredentialBundle
	cfg       Config

	// last holds the most recent session so its refresh token, if the
	// broker issued one, can renew without a browser.
	mu   sync.Mutex
	last *types.Session

	// sleep is a test hook around the inter-attempt backoff wait.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ interfaces.Authenticator = (*Pipeline)(nil)

func NewPipeline(browsers interfaces.BrowserFactory, exchanger Exchanger, creds *secrets.CredentialBundle, cfg Config) *Pipeline {
	cfg.applyDefaults()
	if cfg.LoginURL == "" {
		cfg.LoginURL = exchanger.LoginURL()
	}
	return &Pipeline{
		browsers:  browsers,
		exchanger: exchanger,
		creds:     creds,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

// Authenticate drives login attempts until a session is obtained, a
// non-retryable failure occurs, or attempts are exhausted.
func (p *Pipeline) Authenticate(ctx context.Context) (*types.Session, error) {
	ctx, span := trace.StartSpan(ctx, "login.Authenticate")
	defer span.End()

	if sess := p.tryRefresh(ctx); sess != nil {
		return sess, nil
	}

	var lastErr error
	wait := p.cfg.BackoffInitial
	extra := 0

	for attempt := 1; attempt <= p.cfg.MaxAttempts+extra; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
			wait *= 2
			if wait > p.cfg.BackoffMax {
				wait = p.cfg.BackoffMax
			}
		}

		started := time.Now()
		logger.Info(ctx, "Starting login attempt", "attempt", attempt)

		authCode, err := p.runAttempt(ctx)
		if err != nil {
			lastErr = err
			logger.ErrorWithErr(ctx, "Login attempt failed", err,
				"attempt", attempt,
				"stage", stageOf(err),
				"duration_ms", time.Since(started).Milliseconds(),
			)
			var fe *FlowError
			if errors.As(err, &fe) && !fe.Retryable {
				break
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		sess, err := p.exchanger.Exchange(ctx, authCode)
		if err != nil {
			lastErr = err
			logger.ErrorWithErr(ctx, "Token exchange failed", err, "attempt", attempt)
			var xe *exchange.ExchangeError
			if errors.As(err, &xe) && extra == 0 {
				extra = 1
				continue
			}
			break
		}

		logger.Info(ctx, "Login succeeded",
			"attempt", attempt,
			"user_id", sess.UserID,
			"expires_at", sess.ExpiresAt,
		)
		p.remember(sess)
		return sess, nil
	}

	return nil, fmt.Errorf("authentication attempts exhausted: %w", lastErr)
}

// tryRefresh renews the previous session's token when a refresh token was
// issued. Any failure, including brokers that issue no refresh token, falls
// back to a full interactive login.
func (p *Pipeline) tryRefresh(ctx context.Context) *types.Session {
	p.mu.Lock()
	prev := p.last
	p.mu.Unlock()
	if prev == nil || prev.RefreshToken == "" {
		return nil
	}

	sess, err := p.exchanger.Refresh(ctx, prev)
	if err != nil {
		logger.Warn(ctx, "Token refresh failed, falling back to interactive login", "error", err)
		return nil
	}
	logger.Info(ctx, "Session renewed via refresh token", "expires_at", sess.ExpiresAt)
	p.remember(sess)
	return sess
}

func (p *Pipeline) remember(sess *types.Session) {
	p.mu.Lock()
	p.last = sess
	p.mu.Unlock()
}

// runAttempt scopes one browser session to one attempt. The browser is torn
// down on every exit path so no browser process leaks.
func (p *Pipeline) runAttempt(ctx context.Context) (string, error) {
	br, err := p.browsers.NewBrowser(ctx)
	if err != nil {
		return "", fmt.Errorf("browser unavailable: %w", err)
	}
	defer func() {
		if cerr := br.Close(); cerr != nil {
			logger.Warn(ctx, "Browser teardown failed", "error", cerr)
		}
	}()

	o := &orchestrator{br: br, creds: p.creds, cfg: p.cfg}
	return o.run(ctx)
}

// Logout invalidates the access token on the broker side.
func (p *Pipeline) Logout(ctx context.Context, accessToken string) error {
	return p.exchanger.Invalidate(ctx, accessToken)
}

func stageOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return string(fe.Stage)
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
