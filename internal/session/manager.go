// Package session owns the single live broker session and decides when the
// process must re-authenticate.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/logger"
	"kite-trading-bot/internal/trace"
	"kite-trading-bot/internal/types"
)

// AuthenticationError aggregates an exhausted login pipeline. Callers must
// treat it as "trading must pause", not proceed with a stale token.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Config tunes the manager.
type Config struct {
	// SafetyMargin is subtracted from the token expiry; inside the margin
	// the token is treated as already expired.
	SafetyMargin time.Duration

	// Seed optionally adopts a still-valid cached token at startup so a
	// restart does not force a fresh interactive login.
	Seed *types.Session
}

// Manager is the session facade. It holds the one live Session and runs at
// most one authentication pipeline at a time regardless of caller count.
type Manager struct {
	auth   interfaces.Authenticator
	margin time.Duration

	mu   sync.RWMutex
	sess *types.Session

	flight singleflight.Group

	eventsMu sync.Mutex
	events   []chan types.StatusEvent

	now func() time.Time
}

var _ interfaces.TokenProvider = (*Manager)(nil)

func NewManager(auth interfaces.Authenticator, cfg Config) *Manager {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = 5 * time.Minute
	}
	m := &Manager{
		auth:   auth,
		margin: cfg.SafetyMargin,
		sess:   &types.Session{State: types.StateUninitialized},
		now:    time.Now,
	}
	if cfg.Seed != nil && cfg.Seed.LiveAt(m.now(), cfg.SafetyMargin) {
		m.sess = cfg.Seed
	}
	return m
}

// GetValidToken returns the cached token while it is guaranteed valid;
// otherwise it runs the full login pipeline exactly once even under
// concurrent callers, who all wait for the single in-flight result.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	if tok, ok := m.liveToken(); ok {
		return tok, nil
	}

	v, err, _ := m.flight.Do("authenticate", func() (any, error) {
		// A waiter queued behind a finished flight may find a fresh token.
		if tok, ok := m.liveToken(); ok {
			return tok, nil
		}
		return m.authenticate(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate marks the session expired after a downstream token rejection.
// The next GetValidToken re-authenticates; the old token is never returned
// again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	prev := m.sess.State
	if prev == types.StateValid {
		m.sess.State = types.StateExpired
	}
	m.mu.Unlock()

	if prev == types.StateValid {
		m.publish(types.StateExpired, "token reported invalid downstream")
	}
}

// State returns the current lifecycle state without forcing a login, so
// health checks can probe cheaply.
func (m *Manager) State() types.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.State
}

// Logout invalidates the token broker-side and revokes the session.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	tok := m.sess.AccessToken
	m.sess = &types.Session{State: types.StateRevoked}
	m.mu.Unlock()
	m.publish(types.StateRevoked, "explicit logout")

	if tok == "" {
		return nil
	}
	return m.auth.Logout(ctx, tok)
}

// Events returns a channel of session state transitions. Delivery is
// best-effort: a slow consumer drops events instead of blocking the
// authentication path.
func (m *Manager) Events() <-chan types.StatusEvent {
	ch := make(chan types.StatusEvent, 16)
	m.eventsMu.Lock()
	m.events = append(m.events, ch)
	m.eventsMu.Unlock()
	return ch
}

func (m *Manager) liveToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess.LiveAt(m.now(), m.margin) {
		return m.sess.AccessToken, true
	}
	return "", false
}

// authenticate runs the pipeline once and applies the state transition
// protocol: AUTHENTICATING, then VALID on success or REVOKED on failure.
func (m *Manager) authenticate(ctx context.Context) (any, error) {
	ctx, span := trace.StartSpan(ctx, "session.authenticate")
	defer span.End()

	m.setState(types.StateAuthenticating)
	m.publish(types.StateAuthenticating, "")
	logger.SessionStatus(ctx, string(types.StateAuthenticating), "")

	sess, err := m.auth.Authenticate(ctx)
	if err != nil {
		m.mu.Lock()
		m.sess = &types.Session{State: types.StateRevoked}
		m.mu.Unlock()

		m.publish(types.StateRevoked, err.Error())
		logger.SessionStatus(ctx, "FAILED", err.Error())
		return nil, &AuthenticationError{Err: err}
	}

	sess.State = types.StateValid
	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	m.publish(types.StateValid, "")
	logger.SessionStatus(ctx, string(types.StateValid), "",
		"user_id", sess.UserID,
		"expires_at", sess.ExpiresAt,
	)
	return sess.AccessToken, nil
}

func (m *Manager) setState(s types.SessionState) {
	m.mu.Lock()
	m.sess.State = s
	m.mu.Unlock()
}

func (m *Manager) publish(state types.SessionState, reason string) {
	ev := types.StatusEvent{State: state, Reason: reason, At: m.now()}
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	for _, ch := range m.events {
		select {
		case ch <- ev:
		default:
		}
	}
}
