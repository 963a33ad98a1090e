package interfaces

import (
	"context"

	"kite-trading-bot/internal/types"
)

// TokenProvider is the session facade exposed to downstream consumers
// (order placement, market data, health checks).
type TokenProvider interface {
	// GetValidToken returns an access token that is currently guaranteed
	// valid, running the full login pipeline if needed. Concurrent callers
	// share a single in-flight authentication.
	GetValidToken(ctx context.Context) (string, error)

	// Invalidate marks the current token as expired after a downstream
	// 401/"token invalid" response. The next GetValidToken re-authenticates.
	Invalidate()

	// State returns the current session lifecycle state without triggering
	// authentication.
	State() types.SessionState
}
