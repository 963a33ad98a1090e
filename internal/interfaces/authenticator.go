package interfaces

import (
	"context"

	"kite-trading-bot/internal/types"
)

// Authenticator runs one bounded-retry login pipeline and yields a fresh
// session. Implementations own the browser flow and the token exchange.
type Authenticator interface {
	// Authenticate drives the interactive login end to end. It blocks until
	// a session is obtained or all attempts are exhausted.
	Authenticate(ctx context.Context) (*types.Session, error)

	// Logout invalidates the access token on the broker side.
	Logout(ctx context.Context, accessToken string) error
}
