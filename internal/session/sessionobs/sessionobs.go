// Package sessionobs wraps the session manager with observability
// middleware. Token values never reach the logs; only their length does.
package sessionobs

import (
	"context"

	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/logger"
	"kite-trading-bot/internal/trace"
	"kite-trading-bot/internal/types"
)

// observableProvider wraps a TokenProvider with logging & tracing
type observableProvider struct {
	provider interfaces.TokenProvider
}

// Compile-time interface check
var _ interfaces.TokenProvider = (*observableProvider)(nil)

// Wrap wraps a token provider with observability middleware
func Wrap(provider interfaces.TokenProvider) interfaces.TokenProvider {
	return &observableProvider{provider: provider}
}

func (op *observableProvider) GetValidToken(ctx context.Context) (string, error) {
	ctx, span := trace.StartSpan(ctx, "session.GetValidToken")
	defer span.End()

	tok, err := op.provider.GetValidToken(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to obtain valid token", err)
		return "", err
	}

	logger.Debug(ctx, "Token handed out", "token_len", len(tok))
	return tok, nil
}

func (op *observableProvider) Invalidate() {
	logger.Warn(context.Background(), "Session invalidated by downstream caller")
	op.provider.Invalidate()
}

func (op *observableProvider) State() types.SessionState {
	return op.provider.State()
}
