// Package health periodically probes session validity without ever forcing
// a fresh interactive login.
package health

import (
	"context"
	"time"

	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/logger"
	"kite-trading-bot/internal/types"
)

type Checker struct {
	broker   interfaces.Broker
	tokens   interfaces.TokenProvider
	interval time.Duration
}

func NewChecker(broker interfaces.Broker, tokens interfaces.TokenProvider, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{broker: broker, tokens: tokens, interval: interval}
}

// Run probes until the context is cancelled.
func (c *Checker) Run(ctx context.Context) {
	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.probe(ctx)
		}
	}
}

// probe checks the session only when one is already live. A probe against
// an uninitialized or revoked session would trigger a full browser login,
// which is the trading path's decision to make, not the health check's.
func (c *Checker) probe(ctx context.Context) {
	if state := c.tokens.State(); state != types.StateValid {
		logger.Warn(ctx, "Health probe skipped, session not live", "state", string(state))
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	userID, err := c.broker.Profile(pctx)
	if err != nil {
		// A token rejection has already flowed through Invalidate by now.
		logger.ErrorWithErr(ctx, "Health probe failed", err)
		return
	}
	logger.Debug(ctx, "Health probe ok", "user_id", userID)
}
