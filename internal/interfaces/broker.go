package interfaces

import (
	"context"

	"kite-trading-bot/internal/types"
)

// Broker defines the downstream trading surface that consumes the session.
type Broker interface {
	// LTP returns the last traded price for a symbol.
	LTP(ctx context.Context, symbol string) (float64, error)

	// PlaceOrder places an order and returns the order response.
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)

	// Profile fetches the logged-in user's id, probing session validity.
	Profile(ctx context.Context) (string, error)
}
