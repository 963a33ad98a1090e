// Package zerodha is the downstream trading surface that consumes the
// session: every call fetches a currently-valid token from the session
// manager and reports token rejections back to it.
package zerodha

import (
	"context"
	"errors"
	"fmt"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/logger"
	"kite-trading-bot/internal/types"
)

type Params struct {
	Mode     string // DRY_RUN or LIVE
	APIKey   string
	Exchange string
}

type Zerodha struct {
	p      Params
	tokens interfaces.TokenProvider
	kc     *kiteconnect.Client
}

var _ interfaces.Broker = (*Zerodha)(nil)

func NewZerodha(p Params, tokens interfaces.TokenProvider) *Zerodha {
	return &Zerodha{
		p:      p,
		tokens: tokens,
		kc:     kiteconnect.New(p.APIKey),
	}
}

// SetBaseURI redirects API calls, used by tests.
func (z *Zerodha) SetBaseURI(uri string) {
	z.kc.SetBaseURI(uri)
}

func (z *Zerodha) LTP(ctx context.Context, symbol string) (float64, error) {
	if err := z.withToken(ctx); err != nil {
		return 0, err
	}

	inst := z.p.Exchange + ":" + symbol
	q, err := z.kc.GetLTP(inst)
	if err != nil {
		return 0, z.mapErr(ctx, err)
	}
	quote, ok := q[inst]
	if !ok {
		return 0, fmt.Errorf("no quote for %s", inst)
	}
	return quote.LastPrice, nil
}

func (z *Zerodha) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if z.p.Mode == "DRY_RUN" {
		return types.OrderResp{
			OrderID: fmt.Sprintf("SIM-%d", time.Now().UnixNano()),
			Status:  "SIMULATED",
			Message: "dry-run",
		}, nil
	}

	if err := z.withToken(ctx); err != nil {
		return types.OrderResp{}, err
	}

	resp, err := z.kc.PlaceOrder(kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        z.p.Exchange,
		Tradingsymbol:   req.Symbol,
		TransactionType: req.Side,
		Quantity:        req.Qty,
		Product:         kiteconnect.ProductMIS,
		OrderType:       kiteconnect.OrderTypeMarket,
		Tag:             req.Tag,
	})
	if err != nil {
		return types.OrderResp{}, z.mapErr(ctx, err)
	}

	return types.OrderResp{
		OrderID: resp.OrderID,
		Status:  "PLACED",
		Message: "ok",
	}, nil
}

// Profile fetches the user profile, which doubles as the session-validity
// probe the health checker uses.
func (z *Zerodha) Profile(ctx context.Context) (string, error) {
	if err := z.withToken(ctx); err != nil {
		return "", err
	}

	prof, err := z.kc.GetUserProfile()
	if err != nil {
		return "", z.mapErr(ctx, err)
	}
	return prof.UserID, nil
}

func (z *Zerodha) withToken(ctx context.Context) error {
	tok, err := z.tokens.GetValidToken(ctx)
	if err != nil {
		return fmt.Errorf("no valid session: %w", err)
	}
	z.kc.SetAccessToken(tok)
	return nil
}

// mapErr reports token rejections to the session manager so the next caller
// re-authenticates instead of reusing a dead token.
func (z *Zerodha) mapErr(ctx context.Context, err error) error {
	var ke kiteconnect.Error
	if errors.As(err, &ke) && ke.ErrorType == kiteconnect.TokenError {
		logger.Warn(ctx, "Broker rejected access token, invalidating session")
		z.tokens.Invalidate()
		return fmt.Errorf("access token rejected: %w", err)
	}
	return err
}
