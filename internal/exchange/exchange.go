package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"exchange-wrapper/internal/core"
)

// Gateway is the exchange connectivity the core consumes. Implementations own
// transport, signing, rate limiting and response parsing.
type Gateway interface {
	Name() string
	LoadMarkets(ctx context.Context) error
	Market(symbol string) (core.Market, error)
	FetchTicker(ctx context.Context, symbol string, params Params) (core.Ticker, error)
	FetchBalance(ctx context.Context, params Params) (core.Balances, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, params Params) ([]core.Candle, error)
	CreateOrder(ctx context.Context, req OrderRequest) (core.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string, params Params) (core.Order, error)
	FetchOrder(ctx context.Context, orderID, symbol string, params Params) (core.Order, error)
	FetchOrders(ctx context.Context, symbol string, params Params) ([]core.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string, params Params) ([]core.Order, error)
}

// OrderRequest is a create-order call. A zero Price means no price is sent.
type OrderRequest struct {
	Symbol string
	Type   core.OrderType
	Side   core.Side
	Amount decimal.Decimal
	Price  decimal.Decimal
	Params Params
}
