// Package router places, looks up and cancels orders, choosing per exchange which
// private endpoint serves each order category.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange"
	"exchange-wrapper/internal/intercept"
)

type Router struct {
	gw       exchange.Gateway
	strategy Strategy
	chain    intercept.Chain
	log      logrus.FieldLogger
}

// New builds a router. A nil strategy selects the one registered for the gateway.
func New(gw exchange.Gateway, strategy Strategy, chain intercept.Chain, log logrus.FieldLogger) *Router {
	if strategy == nil {
		strategy = StrategyFor(gw.Name())
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Router{gw: gw, strategy: strategy, chain: chain, log: log}
}

func (r *Router) Strategy() Strategy { return r.strategy }

func (r *Router) PlaceMarketOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal, params exchange.Params) (core.Order, error) {
	return r.place(ctx, "place_market_order", exchange.OrderRequest{
		Symbol: symbol, Type: core.MarketOrder, Side: side, Amount: amount, Params: params,
	})
}

func (r *Router) PlaceLimitOrder(ctx context.Context, symbol string, side core.Side, amount, price decimal.Decimal, params exchange.Params) (core.Order, error) {
	if price.Sign() <= 0 {
		return core.Order{}, fmt.Errorf("%w: limit price must be positive", core.ErrInvalidArgument)
	}
	return r.place(ctx, "place_limit_order", exchange.OrderRequest{
		Symbol: symbol, Type: core.Limit, Side: side, Amount: amount, Price: price, Params: params,
	})
}

// PlaceStopOrder submits a stop order triggered at stopPrice. A zero price makes the
// order execute at market once triggered.
func (r *Router) PlaceStopOrder(ctx context.Context, symbol string, side core.Side, amount, stopPrice, price decimal.Decimal, params exchange.Params) (core.Order, error) {
	if stopPrice.Sign() <= 0 {
		return core.Order{}, fmt.Errorf("%w: stop price must be positive", core.ErrInvalidArgument)
	}
	if price.IsNegative() {
		return core.Order{}, fmt.Errorf("%w: price must not be negative", core.ErrInvalidArgument)
	}
	return r.place(ctx, "place_stop_order", exchange.OrderRequest{
		Symbol: symbol, Type: core.Stop, Side: side, Amount: amount, Price: price,
		Params: params.With(exchange.ParamStopPrice, stopPrice),
	})
}

func (r *Router) PlaceTakeProfitOrder(ctx context.Context, symbol string, side core.Side, amount, triggerPrice decimal.Decimal, params exchange.Params) (core.Order, error) {
	if triggerPrice.Sign() <= 0 {
		return core.Order{}, fmt.Errorf("%w: trigger price must be positive", core.ErrInvalidArgument)
	}
	return r.place(ctx, "place_take_profit_order", exchange.OrderRequest{
		Symbol: symbol, Type: core.TakeProfit, Side: side, Amount: amount,
		Params: params.With(exchange.ParamTriggerPrice, triggerPrice),
	})
}

func (r *Router) place(ctx context.Context, name string, req exchange.OrderRequest) (core.Order, error) {
	if req.Side != core.Buy && req.Side != core.Sell {
		return core.Order{}, fmt.Errorf("%w: side must be buy or sell, got %q", core.ErrInvalidArgument, req.Side)
	}
	if err := req.Params.Validate(); err != nil {
		return core.Order{}, err
	}
	var order core.Order
	err := r.chain.Run(ctx, intercept.Op{Name: name, Symbol: req.Symbol, Private: true, ReloadMarkets: true}, func(ctx context.Context) error {
		if req.Amount.Sign() <= 0 {
			r.log.WithFields(logrus.Fields{"symbol": req.Symbol, "type": string(req.Type), "amount": req.Amount.String()}).
				Debug("non-positive order size, nothing submitted")
			return nil
		}
		var err error
		order, err = r.gw.CreateOrder(ctx, req)
		if err != nil {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"symbol": req.Symbol,
			"type":   string(req.Type),
			"side":   string(req.Side),
			"amount": req.Amount.String(),
			"id":     order.ID,
		}).Info("order placed")
		return nil
	})
	if err != nil {
		return core.Order{}, err
	}
	return order, nil
}

// GetOrder fetches an order by id.
func (r *Router) GetOrder(ctx context.Context, orderID, symbol string, params exchange.Params) (core.Order, error) {
	if err := checkLookup(orderID, params); err != nil {
		return core.Order{}, err
	}
	var order core.Order
	err := r.chain.Run(ctx, intercept.Op{Name: "get_order", Symbol: symbol, Private: true, ReloadMarkets: true}, func(ctx context.Context) error {
		var err error
		order, err = r.fetch(ctx, orderID, symbol, CategoryUnknown, params)
		return err
	})
	if err != nil {
		return core.Order{}, err
	}
	return order, nil
}

func (r *Router) fetch(ctx context.Context, orderID, symbol string, cat Category, params exchange.Params) (core.Order, error) {
	return r.gw.FetchOrder(ctx, orderID, symbol, r.strategy.BuildFetchRequest(cat, params))
}

// CancelOrder cancels by id. When the strategy needs the order category, the order is
// fetched first.
func (r *Router) CancelOrder(ctx context.Context, orderID, symbol string, params exchange.Params) (core.Order, error) {
	if err := checkLookup(orderID, params); err != nil {
		return core.Order{}, err
	}
	var out core.Order
	err := r.chain.Run(ctx, intercept.Op{Name: "cancel_order", Symbol: symbol, Private: true, ReloadMarkets: true}, func(ctx context.Context) error {
		cat := CategoryPlain
		if r.strategy.RequiresLookup() {
			order, err := r.fetch(ctx, orderID, symbol, CategoryUnknown, params)
			if err != nil {
				return err
			}
			cat = r.strategy.ClassifyOrder(order)
		}
		var err error
		out, err = r.cancel(ctx, orderID, symbol, cat, params)
		return err
	})
	if err != nil {
		return core.Order{}, err
	}
	return out, nil
}

// CancelOrderObject cancels a previously returned order record without a lookup.
func (r *Router) CancelOrderObject(ctx context.Context, order core.Order, params exchange.Params) (core.Order, error) {
	if err := checkLookup(order.ID, params); err != nil {
		return core.Order{}, err
	}
	var out core.Order
	err := r.chain.Run(ctx, intercept.Op{Name: "cancel_order", Symbol: order.Symbol, Private: true, ReloadMarkets: true}, func(ctx context.Context) error {
		var err error
		out, err = r.cancel(ctx, order.ID, order.Symbol, r.strategy.ClassifyOrder(order), params)
		return err
	})
	if err != nil {
		return core.Order{}, err
	}
	return out, nil
}

func (r *Router) cancel(ctx context.Context, orderID, symbol string, cat Category, params exchange.Params) (core.Order, error) {
	req := r.strategy.BuildCancelRequest(cat, params)
	endpoint, _ := req.String(exchange.ParamEndpoint)
	r.log.WithFields(logrus.Fields{
		"id":       orderID,
		"symbol":   symbol,
		"category": cat.String(),
		"endpoint": endpoint,
	}).Debug("cancelling order")
	return r.gw.CancelOrder(ctx, orderID, symbol, req)
}

// GetOrderStatus fetches the order and normalizes its status.
func (r *Router) GetOrderStatus(ctx context.Context, orderID, symbol string, params exchange.Params) (string, error) {
	if err := checkLookup(orderID, params); err != nil {
		return "", err
	}
	var status string
	err := r.chain.Run(ctx, intercept.Op{Name: "get_order_status", Symbol: symbol, Private: true, ReloadMarkets: true}, func(ctx context.Context) error {
		order, err := r.fetch(ctx, orderID, symbol, CategoryUnknown, params)
		if err != nil {
			return err
		}
		status, err = OrderStatus(order)
		return err
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// OrderStatus maps an order to filled, open or canceled. An order with no remaining
// size is filled whatever the exchange reports.
func OrderStatus(order core.Order) (string, error) {
	if !order.Remaining.Valid {
		return "", fmt.Errorf("%w: order %s has no remaining size (status %q)", core.ErrUnrecognizedStatus, order.ID, order.Status)
	}
	if order.Remaining.Decimal.IsZero() {
		return core.StatusFilled, nil
	}
	switch status := strings.ToLower(order.Status); status {
	case core.StatusOpen, core.StatusCanceled:
		return status, nil
	}
	return "", fmt.Errorf("%w: order %s status %q with remaining %s", core.ErrUnrecognizedStatus, order.ID, order.Status, order.Remaining.Decimal)
}

// ListOrders returns the orders for symbol; an empty symbol lists every market.
func (r *Router) ListOrders(ctx context.Context, symbol string, openOnly bool, params exchange.Params) ([]core.Order, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var orders []core.Order
	err := r.chain.Run(ctx, intercept.Op{Name: "list_orders", Symbol: symbol, Private: true, ReloadMarkets: true}, func(ctx context.Context) error {
		var err error
		if openOnly {
			orders, err = r.gw.FetchOpenOrders(ctx, symbol, params.Clone())
		} else {
			orders, err = r.gw.FetchOrders(ctx, symbol, params.Clone())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func checkLookup(orderID string, params exchange.Params) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("%w: empty order id", core.ErrInvalidArgument)
	}
	return params.Validate()
}
