// Package sizing converts a sizing instruction ("spend 50% of my quote balance",
// "sell 2.5 base units") into an order quantity the exchange will accept.
package sizing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"exchange-wrapper/internal/auth"
	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange"
	"exchange-wrapper/internal/intercept"
)

var hundred = decimal.NewFromInt(100)

// Request is one sizing instruction. Price and BalanceOverride are optional; when
// absent the calculator reads them from the gateway.
type Request struct {
	Side            core.Side
	Unit            core.SizeUnit
	Value           decimal.Decimal
	Price           decimal.NullDecimal
	BalanceOverride decimal.NullDecimal
	Params          exchange.Params
}

type Calculator struct {
	gw    exchange.Gateway
	gate  *auth.Gate
	chain intercept.Chain
	log   logrus.FieldLogger
}

func New(gw exchange.Gateway, gate *auth.Gate, chain intercept.Chain, log logrus.FieldLogger) *Calculator {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Calculator{gw: gw, gate: gate, chain: chain, log: log}
}

// ComputeOrderSize returns the quantity to submit for symbol. A zero result means the
// instruction resolves below the market minimum and no order should be placed.
func (c *Calculator) ComputeOrderSize(ctx context.Context, symbol string, req Request) (decimal.Decimal, error) {
	if err := validate(req); err != nil {
		return decimal.Zero, err
	}
	var size decimal.Decimal
	op := intercept.Op{Name: "compute_order_size", Symbol: symbol, ReloadMarkets: true}
	err := c.chain.Run(ctx, op, func(ctx context.Context) error {
		var err error
		size, err = c.compute(ctx, symbol, req)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return size, nil
}

func (c *Calculator) compute(ctx context.Context, symbol string, req Request) (decimal.Decimal, error) {
	market, err := c.gw.Market(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	switch req.Unit {
	case core.BasePercent:
		balance, err = c.freeBalance(ctx, market.Base, req)
	case core.QuotePercent:
		balance, err = c.freeBalance(ctx, market.Quote, req)
	}
	if err != nil {
		return decimal.Zero, err
	}

	var price decimal.Decimal
	if req.Unit == core.QuoteAmount || req.Unit == core.QuotePercent {
		price, err = c.price(ctx, symbol, req)
		if err != nil {
			return decimal.Zero, err
		}
	}

	var raw decimal.Decimal
	switch req.Unit {
	case core.BaseAmount:
		raw = req.Value
	case core.QuoteAmount:
		raw = req.Value.Div(price)
	case core.BasePercent:
		raw = req.Value.Div(hundred).Mul(balance)
	case core.QuotePercent:
		raw = req.Value.Div(hundred).Mul(balance).Div(price)
	}

	digits, err := core.PrecisionDigits(market.AmountPrecision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("market %s: %w", symbol, err)
	}
	size, err := core.Truncate(raw, digits)
	if err != nil {
		return decimal.Zero, err
	}

	entry := c.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"unit":   string(req.Unit),
		"value":  req.Value.String(),
		"raw":    raw.String(),
		"digits": digits,
	})
	if size.Sign() <= 0 || size.LessThan(market.MinAmount) {
		entry.WithField("min_amount", market.MinAmount.String()).Debug("order size below market minimum")
		return decimal.Zero, nil
	}
	entry.WithField("size", size.String()).Debug("order size computed")
	return size, nil
}

func (c *Calculator) freeBalance(ctx context.Context, currency string, req Request) (decimal.Decimal, error) {
	if req.BalanceOverride.Valid {
		return req.BalanceOverride.Decimal, nil
	}
	if err := c.gate.Require("fetch_balance"); err != nil {
		return decimal.Zero, errors.Join(core.ErrBalanceUnavailable, err)
	}
	balances, err := c.gw.FetchBalance(ctx, req.Params.Without(exchange.ParamEndpoint))
	if err != nil {
		return decimal.Zero, errors.Join(core.ErrBalanceUnavailable, err)
	}
	return balances.Get(currency).Free, nil
}

// price uses the bid when selling and the ask when buying.
func (c *Calculator) price(ctx context.Context, symbol string, req Request) (decimal.Decimal, error) {
	if req.Price.Valid {
		return req.Price.Decimal, nil
	}
	ticker, err := c.gw.FetchTicker(ctx, symbol, nil)
	if err != nil {
		return decimal.Zero, err
	}
	price := ticker.Ask
	if req.Side == core.Sell {
		price = ticker.Bid
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s quote for %s is %s", core.ErrInvalidArgument, req.Side, symbol, price)
	}
	return price, nil
}

func validate(req Request) error {
	if req.Side != core.Buy && req.Side != core.Sell {
		return fmt.Errorf("%w: side must be buy or sell, got %q", core.ErrInvalidArgument, req.Side)
	}
	switch req.Unit {
	case core.BaseAmount, core.QuoteAmount, core.BasePercent, core.QuotePercent:
	default:
		return fmt.Errorf("%w: unknown size unit %q", core.ErrInvalidArgument, req.Unit)
	}
	if req.Value.IsNegative() {
		return fmt.Errorf("%w: size value %s is negative", core.ErrInvalidArgument, req.Value)
	}
	if (req.Unit == core.BasePercent || req.Unit == core.QuotePercent) && req.Value.GreaterThan(hundred) {
		return fmt.Errorf("%w: percentage %s exceeds 100", core.ErrInvalidArgument, req.Value)
	}
	if req.Price.Valid && req.Price.Decimal.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", core.ErrInvalidArgument)
	}
	if req.BalanceOverride.Valid && req.BalanceOverride.Decimal.IsNegative() {
		return fmt.Errorf("%w: balance override is negative", core.ErrInvalidArgument)
	}
	return req.Params.Validate()
}
