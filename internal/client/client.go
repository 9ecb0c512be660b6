// Package client is the entry point callers use: it builds the configured gateway
// and exposes market data, balances, order sizing and the order lifecycle behind one
// value whose authentication state is fixed at construction.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"exchange-wrapper/internal/auth"
	"exchange-wrapper/internal/config"
	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange"
	"exchange-wrapper/internal/exchange/binance"
	"exchange-wrapper/internal/exchange/ftx"
	"exchange-wrapper/internal/exchange/sim"
	"exchange-wrapper/internal/intercept"
	"exchange-wrapper/internal/logging"
	"exchange-wrapper/internal/router"
	"exchange-wrapper/internal/sizing"
)

const defaultKeepalive = 30 * time.Second

// Client embeds the order router, so placement, lookup and cancellation are called
// on it directly.
type Client struct {
	*router.Router

	gw    exchange.Gateway
	gate  *auth.Gate
	chain intercept.Chain
	sizer *sizing.Calculator
	log   logrus.FieldLogger

	keepalive time.Duration
}

// Precision is the sizing metadata of one market.
type Precision struct {
	AmountPrecision decimal.Decimal
	Digits          int
	MinAmount       decimal.Decimal
}

type tickerStreamer interface {
	StreamBookTicker(ctx context.Context, symbol string, keepalive time.Duration, fn func(core.Ticker)) error
}

// New wraps an existing gateway. A nil strategy selects the one registered for the
// gateway name. Extra interceptors run after the standard chain.
func New(gw exchange.Gateway, creds auth.Credentials, strategy router.Strategy, log logrus.FieldLogger, extra ...intercept.Interceptor) *Client {
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithField("exchange", gw.Name())
	gate := auth.NewGate(creds)
	chain := append(intercept.Standard(log, gate, gw), extra...)
	return &Client{
		Router: router.New(gw, strategy, chain, log),
		gw:     gw,
		gate:   gate,
		chain:  chain,
		sizer:  sizing.New(gw, gate, chain, log),
		log:    log,

		keepalive: defaultKeepalive,
	}
}

// Open builds the gateway named in cfg and wraps it.
func Open(cfg config.Config, log logrus.FieldLogger) (*Client, error) {
	if log == nil {
		log = logging.Discard()
	}
	ex := cfg.Exchange
	creds := auth.Credentials{APIKey: ex.APIKey, APISecret: ex.APISecret}
	rateLimit := ex.EnableRateLimit == nil || *ex.EnableRateLimit
	marketsTTL := time.Duration(ex.MarketsTTLSec) * time.Second
	var extra []intercept.Interceptor
	if ex.BreakerMaxFailures > 0 {
		breaker := intercept.NewBreaker(ex.BreakerMaxFailures, time.Duration(ex.BreakerCooldownSec)*time.Second, log)
		extra = append(extra, breaker.Interceptor())
	}

	switch ex.Name {
	case config.ExchangeBinance:
		gw := binance.NewClient(binance.Options{
			APIKey:            ex.APIKey,
			APISecret:         ex.APISecret,
			RestBaseURL:       ex.RestBaseURL,
			WSBaseURL:         ex.WSBaseURL,
			Testnet:           ex.Testnet,
			RecvWindowMs:      ex.RecvWindowMs,
			HTTPTimeoutSec:    ex.HTTPTimeoutSec,
			EnableRateLimit:   rateLimit,
			RequestsPerMinute: ex.RequestsPerMinute,
			MarketsTTL:        marketsTTL,
			Logger:            log,
		})
		c := New(gw, creds, nil, log, extra...)
		if ex.WSKeepaliveSec > 0 {
			c.keepalive = time.Duration(ex.WSKeepaliveSec) * time.Second
		}
		return c, nil
	case config.ExchangeFTX:
		perSecond := 0
		if ex.RequestsPerMinute > 0 {
			perSecond = max(ex.RequestsPerMinute/60, 1)
		}
		gw := ftx.NewClient(ftx.Options{
			APIKey:            ex.APIKey,
			APISecret:         ex.APISecret,
			Subaccount:        ex.Subaccount,
			BaseURL:           ex.RestBaseURL,
			HTTPTimeoutSec:    ex.HTTPTimeoutSec,
			EnableRateLimit:   rateLimit,
			RequestsPerSecond: perSecond,
			MarketsTTL:        marketsTTL,
			Logger:            log,
		})
		return New(gw, creds, nil, log, extra...), nil
	case config.ExchangePaper:
		gw, err := newPaper(cfg.Paper)
		if err != nil {
			return nil, err
		}
		var strategy router.Strategy = router.GenericStrategy{}
		if cfg.Paper.SplitConditional {
			strategy = router.ConditionalSplitStrategy{}
		}
		return New(gw, creds, strategy, log, extra...), nil
	}
	return nil, fmt.Errorf("%w: unsupported exchange %q", core.ErrInvalidArgument, ex.Name)
}

func newPaper(cfg config.PaperConfig) (*sim.Exchange, error) {
	gw := sim.New(sim.Options{SplitConditional: cfg.SplitConditional})
	for _, m := range cfg.Markets {
		err := gw.AddMarket(core.Market{
			Symbol:          m.Symbol,
			AmountPrecision: m.AmountPrecision.Decimal,
			PricePrecision:  m.PricePrecision.Decimal,
			MinAmount:       m.MinAmount.Decimal,
		})
		if err != nil {
			return nil, err
		}
	}
	for _, b := range cfg.Balances {
		gw.SetBalance(b.Currency, b.Free.Decimal, b.Total.Decimal)
	}
	for _, q := range cfg.Quotes {
		gw.SetTicker(q.Symbol, q.Bid.Decimal, q.Ask.Decimal)
	}
	return gw, nil
}

func (c *Client) Name() string { return c.gw.Name() }

func (c *Client) State() auth.State { return c.gate.State() }

func (c *Client) Gateway() exchange.Gateway { return c.gw }

func (c *Client) Ticker(ctx context.Context, symbol string, params exchange.Params) (core.Ticker, error) {
	if err := params.Validate(); err != nil {
		return core.Ticker{}, err
	}
	var t core.Ticker
	err := c.chain.Run(ctx, intercept.Op{Name: "fetch_ticker", Symbol: symbol, ReloadMarkets: true}, func(ctx context.Context) error {
		var err error
		t, err = c.gw.FetchTicker(ctx, symbol, params.Clone())
		return err
	})
	if err != nil {
		return core.Ticker{}, err
	}
	return t, nil
}

func (c *Client) Bid(ctx context.Context, symbol string, params exchange.Params) (decimal.Decimal, error) {
	t, err := c.Ticker(ctx, symbol, params)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Bid, nil
}

func (c *Client) Ask(ctx context.Context, symbol string, params exchange.Params) (decimal.Decimal, error) {
	t, err := c.Ticker(ctx, symbol, params)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Ask, nil
}

// Klines returns up to limit closed candles, oldest first. The newest candle returned
// by the exchange is still forming and is dropped.
func (c *Client) Klines(ctx context.Context, symbol, timeframe string, limit int, params exchange.Params) ([]core.Candle, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative kline limit", core.ErrInvalidArgument)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var candles []core.Candle
	err := c.chain.Run(ctx, intercept.Op{Name: "fetch_ohlcv", Symbol: symbol, ReloadMarkets: true}, func(ctx context.Context) error {
		var err error
		candles, err = c.gw.FetchOHLCV(ctx, symbol, timeframe, limit, params.Clone())
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}
	return candles, nil
}

func (c *Client) Market(ctx context.Context, symbol string) (core.Market, error) {
	var m core.Market
	err := c.chain.Run(ctx, intercept.Op{Name: "get_market", Symbol: symbol, ReloadMarkets: true}, func(context.Context) error {
		var err error
		m, err = c.gw.Market(symbol)
		return err
	})
	if err != nil {
		return core.Market{}, err
	}
	return m, nil
}

func (c *Client) Precision(ctx context.Context, symbol string) (Precision, error) {
	m, err := c.Market(ctx, symbol)
	if err != nil {
		return Precision{}, err
	}
	digits, err := core.PrecisionDigits(m.AmountPrecision)
	if err != nil {
		return Precision{}, err
	}
	return Precision{AmountPrecision: m.AmountPrecision, Digits: digits, MinAmount: m.MinAmount}, nil
}

func (c *Client) Balances(ctx context.Context, params exchange.Params) (core.Balances, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var out core.Balances
	err := c.chain.Run(ctx, intercept.Op{Name: "fetch_balance", Private: true}, func(ctx context.Context) error {
		var err error
		out, err = c.gw.FetchBalance(ctx, params.Without(exchange.ParamEndpoint))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FreeBalance returns the spendable amount of currency; a currency the account never
// held reads as zero.
func (c *Client) FreeBalance(ctx context.Context, currency string, params exchange.Params) (decimal.Decimal, error) {
	b, err := c.Balances(ctx, params)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Get(currency).Free, nil
}

func (c *Client) TotalBalance(ctx context.Context, currency string, params exchange.Params) (decimal.Decimal, error) {
	b, err := c.Balances(ctx, params)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Get(currency).Total, nil
}

func (c *Client) ComputeOrderSize(ctx context.Context, symbol string, req sizing.Request) (decimal.Decimal, error) {
	return c.sizer.ComputeOrderSize(ctx, symbol, req)
}

// WatchTicker streams best bid/ask updates until ctx ends. Gateways without a push
// feed return errors.ErrUnsupported.
func (c *Client) WatchTicker(ctx context.Context, symbol string, fn func(core.Ticker)) error {
	s, ok := c.gw.(tickerStreamer)
	if !ok {
		return fmt.Errorf("%s ticker stream: %w", c.gw.Name(), errors.ErrUnsupported)
	}
	if err := c.gw.LoadMarkets(ctx); err != nil {
		return err
	}
	c.log.WithField("symbol", symbol).Info("watching ticker")
	return s.StreamBookTicker(ctx, symbol, c.keepalive, fn)
}
