// Package ftx is a gateway for FTX-style REST APIs, where trigger orders (stop,
// take profit) live under /conditional_orders and are fetched and cancelled there.
package ftx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange"
)

const DefaultBaseURL = "https://ftx.com/api"

const (
	getMarkets             = "/markets"
	getMarket              = "/markets/%s"
	getCandles             = "/markets/%s/candles?"
	getBalances            = "/wallet/balances"
	getOpenOrders          = "/orders?"
	getOrderHistory        = "/orders/history?"
	getOrderStatus         = "/orders/%s"
	placeOrder             = "/orders"
	deleteOrder            = "/orders/%s"
	getOpenTriggerOrders   = "/conditional_orders?"
	getTriggerOrderHistory = "/conditional_orders/history?"
	placeTriggerOrder      = "/conditional_orders"
	cancelTriggerOrder     = "/conditional_orders/%s"
)

const (
	stopOrderType         = "stop"
	takeProfitOrderType   = "takeProfit"
	subaccountHeader      = "FTX-SUBACCOUNT"
	defaultRequestsPerSec = 30
	defaultHTTPTimeout    = 15 * time.Second
)

var _ exchange.Gateway = (*Client)(nil)

type Options struct {
	APIKey     string
	APISecret  string
	Subaccount string
	BaseURL    string

	HTTPTimeoutSec    int64
	EnableRateLimit   bool
	RequestsPerSecond int
	MarketsTTL        time.Duration
	Logger            logrus.FieldLogger
}

type Client struct {
	apiKey     string
	apiSecret  string
	subaccount string
	baseURL    string
	apiPrefix  string
	marketsTTL time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logrus.FieldLogger

	mu       sync.Mutex
	markets  map[string]core.Market
	byID     map[string]string
	loadedAt time.Time
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	// the signature covers the path below the host, including its /api prefix
	prefix := "/api"
	if u, err := url.Parse(baseURL); err == nil {
		prefix = u.Path
	}
	timeout := defaultHTTPTimeout
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	limiter := exchange.NewRateLimit(0, 0)
	if opts.EnableRateLimit {
		rps := opts.RequestsPerSecond
		if rps <= 0 {
			rps = defaultRequestsPerSec
		}
		limiter = exchange.NewRateLimit(time.Second, rps)
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Client{
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		subaccount: opts.Subaccount,
		baseURL:    baseURL,
		apiPrefix:  prefix,
		marketsTTL: opts.MarketsTTL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		log:        log.WithField("exchange", "ftx"),
		markets:    make(map[string]core.Market),
		byID:       make(map[string]string),
	}
}

func (c *Client) Name() string { return "ftx" }

func (c *Client) LoadMarkets(ctx context.Context) error {
	c.mu.Lock()
	fresh := !c.loadedAt.IsZero() && (c.marketsTTL <= 0 || time.Since(c.loadedAt) < c.marketsTTL)
	c.mu.Unlock()
	if fresh {
		return nil
	}
	return c.ReloadMarkets(ctx)
}

func (c *Client) ReloadMarkets(ctx context.Context) error {
	result, err := c.sendHTTPRequest(ctx, http.MethodGet, getMarkets, nil, false)
	if err != nil {
		return err
	}
	markets := make(map[string]core.Market)
	byID := make(map[string]string)
	_, err = jsonparser.ArrayEach(result, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if m, ok := parseMarket(value); ok {
			markets[m.Symbol] = m
			byID[m.ID] = m.Symbol
		}
	})
	if err != nil {
		return fmt.Errorf("%w: decode markets: %v", core.ErrGateway, err)
	}
	c.mu.Lock()
	c.markets = markets
	c.byID = byID
	c.loadedAt = time.Now()
	c.mu.Unlock()
	c.log.WithField("markets", len(markets)).Debug("markets loaded")
	return nil
}

func (c *Client) Market(symbol string) (core.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[strings.ToUpper(symbol)]
	if !ok {
		return core.Market{}, fmt.Errorf("%w: %s", core.ErrUnknownMarket, symbol)
	}
	return m, nil
}

func (c *Client) marketID(symbol string) (string, error) {
	m, err := c.Market(symbol)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (c *Client) unifiedSymbol(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if symbol, ok := c.byID[id]; ok {
		return symbol
	}
	return id
}

func (c *Client) FetchTicker(ctx context.Context, symbol string, _ exchange.Params) (core.Ticker, error) {
	id, err := c.marketID(symbol)
	if err != nil {
		return core.Ticker{}, err
	}
	result, err := c.sendHTTPRequest(ctx, http.MethodGet, fmt.Sprintf(getMarket, id), nil, false)
	if err != nil {
		return core.Ticker{}, err
	}
	bid, okBid := getDecimal(result, "bid")
	ask, okAsk := getDecimal(result, "ask")
	if !okBid || !okAsk {
		return core.Ticker{}, fmt.Errorf("%w: no quote for %s", core.ErrGateway, symbol)
	}
	return core.Ticker{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Last:   getDecimalOrZero(result, "last"),
		Time:   time.Now().UTC(),
	}, nil
}

func (c *Client) FetchBalance(ctx context.Context, _ exchange.Params) (core.Balances, error) {
	result, err := c.sendHTTPRequest(ctx, http.MethodGet, getBalances, nil, true)
	if err != nil {
		return nil, err
	}
	out := make(core.Balances)
	_, err = jsonparser.ArrayEach(result, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		coin, err := jsonparser.GetString(value, "coin")
		if err != nil {
			return
		}
		out[strings.ToUpper(coin)] = core.Balance{
			Free:  getDecimalOrZero(value, "free"),
			Total: getDecimalOrZero(value, "total"),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode balances: %v", core.ErrGateway, err)
	}
	return out, nil
}

// timeframes maps candle intervals to FTX resolutions in seconds.
var timeframes = map[string]int{
	"15s": 15,
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
}

func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, _ exchange.Params) ([]core.Candle, error) {
	id, err := c.marketID(symbol)
	if err != nil {
		return nil, err
	}
	resolution, ok := timeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", core.ErrInvalidArgument, timeframe)
	}
	q := url.Values{}
	q.Set("resolution", strconv.Itoa(resolution))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	result, err := c.sendHTTPRequest(ctx, http.MethodGet, fmt.Sprintf(getCandles, id)+q.Encode(), nil, false)
	if err != nil {
		return nil, err
	}
	var candles []core.Candle
	_, err = jsonparser.ArrayEach(result, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if candle, ok := parseCandle(value); ok {
			candles = append(candles, candle)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode candles: %v", core.ErrGateway, err)
	}
	return candles, nil
}

func (c *Client) CreateOrder(ctx context.Context, req exchange.OrderRequest) (core.Order, error) {
	id, err := c.marketID(req.Symbol)
	if err != nil {
		return core.Order{}, err
	}
	body := map[string]interface{}{
		"market": id,
		"side":   string(req.Side),
		"size":   json.Number(req.Amount.String()),
	}
	path := placeOrder
	switch req.Type {
	case core.MarketOrder:
		body["type"] = "market"
		body["price"] = nil
	case core.Limit:
		body["type"] = "limit"
		body["price"] = json.Number(req.Price.String())
	case core.Stop, core.TakeProfit:
		key, orderType := exchange.ParamStopPrice, stopOrderType
		if req.Type == core.TakeProfit {
			key, orderType = exchange.ParamTriggerPrice, takeProfitOrderType
		}
		trigger, ok := req.Params.String(key)
		if !ok {
			return core.Order{}, fmt.Errorf("%w: %s order needs %s", core.ErrInvalidArgument, req.Type, key)
		}
		path = placeTriggerOrder
		body["type"] = orderType
		body["triggerPrice"] = json.Number(trigger)
		if req.Price.Sign() > 0 {
			body["orderPrice"] = json.Number(req.Price.String())
		}
	default:
		return core.Order{}, fmt.Errorf("%w: unsupported order type %q", core.ErrInvalidArgument, req.Type)
	}
	if !req.Type.IsConditional() {
		clientID, ok := req.Params.String(exchange.ParamClientID)
		if !ok || clientID == "" {
			clientID = uuid.NewString()
		}
		body["clientId"] = clientID
	}
	for k, v := range req.Params.Without(exchange.ParamEndpoint, exchange.ParamStopPrice, exchange.ParamTriggerPrice, exchange.ParamClientID) {
		body[k] = v
	}

	result, err := c.sendHTTPRequest(ctx, http.MethodPost, path, body, true)
	if err != nil {
		return core.Order{}, err
	}
	return parseOrder(result, c.unifiedSymbol), nil
}

// CancelOrder routes to /conditional_orders when params select the conditional
// cancel endpoint.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string, params exchange.Params) (core.Order, error) {
	endpoint, _ := params.String(exchange.ParamEndpoint)
	path := fmt.Sprintf(deleteOrder, url.PathEscape(orderID))
	if endpoint == exchange.EndpointCancelConditional {
		path = fmt.Sprintf(cancelTriggerOrder, url.PathEscape(orderID))
	}
	result, err := c.sendHTTPRequest(ctx, http.MethodDelete, path, nil, true)
	if err != nil {
		return core.Order{}, err
	}
	c.log.WithFields(logrus.Fields{"id": orderID, "path": path, "result": string(result)}).Debug("cancel requested")
	return core.Order{
		ID:     orderID,
		Symbol: symbol,
		Status: core.StatusCanceled,
		Info:   map[string]string{"id": orderID, "result": string(result)},
	}, nil
}

// FetchOrder reads /orders/{id} unless params select the conditional endpoint, in
// which case the open and historical trigger orders of the market are searched.
func (c *Client) FetchOrder(ctx context.Context, orderID, symbol string, params exchange.Params) (core.Order, error) {
	endpoint, _ := params.String(exchange.ParamEndpoint)
	if endpoint != exchange.EndpointFetchConditionalOrder {
		result, err := c.sendHTTPRequest(ctx, http.MethodGet, fmt.Sprintf(getOrderStatus, url.PathEscape(orderID)), nil, true)
		if err != nil {
			return core.Order{}, err
		}
		return parseOrder(result, c.unifiedSymbol), nil
	}
	for _, path := range []string{getOpenTriggerOrders, getTriggerOrderHistory} {
		orders, err := c.listOrders(ctx, path, symbol)
		if err != nil {
			return core.Order{}, err
		}
		for _, o := range orders {
			if o.ID == orderID {
				return o, nil
			}
		}
	}
	return core.Order{}, errors.Join(core.ErrGateway, core.ErrOrderNotFound)
}

func (c *Client) FetchOrders(ctx context.Context, symbol string, _ exchange.Params) ([]core.Order, error) {
	return c.collect(ctx, symbol, getOrderHistory, getTriggerOrderHistory)
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string, _ exchange.Params) ([]core.Order, error) {
	return c.collect(ctx, symbol, getOpenOrders, getOpenTriggerOrders)
}

func (c *Client) collect(ctx context.Context, symbol string, paths ...string) ([]core.Order, error) {
	var out []core.Order
	for _, path := range paths {
		orders, err := c.listOrders(ctx, path, symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, orders...)
	}
	return out, nil
}

func (c *Client) listOrders(ctx context.Context, path, symbol string) ([]core.Order, error) {
	q := url.Values{}
	if symbol != "" {
		id, err := c.marketID(symbol)
		if err != nil {
			return nil, err
		}
		q.Set("market", id)
	}
	result, err := c.sendHTTPRequest(ctx, http.MethodGet, path+q.Encode(), nil, true)
	if err != nil {
		return nil, err
	}
	var orders []core.Order
	_, err = jsonparser.ArrayEach(result, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		orders = append(orders, parseOrder(value, c.unifiedSymbol))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode orders: %v", core.ErrGateway, err)
	}
	return orders, nil
}

func (c *Client) sendHTTPRequest(ctx context.Context, method, path string, data map[string]interface{}, auth bool) ([]byte, error) {
	if auth && (c.apiKey == "" || c.apiSecret == "") {
		return nil, fmt.Errorf("%w: %s %s needs api credentials", core.ErrNotAuthenticated, method, path)
	}
	path = strings.TrimSuffix(path, "?")
	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %v", core.ErrInvalidArgument, err)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("FTX-KEY", c.apiKey)
		req.Header.Set("FTX-TS", ts)
		req.Header.Set("FTX-SIGN", sign(c.apiSecret, ts+method+c.apiPrefix+path+string(payload)))
		if c.subaccount != "" {
			req.Header.Set(subaccountHeader, url.PathEscape(c.subaccount))
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Join(core.ErrGateway, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(core.ErrGateway, err)
	}
	return unwrap(resp.StatusCode, body)
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
