package binance

import (
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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange"
)

const (
	DefaultRestBaseURL = "https://api.binance.com"
	DefaultWSBaseURL   = "wss://stream.binance.com:9443/ws"
	TestnetRestBaseURL = "https://testnet.binance.vision"
	TestnetWSBaseURL   = "wss://testnet.binance.vision/ws"
)

var _ exchange.Gateway = (*Client)(nil)

type AuthType int

const (
	AuthNone AuthType = iota
	AuthAPIKey
	AuthSigned
)

type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	wsBaseURL  string
	recvWindow time.Duration
	marketsTTL time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logrus.FieldLogger

	mu       sync.Mutex
	markets  map[string]symbolInfo
	byID     map[string]string
	loadedAt time.Time
}

type Options struct {
	APIKey          string
	APISecret       string
	RestBaseURL     string
	WSBaseURL       string
	Testnet         bool
	RecvWindowMs    int64
	HTTPTimeoutSec  int64
	EnableRateLimit bool
	// RequestsPerMinute applies when EnableRateLimit is set; zero uses 1200.
	RequestsPerMinute int
	// MarketsTTL bounds how long loaded markets are reused; zero loads them once.
	MarketsTTL time.Duration
	Logger     logrus.FieldLogger
}

func NewClient(opts Options) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	restURL, wsURL := opts.RestBaseURL, opts.WSBaseURL
	if restURL == "" {
		restURL = DefaultRestBaseURL
		if opts.Testnet {
			restURL = TestnetRestBaseURL
		}
	}
	if wsURL == "" {
		wsURL = DefaultWSBaseURL
		if opts.Testnet {
			wsURL = TestnetWSBaseURL
		}
	}
	limiter := exchange.NewRateLimit(0, 0)
	if opts.EnableRateLimit {
		perMinute := opts.RequestsPerMinute
		if perMinute <= 0 {
			perMinute = 1200
		}
		limiter = exchange.NewRateLimit(time.Minute, perMinute)
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
		baseURL:    strings.TrimRight(restURL, "/"),
		wsBaseURL:  strings.TrimRight(wsURL, "/"),
		recvWindow: time.Duration(opts.RecvWindowMs) * time.Millisecond,
		marketsTTL: opts.MarketsTTL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		log:        log.WithField("exchange", "binance"),
		markets:    make(map[string]symbolInfo),
		byID:       make(map[string]string),
	}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) LoadMarkets(ctx context.Context) error {
	c.mu.Lock()
	fresh := !c.loadedAt.IsZero() && (c.marketsTTL <= 0 || time.Since(c.loadedAt) < c.marketsTTL)
	c.mu.Unlock()
	if fresh {
		return nil
	}
	return c.ReloadMarkets(ctx)
}

// ReloadMarkets fetches exchangeInfo and replaces the market cache.
func (c *Client) ReloadMarkets(ctx context.Context) error {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", url.Values{}, AuthNone)
	if err != nil {
		return err
	}
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: decode exchangeInfo: %v", core.ErrGateway, err)
	}
	markets := make(map[string]symbolInfo, len(resp.Symbols))
	byID := make(map[string]string, len(resp.Symbols))
	for _, s := range resp.Symbols {
		info := parseSymbolInfo(s)
		markets[info.market.Symbol] = info
		byID[info.market.ID] = info.market.Symbol
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
	info, err := c.symbolInfo(symbol)
	if err != nil {
		return core.Market{}, err
	}
	return info.market, nil
}

func (c *Client) symbolInfo(symbol string) (symbolInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.markets[strings.ToUpper(symbol)]
	if !ok {
		return symbolInfo{}, fmt.Errorf("%w: %s", core.ErrUnknownMarket, symbol)
	}
	return info, nil
}

func (c *Client) unifiedSymbol(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if symbol, ok := c.byID[id]; ok {
		return symbol
	}
	return id
}

func (c *Client) marketID(symbol string) (string, error) {
	info, err := c.symbolInfo(symbol)
	if err != nil {
		return "", err
	}
	return info.market.ID, nil
}

func (c *Client) FetchTicker(ctx context.Context, symbol string, params exchange.Params) (core.Ticker, error) {
	id, err := c.marketID(symbol)
	if err != nil {
		return core.Ticker{}, err
	}
	values := passthrough(params)
	values.Set("symbol", id)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", values, AuthNone)
	if err != nil {
		return core.Ticker{}, err
	}
	var resp bookTickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Ticker{}, fmt.Errorf("%w: decode bookTicker: %v", core.ErrGateway, err)
	}
	bid, err := decimal.NewFromString(resp.BidPrice)
	if err != nil {
		return core.Ticker{}, fmt.Errorf("%w: bid price %q", core.ErrGateway, resp.BidPrice)
	}
	ask, err := decimal.NewFromString(resp.AskPrice)
	if err != nil {
		return core.Ticker{}, fmt.Errorf("%w: ask price %q", core.ErrGateway, resp.AskPrice)
	}
	return core.Ticker{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Last:   bid.Add(ask).Div(decimal.NewFromInt(2)),
		Time:   time.Now().UTC(),
	}, nil
}

func (c *Client) FetchBalance(ctx context.Context, params exchange.Params) (core.Balances, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", passthrough(params), AuthSigned)
	if err != nil {
		return nil, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode account: %v", core.ErrGateway, err)
	}
	out := make(core.Balances, len(resp.Balances))
	for _, b := range resp.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		out[strings.ToUpper(b.Asset)] = core.Balance{Free: free, Total: free.Add(locked)}
	}
	return out, nil
}

func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, params exchange.Params) ([]core.Candle, error) {
	id, err := c.marketID(symbol)
	if err != nil {
		return nil, err
	}
	values := passthrough(params)
	values.Set("symbol", id)
	values.Set("interval", timeframe)
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/klines", values, AuthNone)
	if err != nil {
		return nil, err
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode klines: %v", core.ErrGateway, err)
	}
	candles := make([]core.Candle, 0, len(rows))
	for _, row := range rows {
		candle, ok := parseKline(row)
		if !ok {
			return nil, fmt.Errorf("%w: malformed kline row", core.ErrGateway)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (c *Client) CreateOrder(ctx context.Context, req exchange.OrderRequest) (core.Order, error) {
	info, err := c.symbolInfo(req.Symbol)
	if err != nil {
		return core.Order{}, err
	}
	qty := req.Amount
	if info.market.AmountPrecision.Sign() > 0 {
		qty = core.RoundDown(qty, info.market.AmountPrecision)
	}
	if qty.Sign() <= 0 {
		return core.Order{}, fmt.Errorf("%w: quantity %s rounds to zero for step %s", core.ErrInvalidArgument, req.Amount, info.market.AmountPrecision)
	}

	values := passthrough(req.Params.Without(exchange.ParamStopPrice, exchange.ParamTriggerPrice, exchange.ParamClientID))
	values.Set("symbol", info.market.ID)
	values.Set("side", strings.ToUpper(string(req.Side)))
	values.Set("quantity", qty.String())
	values.Set("newOrderRespType", "RESULT")
	clientID, ok := req.Params.String(exchange.ParamClientID)
	if !ok || clientID == "" {
		clientID = newClientOrderID()
	}
	values.Set("newClientOrderId", clientID)

	switch req.Type {
	case core.MarketOrder:
		values.Set("type", "MARKET")
	case core.Limit:
		values.Set("type", "LIMIT")
		values.Set("timeInForce", "GTC")
		values.Set("price", req.Price.String())
	case core.Stop:
		stop, ok := req.Params.String(exchange.ParamStopPrice)
		if !ok {
			return core.Order{}, fmt.Errorf("%w: stop order needs %s", core.ErrInvalidArgument, exchange.ParamStopPrice)
		}
		values.Set("stopPrice", stop)
		if req.Price.Sign() > 0 {
			values.Set("type", "STOP_LOSS_LIMIT")
			values.Set("timeInForce", "GTC")
			values.Set("price", req.Price.String())
		} else {
			values.Set("type", "STOP_LOSS")
		}
	case core.TakeProfit:
		trigger, ok := req.Params.String(exchange.ParamTriggerPrice)
		if !ok {
			return core.Order{}, fmt.Errorf("%w: take profit order needs %s", core.ErrInvalidArgument, exchange.ParamTriggerPrice)
		}
		values.Set("type", "TAKE_PROFIT")
		values.Set("stopPrice", trigger)
	default:
		return core.Order{}, fmt.Errorf("%w: unsupported order type %q", core.ErrInvalidArgument, req.Type)
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", values, AuthSigned)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateOrder) {
			if existing, lookupErr := c.orderByClientID(ctx, info, clientID); lookupErr == nil {
				c.log.WithField("client_id", clientID).Info("duplicate order resolved by client id")
				return existing, nil
			}
		}
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("%w: decode order: %v", core.ErrGateway, err)
	}
	order := resp.toOrder(info.market.Symbol)
	if order.Type == "" {
		order.Type = req.Type
	}
	return order, nil
}

func (c *Client) orderByClientID(ctx context.Context, info symbolInfo, clientID string) (core.Order, error) {
	values := url.Values{}
	values.Set("symbol", info.market.ID)
	values.Set("origClientOrderId", clientID)
	return c.queryOrder(ctx, http.MethodGet, values, info.market.Symbol)
}

func (c *Client) queryOrder(ctx context.Context, method string, values url.Values, symbol string) (core.Order, error) {
	body, err := c.doRequest(ctx, method, "/api/v3/order", values, AuthSigned)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("%w: decode order: %v", core.ErrGateway, err)
	}
	return resp.toOrder(symbol), nil
}

// CancelOrder ignores the endpoint parameter; Binance cancels every order type
// through the same route.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string, params exchange.Params) (core.Order, error) {
	id, err := c.marketID(symbol)
	if err != nil {
		return core.Order{}, err
	}
	values := passthrough(params)
	values.Set("symbol", id)
	values.Set("orderId", orderID)
	return c.queryOrder(ctx, http.MethodDelete, values, c.unifiedSymbol(id))
}

func (c *Client) FetchOrder(ctx context.Context, orderID, symbol string, params exchange.Params) (core.Order, error) {
	id, err := c.marketID(symbol)
	if err != nil {
		return core.Order{}, err
	}
	values := passthrough(params)
	values.Set("symbol", id)
	values.Set("orderId", orderID)
	return c.queryOrder(ctx, http.MethodGet, values, c.unifiedSymbol(id))
}

func (c *Client) FetchOrders(ctx context.Context, symbol string, params exchange.Params) ([]core.Order, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: binance lists order history per symbol", core.ErrInvalidArgument)
	}
	id, err := c.marketID(symbol)
	if err != nil {
		return nil, err
	}
	values := passthrough(params)
	values.Set("symbol", id)
	return c.listOrders(ctx, "/api/v3/allOrders", values)
}

// FetchOpenOrders lists open orders; an empty symbol lists every market.
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string, params exchange.Params) ([]core.Order, error) {
	values := passthrough(params)
	if symbol != "" {
		id, err := c.marketID(symbol)
		if err != nil {
			return nil, err
		}
		values.Set("symbol", id)
	}
	return c.listOrders(ctx, "/api/v3/openOrders", values)
}

func (c *Client) listOrders(ctx context.Context, path string, values url.Values) ([]core.Order, error) {
	body, err := c.doRequest(ctx, http.MethodGet, path, values, AuthSigned)
	if err != nil {
		return nil, err
	}
	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode orders: %v", core.ErrGateway, err)
	}
	orders := make([]core.Order, 0, len(resp))
	for _, ord := range resp {
		orders = append(orders, ord.toOrder(c.unifiedSymbol(ord.Symbol)))
	}
	return orders, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, auth AuthType) ([]byte, error) {
	if auth != AuthNone && (c.apiKey == "" || c.apiSecret == "") {
		return nil, fmt.Errorf("%w: %s %s needs api credentials", core.ErrNotAuthenticated, method, path)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if auth == AuthSigned {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
		params.Set("signature", sign(c.apiSecret, params.Encode()))
	}
	var (
		req *http.Request
		err error
	)
	urlStr := c.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := params.Encode(); encoded != "" {
			urlStr += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, urlStr, strings.NewReader(params.Encode()))
	}
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet && method != http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth == AuthAPIKey || auth == AuthSigned {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
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
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return wrapAPIError(apiErr.Code, apiErr.Msg)
	}
	return fmt.Errorf("%w: binance http error %d: %s", core.ErrGateway, status, strings.TrimSpace(string(body)))
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// passthrough copies caller parameters onto the query, minus the router's
// endpoint selector which Binance does not use.
func passthrough(params exchange.Params) url.Values {
	values := url.Values{}
	for k := range params.Without(exchange.ParamEndpoint) {
		v, _ := params.String(k)
		values.Set(k, v)
	}
	return values
}

func newClientOrderID() string {
	return "x-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
