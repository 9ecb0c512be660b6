package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"exchange-wrapper/internal/auth"
	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange/binance"
)

const binanceInfo = `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","filters":[
{"filterType":"PRICE_FILTER","tickSize":"0.01000000"},
{"filterType":"LOT_SIZE","minQty":"0.00001000","stepSize":"0.00001000"}]}]}`

type binanceStub struct {
	infoCalls int32
}

func (s *binanceStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	order := map[string]any{
		"symbol":      "BTCUSDT",
		"orderId":     7,
		"price":       "0",
		"origQty":     "0.01",
		"executedQty": "0",
		"status":      "NEW",
		"side":        "BUY",
		"type":        "MARKET",
	}
	switch r.URL.Path {
	case "/api/v3/exchangeInfo":
		atomic.AddInt32(&s.infoCalls, 1)
		_, _ = w.Write([]byte(binanceInfo))
	case "/api/v3/order":
		if r.Method == http.MethodDelete {
			order["status"] = "CANCELED"
		}
		_ = json.NewEncoder(w).Encode(order)
	case "/api/v3/openOrders":
		_ = json.NewEncoder(w).Encode([]map[string]any{order})
	default:
		http.NotFound(w, r)
	}
}

func TestOrderPathLoadsMarketsOnFreshGateway(t *testing.T) {
	stub := &binanceStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	gw := binance.NewClient(binance.Options{APIKey: "key", APISecret: "secret", RestBaseURL: srv.URL})
	c := New(gw, auth.Credentials{APIKey: "key", APISecret: "secret"}, nil, nil)
	ctx := context.Background()

	order, err := c.PlaceMarketOrder(ctx, "BTC/USDT", core.Buy, decimal.RequireFromString("0.01"), nil)
	if err != nil {
		t.Fatalf("PlaceMarketOrder() error = %v", err)
	}
	if order.ID != "7" || order.Symbol != "BTC/USDT" {
		t.Fatalf("PlaceMarketOrder() = %s %s, want 7 BTC/USDT", order.ID, order.Symbol)
	}
	if _, err := c.GetOrder(ctx, "7", "BTC/USDT", nil); err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	status, err := c.GetOrderStatus(ctx, "7", "BTC/USDT", nil)
	if err != nil || status != core.StatusOpen {
		t.Fatalf("GetOrderStatus() = %q, %v, want open", status, err)
	}
	orders, err := c.ListOrders(ctx, "BTC/USDT", true, nil)
	if err != nil || len(orders) != 1 {
		t.Fatalf("ListOrders() = %d orders, %v, want 1", len(orders), err)
	}
	canceled, err := c.CancelOrder(ctx, "7", "BTC/USDT", nil)
	if err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if canceled.Status != core.StatusCanceled {
		t.Fatalf("CancelOrder().Status = %q, want canceled", canceled.Status)
	}
	if got := atomic.LoadInt32(&stub.infoCalls); got != 1 {
		t.Fatalf("exchangeInfo calls = %d, want 1 (markets cached after first load)", got)
	}
}
