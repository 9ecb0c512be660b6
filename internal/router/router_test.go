package router

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"exchange-wrapper/internal/auth"
	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange"
	"exchange-wrapper/internal/exchange/sim"
	"exchange-wrapper/internal/intercept"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestRouter(t *testing.T, name string, split bool, creds auth.Credentials) (*Router, *sim.Exchange) {
	t.Helper()
	ex := sim.New(sim.Options{Name: name, SplitConditional: split})
	if err := ex.AddMarket(core.Market{Symbol: "BTC/USDT", AmountPrecision: d("0.0001"), MinAmount: d("0.0001")}); err != nil {
		t.Fatalf("AddMarket() error = %v", err)
	}
	ex.SetTicker("BTC/USDT", d("49990"), d("50000"))
	gate := auth.NewGate(creds)
	return New(ex, nil, intercept.Standard(nil, gate, ex), nil), ex
}

var fullCreds = auth.Credentials{APIKey: "key", APISecret: "secret"}

func lastCall(t *testing.T, ex *sim.Exchange, method string) sim.Call {
	t.Helper()
	calls := ex.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method {
			return calls[i]
		}
	}
	t.Fatalf("no %s call recorded", method)
	return sim.Call{}
}

func TestStrategySelection(t *testing.T) {
	if got := StrategyFor("FTX").Name(); got != "conditional_split" {
		t.Fatalf("StrategyFor(FTX) = %s, want conditional_split", got)
	}
	if got := StrategyFor("binance").Name(); got != "generic" {
		t.Fatalf("StrategyFor(binance) = %s, want generic", got)
	}
}

func TestCancelByIDRoutesStopOrderToConditionalEndpoint(t *testing.T) {
	r, ex := newTestRouter(t, "ftx", true, fullCreds)
	ctx := context.Background()
	stop, err := r.PlaceStopOrder(ctx, "BTC/USDT", core.Sell, d("0.01"), d("45000"), decimal.Zero, nil)
	if err != nil {
		t.Fatalf("PlaceStopOrder() error = %v", err)
	}
	ex.ResetCalls()

	canceled, err := r.CancelOrder(ctx, stop.ID, "BTC/USDT", nil)
	if err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if canceled.Status != core.StatusCanceled {
		t.Fatalf("CancelOrder() status = %s, want %s", canceled.Status, core.StatusCanceled)
	}
	calls := ex.Calls()
	if len(calls) != 3 || calls[0].Method != "LoadMarkets" || calls[1].Method != "FetchOrder" || calls[2].Method != "CancelOrder" {
		t.Fatalf("calls = %+v, want load markets, fetch then cancel", calls)
	}
	if calls[1].Endpoint != exchange.EndpointFetchOrder {
		t.Fatalf("lookup endpoint = %q, want %q", calls[1].Endpoint, exchange.EndpointFetchOrder)
	}
	if calls[2].Endpoint != exchange.EndpointCancelConditional {
		t.Fatalf("cancel endpoint = %q, want %q", calls[2].Endpoint, exchange.EndpointCancelConditional)
	}
}

func TestCancelPlainOrderOnSplitExchange(t *testing.T) {
	r, ex := newTestRouter(t, "ftx", true, fullCreds)
	ctx := context.Background()
	limit, err := r.PlaceLimitOrder(ctx, "BTC/USDT", core.Buy, d("0.01"), d("40000"), nil)
	if err != nil {
		t.Fatalf("PlaceLimitOrder() error = %v", err)
	}
	if _, err := r.CancelOrderObject(ctx, limit, nil); err != nil {
		t.Fatalf("CancelOrderObject() error = %v", err)
	}
	if got := lastCall(t, ex, "CancelOrder").Endpoint; got != exchange.EndpointCancelOrder {
		t.Fatalf("cancel endpoint = %q, want %q", got, exchange.EndpointCancelOrder)
	}
}

func TestGenericStrategyFailsOnSplitExchange(t *testing.T) {
	ex := sim.New(sim.Options{Name: "ftx", SplitConditional: true})
	_ = ex.AddMarket(core.Market{Symbol: "BTC/USDT", AmountPrecision: d("0.0001")})
	gate := auth.NewGate(fullCreds)
	r := New(ex, GenericStrategy{}, intercept.Standard(nil, gate, ex), nil)
	ctx := context.Background()
	tp, err := r.PlaceTakeProfitOrder(ctx, "BTC/USDT", core.Sell, d("0.01"), d("60000"), nil)
	if err != nil {
		t.Fatalf("PlaceTakeProfitOrder() error = %v", err)
	}
	if _, err := r.CancelOrder(ctx, tp.ID, "BTC/USDT", nil); !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("CancelOrder() error = %v, want %v", err, core.ErrOrderNotFound)
	}
}

func TestCancelByIDGenericSkipsLookup(t *testing.T) {
	r, ex := newTestRouter(t, "binance", false, fullCreds)
	ctx := context.Background()
	stop, err := r.PlaceStopOrder(ctx, "BTC/USDT", core.Sell, d("0.01"), d("45000"), d("44900"), nil)
	if err != nil {
		t.Fatalf("PlaceStopOrder() error = %v", err)
	}
	ex.ResetCalls()
	if _, err := r.CancelOrder(ctx, stop.ID, "BTC/USDT", nil); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	calls := ex.Calls()
	if len(calls) != 2 || calls[0].Method != "LoadMarkets" || calls[1].Method != "CancelOrder" || calls[1].Endpoint != "" {
		t.Fatalf("calls = %+v, want a market reload then a single plain cancel", calls)
	}
}

func TestConditionalParamsMergedWithoutMutation(t *testing.T) {
	r, _ := newTestRouter(t, "binance", false, fullCreds)
	ctx := context.Background()
	params := exchange.Params{"note": "x"}

	stop, err := r.PlaceStopOrder(ctx, "BTC/USDT", core.Sell, d("0.01"), d("45000"), d("44900"), params)
	if err != nil {
		t.Fatalf("PlaceStopOrder() error = %v", err)
	}
	if stop.Info[exchange.ParamStopPrice] != "45000" || !stop.Price.Equal(d("44900")) {
		t.Fatalf("stop order info = %v price = %s", stop.Info, stop.Price)
	}
	tp, err := r.PlaceTakeProfitOrder(ctx, "BTC/USDT", core.Sell, d("0.01"), d("60000"), params)
	if err != nil {
		t.Fatalf("PlaceTakeProfitOrder() error = %v", err)
	}
	if tp.Info[exchange.ParamTriggerPrice] != "60000" || !tp.Price.IsZero() {
		t.Fatalf("take profit info = %v price = %s", tp.Info, tp.Price)
	}
	if len(params) != 1 {
		t.Fatalf("caller params mutated: %v", params)
	}
}

func TestNonPositiveSizeIsNoop(t *testing.T) {
	r, ex := newTestRouter(t, "binance", false, fullCreds)
	ctx := context.Background()
	for _, amount := range []string{"0", "-0.5"} {
		order, err := r.PlaceMarketOrder(ctx, "BTC/USDT", core.Buy, d(amount), nil)
		if err != nil {
			t.Fatalf("PlaceMarketOrder(%s) error = %v", amount, err)
		}
		if !order.IsZero() {
			t.Fatalf("PlaceMarketOrder(%s) = %+v, want zero order", amount, order)
		}
	}
	for _, call := range ex.Calls() {
		if call.Method == "CreateOrder" {
			t.Fatalf("zero-size order reached the gateway")
		}
	}
}

func TestPrivateOperationsRequireAuth(t *testing.T) {
	r, ex := newTestRouter(t, "ftx", true, auth.Credentials{APIKey: "only-key"})
	ctx := context.Background()
	ops := map[string]func() error{
		"market": func() error {
			_, err := r.PlaceMarketOrder(ctx, "BTC/USDT", core.Buy, d("0.01"), nil)
			return err
		},
		"market zero size": func() error {
			_, err := r.PlaceMarketOrder(ctx, "BTC/USDT", core.Buy, decimal.Zero, nil)
			return err
		},
		"limit": func() error {
			_, err := r.PlaceLimitOrder(ctx, "BTC/USDT", core.Buy, d("0.01"), d("1"), nil)
			return err
		},
		"stop": func() error {
			_, err := r.PlaceStopOrder(ctx, "BTC/USDT", core.Sell, d("0.01"), d("1"), decimal.Zero, nil)
			return err
		},
		"take profit": func() error {
			_, err := r.PlaceTakeProfitOrder(ctx, "BTC/USDT", core.Sell, d("0.01"), d("1"), nil)
			return err
		},
		"cancel": func() error {
			_, err := r.CancelOrder(ctx, "1", "BTC/USDT", nil)
			return err
		},
		"cancel object": func() error {
			_, err := r.CancelOrderObject(ctx, core.Order{ID: "1", Symbol: "BTC/USDT"}, nil)
			return err
		},
		"get": func() error {
			_, err := r.GetOrder(ctx, "1", "BTC/USDT", nil)
			return err
		},
		"status": func() error {
			_, err := r.GetOrderStatus(ctx, "1", "BTC/USDT", nil)
			return err
		},
		"list": func() error {
			_, err := r.ListOrders(ctx, "BTC/USDT", true, nil)
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, core.ErrNotAuthenticated) {
			t.Fatalf("%s error = %v, want %v", name, err, core.ErrNotAuthenticated)
		}
	}
	if calls := ex.Calls(); len(calls) != 0 {
		t.Fatalf("gateway reached without credentials: %+v", calls)
	}
}

func TestOrderStatus(t *testing.T) {
	cases := []struct {
		status    string
		remaining decimal.NullDecimal
		want      string
		wantErr   bool
	}{
		{"closed", decimal.NewNullDecimal(decimal.Zero), core.StatusFilled, false},
		{"open", decimal.NewNullDecimal(decimal.Zero), core.StatusFilled, false},
		{"open", decimal.NewNullDecimal(d("0.5")), core.StatusOpen, false},
		{"CANCELED", decimal.NewNullDecimal(d("0.5")), core.StatusCanceled, false},
		{"expired", decimal.NewNullDecimal(d("0.5")), "", true},
		{"closed", decimal.NewNullDecimal(d("0.5")), "", true},
		{"open", decimal.NullDecimal{}, "", true},
	}
	for _, tc := range cases {
		got, err := OrderStatus(core.Order{ID: "x", Status: tc.status, Remaining: tc.remaining})
		if tc.wantErr {
			if !errors.Is(err, core.ErrUnrecognizedStatus) {
				t.Fatalf("OrderStatus(%s, %v) error = %v, want %v", tc.status, tc.remaining, err, core.ErrUnrecognizedStatus)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("OrderStatus(%s, %v) = %s, %v, want %s", tc.status, tc.remaining, got, err, tc.want)
		}
	}
}

func TestGetOrderStatusAndList(t *testing.T) {
	r, ex := newTestRouter(t, "ftx", true, fullCreds)
	ctx := context.Background()
	a, _ := r.PlaceLimitOrder(ctx, "BTC/USDT", core.Buy, d("0.01"), d("40000"), nil)
	b, _ := r.PlaceLimitOrder(ctx, "BTC/USDT", core.Buy, d("0.02"), d("39000"), nil)
	if err := ex.Fill(b.ID); err != nil {
		t.Fatalf("Fill() error = %v", err)
	}

	status, err := r.GetOrderStatus(ctx, a.ID, "BTC/USDT", nil)
	if err != nil || status != core.StatusOpen {
		t.Fatalf("GetOrderStatus(open) = %s, %v", status, err)
	}
	status, err = r.GetOrderStatus(ctx, b.ID, "BTC/USDT", nil)
	if err != nil || status != core.StatusFilled {
		t.Fatalf("GetOrderStatus(filled) = %s, %v", status, err)
	}

	open, err := r.ListOrders(ctx, "BTC/USDT", true, nil)
	if err != nil || len(open) != 1 || open[0].ID != a.ID {
		t.Fatalf("ListOrders(open) = %+v, %v", open, err)
	}
	all, err := r.ListOrders(ctx, "BTC/USDT", false, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListOrders(all) = %d orders, %v, want 2", len(all), err)
	}

	if _, err := r.GetOrder(ctx, "missing", "BTC/USDT", nil); !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("GetOrder(missing) error = %v, want %v", err, core.ErrOrderNotFound)
	}
	if _, err := r.GetOrder(ctx, " ", "BTC/USDT", nil); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("GetOrder(blank) error = %v, want %v", err, core.ErrInvalidArgument)
	}
}
