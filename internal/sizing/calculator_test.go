package sizing

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"exchange-wrapper/internal/auth"
	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange/sim"
	"exchange-wrapper/internal/intercept"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestCalculator(t *testing.T, creds auth.Credentials, opts sim.Options) (*Calculator, *sim.Exchange) {
	t.Helper()
	ex := sim.New(opts)
	if err := ex.AddMarket(core.Market{
		Symbol:          "BTC/USDT",
		AmountPrecision: d("0.0001"),
		PricePrecision:  d("0.01"),
		MinAmount:       d("0.0001"),
	}); err != nil {
		t.Fatalf("AddMarket() error = %v", err)
	}
	ex.SetTicker("BTC/USDT", d("40000"), d("50000"))
	ex.SetBalance("USDT", d("100"), d("120"))
	ex.SetBalance("BTC", d("0.5"), d("0.5"))
	gate := auth.NewGate(creds)
	return New(ex, gate, intercept.Standard(nil, gate, ex), nil), ex
}

var fullCreds = auth.Credentials{APIKey: "key", APISecret: "secret"}

func TestQuotePercentScenario(t *testing.T) {
	calc, _ := newTestCalculator(t, fullCreds, sim.Options{})
	got, err := calc.ComputeOrderSize(context.Background(), "BTC/USDT", Request{
		Side: core.Buy, Unit: core.QuotePercent, Value: d("50"),
	})
	if err != nil {
		t.Fatalf("ComputeOrderSize() error = %v", err)
	}
	if !got.Equal(d("0.001")) {
		t.Fatalf("ComputeOrderSize() = %s, want 0.001", got)
	}
}

func TestBelowMinimumReturnsZero(t *testing.T) {
	calc, _ := newTestCalculator(t, fullCreds, sim.Options{})
	got, err := calc.ComputeOrderSize(context.Background(), "BTC/USDT", Request{
		Side: core.Buy, Unit: core.QuotePercent, Value: d("0.001"),
	})
	if err != nil {
		t.Fatalf("ComputeOrderSize() error = %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("ComputeOrderSize() = %s, want 0", got)
	}
}

func TestPriceSideSelection(t *testing.T) {
	calc, _ := newTestCalculator(t, fullCreds, sim.Options{})
	cases := []struct {
		side core.Side
		want string
	}{
		{core.Buy, "0.002"},
		{core.Sell, "0.0025"},
	}
	for _, tc := range cases {
		got, err := calc.ComputeOrderSize(context.Background(), "BTC/USDT", Request{
			Side: tc.side, Unit: core.QuoteAmount, Value: d("100"),
		})
		if err != nil {
			t.Fatalf("ComputeOrderSize(%s) error = %v", tc.side, err)
		}
		if !got.Equal(d(tc.want)) {
			t.Fatalf("ComputeOrderSize(%s) = %s, want %s", tc.side, got, tc.want)
		}
	}
}

func TestSuppliedPriceAndOverride(t *testing.T) {
	calc, ex := newTestCalculator(t, fullCreds, sim.Options{})
	got, err := calc.ComputeOrderSize(context.Background(), "BTC/USDT", Request{
		Side:            core.Buy,
		Unit:            core.QuotePercent,
		Value:           d("25"),
		Price:           decimal.NewNullDecimal(d("10000")),
		BalanceOverride: decimal.NewNullDecimal(d("400")),
	})
	if err != nil {
		t.Fatalf("ComputeOrderSize() error = %v", err)
	}
	if !got.Equal(d("0.01")) {
		t.Fatalf("ComputeOrderSize() = %s, want 0.01", got)
	}
	for _, call := range ex.Calls() {
		if call.Method == "FetchTicker" || call.Method == "FetchBalance" {
			t.Fatalf("unexpected gateway call %s with supplied price and balance", call.Method)
		}
	}
}

func TestBasePercentSkipsTicker(t *testing.T) {
	calc, ex := newTestCalculator(t, fullCreds, sim.Options{})
	got, err := calc.ComputeOrderSize(context.Background(), "BTC/USDT", Request{
		Side: core.Sell, Unit: core.BasePercent, Value: d("33"),
	})
	if err != nil {
		t.Fatalf("ComputeOrderSize() error = %v", err)
	}
	if !got.Equal(d("0.165")) {
		t.Fatalf("ComputeOrderSize() = %s, want 0.165", got)
	}
	loaded := false
	for _, call := range ex.Calls() {
		if call.Method == "FetchTicker" {
			t.Fatalf("base percent sizing fetched a ticker")
		}
		if call.Method == "LoadMarkets" {
			loaded = true
		}
	}
	if !loaded {
		t.Fatalf("markets were not reloaded before sizing")
	}
}

func TestBalanceUnavailable(t *testing.T) {
	calc, ex := newTestCalculator(t, auth.Credentials{}, sim.Options{})
	_, err := calc.ComputeOrderSize(context.Background(), "BTC/USDT", Request{
		Side: core.Buy, Unit: core.QuotePercent, Value: d("10"),
	})
	if !errors.Is(err, core.ErrBalanceUnavailable) || !errors.Is(err, core.ErrNotAuthenticated) {
		t.Fatalf("ComputeOrderSize() error = %v, want balance unavailable and not authenticated", err)
	}
	for _, call := range ex.Calls() {
		if call.Method == "FetchBalance" {
			t.Fatalf("balance fetched without credentials")
		}
	}

	// amount units need no balance
	got, err := calc.ComputeOrderSize(context.Background(), "BTC/USDT", Request{
		Side: core.Buy, Unit: core.BaseAmount, Value: d("0.12345"),
	})
	if err != nil || !got.Equal(d("0.1234")) {
		t.Fatalf("ComputeOrderSize(base amount) = %s, %v, want 0.1234", got, err)
	}

	calc, _ = newTestCalculator(t, fullCreds, sim.Options{FailBalance: true})
	_, err = calc.ComputeOrderSize(context.Background(), "BTC/USDT", Request{
		Side: core.Buy, Unit: core.QuotePercent, Value: d("10"),
	})
	if !errors.Is(err, core.ErrBalanceUnavailable) || !errors.Is(err, core.ErrGateway) {
		t.Fatalf("ComputeOrderSize() error = %v, want balance unavailable", err)
	}
}

func TestInvalidInstructions(t *testing.T) {
	calc, _ := newTestCalculator(t, fullCreds, sim.Options{})
	cases := []struct {
		name string
		req  Request
	}{
		{"negative", Request{Side: core.Buy, Unit: core.BaseAmount, Value: d("-1")}},
		{"percent over 100", Request{Side: core.Buy, Unit: core.QuotePercent, Value: d("100.5")}},
		{"unknown unit", Request{Side: core.Buy, Unit: "lots", Value: d("1")}},
		{"unknown side", Request{Side: "hold", Unit: core.BaseAmount, Value: d("1")}},
		{"zero price", Request{Side: core.Buy, Unit: core.QuoteAmount, Value: d("1"), Price: decimal.NewNullDecimal(decimal.Zero)}},
		{"bad params", Request{Side: core.Buy, Unit: core.BaseAmount, Value: d("1"), Params: map[string]any{"x": []int{1}}}},
	}
	for _, tc := range cases {
		if _, err := calc.ComputeOrderSize(context.Background(), "BTC/USDT", tc.req); !errors.Is(err, core.ErrInvalidArgument) {
			t.Fatalf("%s: ComputeOrderSize() error = %v, want %v", tc.name, err, core.ErrInvalidArgument)
		}
	}
	if _, err := calc.ComputeOrderSize(context.Background(), "ETH/USDT", Request{Side: core.Buy, Unit: core.BaseAmount, Value: d("1")}); !errors.Is(err, core.ErrUnknownMarket) {
		t.Fatalf("ComputeOrderSize(unknown market) error = %v, want %v", err, core.ErrUnknownMarket)
	}
}

func TestSizeIsZeroOrOnGrid(t *testing.T) {
	precisions := []string{"1", "0.1", "0.01", "0.001", "0.0001", "0.00025", "0.00000001"}
	mins := []string{"0", "0.0001", "0.01", "1"}
	units := []core.SizeUnit{core.BaseAmount, core.QuoteAmount, core.BasePercent, core.QuotePercent}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		ex := sim.New(sim.Options{})
		precision := d(precisions[rng.Intn(len(precisions))])
		minAmount := d(mins[rng.Intn(len(mins))])
		if err := ex.AddMarket(core.Market{Symbol: "ETH/USDT", AmountPrecision: precision, MinAmount: minAmount}); err != nil {
			t.Fatalf("AddMarket() error = %v", err)
		}
		ex.SetTicker("ETH/USDT", decimal.NewFromFloat(1+rng.Float64()*3000).Round(2), decimal.NewFromFloat(1+rng.Float64()*3000).Round(2))
		ex.SetBalance("ETH", decimal.NewFromFloat(rng.Float64()*50).Round(6), decimal.Zero)
		ex.SetBalance("USDT", decimal.NewFromFloat(rng.Float64()*10000).Round(2), decimal.Zero)
		gate := auth.NewGate(fullCreds)
		calc := New(ex, gate, intercept.Standard(nil, gate, ex), nil)

		unit := units[rng.Intn(len(units))]
		value := decimal.NewFromFloat(rng.Float64() * 100).Round(4)
		side := core.Buy
		if rng.Intn(2) == 0 {
			side = core.Sell
		}
		got, err := calc.ComputeOrderSize(context.Background(), "ETH/USDT", Request{Side: side, Unit: unit, Value: value})
		if err != nil {
			t.Fatalf("ComputeOrderSize(%s %s) error = %v", unit, value, err)
		}
		if got.IsZero() {
			continue
		}
		digits, _ := core.PrecisionDigits(precision)
		if got.LessThan(minAmount) {
			t.Fatalf("ComputeOrderSize() = %s below minimum %s", got, minAmount)
		}
		if !got.Equal(got.Truncate(int32(digits))) {
			t.Fatalf("ComputeOrderSize() = %s not truncated to %d digits", got, digits)
		}
	}
}
