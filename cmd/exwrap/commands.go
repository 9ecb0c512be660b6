package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/sizing"
)

const requestTimeout = 30 * time.Second

func cmdTicker(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	symbol := strings.ToUpper(c.String("symbol"))

	if c.Bool("watch") {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		err := cl.WatchTicker(ctx, symbol, func(t core.Ticker) {
			fmt.Fprintf(out(c), "%s %s bid=%s ask=%s\n", t.Time.Format(time.RFC3339), t.Symbol, t.Bid, t.Ask)
		})
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()
	t, err := cl.Ticker(ctx, symbol, nil)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out(c), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tBID\tASK\tLAST")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Symbol, t.Bid, t.Ask, t.Last)
	return w.Flush()
}

func cmdKlines(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	candles, err := cl.Klines(ctx, strings.ToUpper(c.String("symbol")), c.String("timeframe"), c.Int("limit"), nil)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out(c), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	for _, k := range candles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", k.Time.Format(time.RFC3339), k.Open, k.High, k.Low, k.Close, k.Volume)
	}
	return w.Flush()
}

func cmdMarket(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	symbol := strings.ToUpper(c.String("symbol"))
	m, err := cl.Market(ctx, symbol)
	if err != nil {
		return err
	}
	p, err := cl.Precision(ctx, symbol)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out(c), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "symbol\t%s\n", m.Symbol)
	fmt.Fprintf(w, "id\t%s\n", m.ID)
	fmt.Fprintf(w, "base\t%s\n", m.Base)
	fmt.Fprintf(w, "quote\t%s\n", m.Quote)
	fmt.Fprintf(w, "amount_precision\t%s\n", m.AmountPrecision)
	fmt.Fprintf(w, "amount_digits\t%d\n", p.Digits)
	fmt.Fprintf(w, "price_precision\t%s\n", m.PricePrecision)
	fmt.Fprintf(w, "min_amount\t%s\n", m.MinAmount)
	return w.Flush()
}

func cmdBalance(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	balances, err := cl.Balances(ctx, nil)
	if err != nil {
		return err
	}
	currencies := make([]string, 0, len(balances))
	if cur := strings.ToUpper(strings.TrimSpace(c.String("currency"))); cur != "" {
		currencies = append(currencies, cur)
	} else {
		for cur := range balances {
			currencies = append(currencies, cur)
		}
		sort.Strings(currencies)
	}
	w := tabwriter.NewWriter(out(c), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CURRENCY\tFREE\tTOTAL")
	for _, cur := range currencies {
		b := balances.Get(cur)
		fmt.Fprintf(w, "%s\t%s\t%s\n", cur, b.Free, b.Total)
	}
	return w.Flush()
}

func sizingRequest(c *cli.Context) (sizing.Request, error) {
	side, err := core.ParseSide(c.String("side"))
	if err != nil {
		return sizing.Request{}, err
	}
	unit, err := core.ParseSizeUnit(c.String("unit"))
	if err != nil {
		return sizing.Request{}, err
	}
	value, err := decimalFlag(c, "value")
	if err != nil {
		return sizing.Request{}, err
	}
	if !value.Valid {
		return sizing.Request{}, fmt.Errorf("--value is required")
	}
	price, err := decimalFlag(c, "price")
	if err != nil {
		return sizing.Request{}, err
	}
	balance, err := decimalFlag(c, "balance")
	if err != nil {
		return sizing.Request{}, err
	}
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return sizing.Request{}, err
	}
	return sizing.Request{
		Side:            side,
		Unit:            unit,
		Value:           value.Decimal,
		Price:           price,
		BalanceOverride: balance,
		Params:          params,
	}, nil
}

func cmdSize(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	req, err := sizingRequest(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	size, err := cl.ComputeOrderSize(ctx, strings.ToUpper(c.String("symbol")), req)
	if err != nil {
		return err
	}
	fmt.Fprintln(out(c), size.String())
	return nil
}

func cmdOrderPlace(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	symbol := strings.ToUpper(c.String("symbol"))
	side, err := core.ParseSide(c.String("side"))
	if err != nil {
		return err
	}
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	price, err := decimalFlag(c, "price")
	if err != nil {
		return err
	}
	amount, err := decimalFlag(c, "amount")
	if err != nil {
		return err
	}
	if !amount.Valid {
		req, err := sizingRequest(c)
		if err != nil {
			return err
		}
		size, err := cl.ComputeOrderSize(ctx, symbol, req)
		if err != nil {
			return err
		}
		amount = decimal.NewNullDecimal(size)
	}

	var order core.Order
	switch strings.ToLower(c.String("type")) {
	case "market":
		order, err = cl.PlaceMarketOrder(ctx, symbol, side, amount.Decimal, params)
	case "limit":
		order, err = cl.PlaceLimitOrder(ctx, symbol, side, amount.Decimal, price.Decimal, params)
	case "stop":
		stop, perr := decimalFlag(c, "stop-price")
		if perr != nil {
			return perr
		}
		order, err = cl.PlaceStopOrder(ctx, symbol, side, amount.Decimal, stop.Decimal, price.Decimal, params)
	case "take_profit", "takeprofit":
		trigger, perr := decimalFlag(c, "trigger-price")
		if perr != nil {
			return perr
		}
		order, err = cl.PlaceTakeProfitOrder(ctx, symbol, side, amount.Decimal, trigger.Decimal, params)
	default:
		return fmt.Errorf("--type must be market, limit, stop or take_profit")
	}
	if err != nil {
		return err
	}
	if order.IsZero() {
		fmt.Fprintln(out(c), "size resolved to 0, no order placed")
		return nil
	}
	return printOrders(c, order)
}

func cmdOrderCancel(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	order, err := cl.CancelOrder(ctx, c.String("id"), strings.ToUpper(c.String("symbol")), params)
	if err != nil {
		return err
	}
	return printOrders(c, order)
}

func cmdOrderGet(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	order, err := cl.GetOrder(ctx, c.String("id"), strings.ToUpper(c.String("symbol")), params)
	if err != nil {
		return err
	}
	return printOrders(c, order)
}

func cmdOrderStatus(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	status, err := cl.GetOrderStatus(ctx, c.String("id"), strings.ToUpper(c.String("symbol")), params)
	if err != nil {
		return err
	}
	fmt.Fprintln(out(c), status)
	return nil
}

func cmdOrderList(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	orders, err := cl.ListOrders(ctx, strings.ToUpper(c.String("symbol")), !c.Bool("all"), params)
	if err != nil {
		return err
	}
	return printOrders(c, orders...)
}

func printOrders(c *cli.Context, orders ...core.Order) error {
	w := tabwriter.NewWriter(out(c), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tTYPE\tSIDE\tAMOUNT\tFILLED\tREMAINING\tPRICE\tTRIGGER\tSTATUS")
	for _, o := range orders {
		remaining := "-"
		if o.Remaining.Valid {
			remaining = o.Remaining.Decimal.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.Symbol, o.Type, o.Side, o.Amount, o.Filled, remaining, o.Price, o.TriggerPrice, o.Status)
	}
	return w.Flush()
}
