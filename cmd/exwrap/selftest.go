package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"exchange-wrapper/internal/client"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Exchange   string        `json:"exchange"`
	Symbol     string        `json:"symbol"`
	Checks     []checkResult `json:"checks"`
}

func (r report) failed() int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == statusFail {
			n++
		}
	}
	return n
}

func cmdSelftest(c *cli.Context) error {
	cl, done, err := openClient(c)
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(c.Context, 2*time.Minute)
	defer cancel()
	r := runSelftest(ctx, out(c), cl, strings.ToUpper(c.String("symbol")), c.String("timeframe"))
	printSummary(out(c), r)

	if path := c.String("out-json"); path != "" {
		if err := writeReport(path, r); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if n := r.failed(); n > 0 {
		return cli.Exit(fmt.Sprintf("selftest: %d check(s) failed", n), 1)
	}
	return nil
}

// runSelftest exercises the public surface: quotes, candles and market metadata.
func runSelftest(ctx context.Context, w io.Writer, cl *client.Client, symbol, timeframe string) report {
	r := report{
		StartedAt: time.Now().UTC(),
		Exchange:  cl.Name(),
		Symbol:    symbol,
	}

	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
			Status:     statusPass,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Fprintf(w, "[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Fprintf(w, " - %s", cr.Detail)
			}
			fmt.Fprintln(w)
		} else {
			fmt.Fprintf(w, "[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	run("bid_ask", func() (string, error) {
		bid, err := cl.Bid(ctx, symbol, nil)
		if err != nil {
			return "", err
		}
		ask, err := cl.Ask(ctx, symbol, nil)
		if err != nil {
			return "", err
		}
		if bid.Sign() <= 0 || ask.Sign() <= 0 {
			return "", fmt.Errorf("non-positive quote bid=%s ask=%s", bid, ask)
		}
		if bid.GreaterThan(ask) {
			return "", fmt.Errorf("crossed quote bid=%s ask=%s", bid, ask)
		}
		return fmt.Sprintf("bid=%s ask=%s", bid, ask), nil
	})

	run("klines", func() (string, error) {
		candles, err := cl.Klines(ctx, symbol, timeframe, 10, nil)
		if err != nil {
			return "", err
		}
		for i := 1; i < len(candles); i++ {
			if !candles[i].Time.After(candles[i-1].Time) {
				return "", errors.New("candles are not in ascending time order")
			}
		}
		return fmt.Sprintf("timeframe=%s closed=%d", timeframe, len(candles)), nil
	})

	run("market", func() (string, error) {
		m, err := cl.Market(ctx, symbol)
		if err != nil {
			return "", err
		}
		if m.Symbol != symbol {
			return "", fmt.Errorf("market symbol=%s, want %s", m.Symbol, symbol)
		}
		if m.Base == "" || m.Quote == "" {
			return "", errors.New("market without base or quote currency")
		}
		return fmt.Sprintf("id=%s base=%s quote=%s", m.ID, m.Base, m.Quote), nil
	})

	run("precision", func() (string, error) {
		p, err := cl.Precision(ctx, symbol)
		if err != nil {
			return "", err
		}
		if p.MinAmount.IsNegative() {
			return "", fmt.Errorf("negative min amount %s", p.MinAmount)
		}
		return fmt.Sprintf("amount_precision=%s digits=%d min_amount=%s", p.AmountPrecision, p.Digits, p.MinAmount), nil
	})

	r.FinishedAt = time.Now().UTC()
	return r
}

func printSummary(w io.Writer, r report) {
	fmt.Fprintf(w, "\nsummary exchange=%s symbol=%s pass=%d fail=%d duration=%s\n",
		r.Exchange,
		r.Symbol,
		len(r.Checks)-r.failed(),
		r.failed(),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
