package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"exchange-wrapper/internal/client"
	"exchange-wrapper/internal/config"
	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange"
	"exchange-wrapper/internal/logging"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "exwrap",
		Usage:   "uniform spot trading across exchanges",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "config yaml path",
				EnvVars:  []string{"EXWRAP_CONFIG"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "override log.level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "ticker",
				Usage: "show best bid and ask",
				Flags: []cli.Flag{
					symbolFlag(),
					&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "stream updates until interrupted"},
				},
				Action: cmdTicker,
			},
			{
				Name:  "klines",
				Usage: "show closed candles",
				Flags: []cli.Flag{
					symbolFlag(),
					&cli.StringFlag{Name: "timeframe", Aliases: []string{"t"}, Value: "1h", Usage: "candle interval"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "candles to request"},
				},
				Action: cmdKlines,
			},
			{
				Name:   "market",
				Usage:  "show market precision and minimum amount",
				Flags:  []cli.Flag{symbolFlag()},
				Action: cmdMarket,
			},
			{
				Name:  "balance",
				Usage: "show account balances",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "currency", Usage: "limit output to one currency"},
				},
				Action: cmdBalance,
			},
			{
				Name:   "size",
				Usage:  "compute an order size from a sizing instruction",
				Flags:  append(sizingFlags(), paramsFlag()),
				Action: cmdSize,
			},
			{
				Name:  "order",
				Usage: "place and manage orders",
				Subcommands: []*cli.Command{
					{
						Name:  "place",
						Usage: "place a market, limit, stop or take_profit order",
						Flags: append(sizingFlags(),
							&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: "market", Usage: "market, limit, stop or take_profit"},
							&cli.StringFlag{Name: "amount", Usage: "base amount; overrides --unit/--value"},
							&cli.StringFlag{Name: "stop-price", Usage: "stop trigger price"},
							&cli.StringFlag{Name: "trigger-price", Usage: "take profit trigger price"},
							paramsFlag(),
						),
						Action: cmdOrderPlace,
					},
					{
						Name:   "cancel",
						Usage:  "cancel an order by id",
						Flags:  orderIDFlags(),
						Action: cmdOrderCancel,
					},
					{
						Name:   "get",
						Usage:  "show an order",
						Flags:  orderIDFlags(),
						Action: cmdOrderGet,
					},
					{
						Name:   "status",
						Usage:  "show the normalized status of an order",
						Flags:  orderIDFlags(),
						Action: cmdOrderStatus,
					},
					{
						Name:  "list",
						Usage: "list orders",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "market symbol; empty lists every market"},
							&cli.BoolFlag{Name: "all", Usage: "include closed orders"},
							paramsFlag(),
						},
						Action: cmdOrderList,
					},
				},
			},
			{
				Name:  "selftest",
				Usage: "run public market data checks against the configured exchange",
				Flags: []cli.Flag{
					symbolFlag(),
					&cli.StringFlag{Name: "timeframe", Value: "1h", Usage: "candle interval for the klines check"},
					&cli.StringFlag{Name: "out-json", Usage: "optional output report path"},
				},
				Action: cmdSelftest,
			},
		},
	}
}

func symbolFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "symbol",
		Aliases:  []string{"s"},
		Usage:    "unified market symbol, e.g. BTC/USDT",
		Required: true,
	}
}

func paramsFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "param",
		Usage: "exchange specific parameter as key=value (repeatable)",
	}
}

func sizingFlags() []cli.Flag {
	return []cli.Flag{
		symbolFlag(),
		&cli.StringFlag{Name: "side", Aliases: []string{"d"}, Value: "buy", Usage: "buy or sell"},
		&cli.StringFlag{Name: "unit", Aliases: []string{"u"}, Value: string(core.BaseAmount), Usage: "base_amount, quote_amount, base_percent or quote_percent"},
		&cli.StringFlag{Name: "value", Aliases: []string{"v"}, Usage: "amount or percentage in --unit"},
		&cli.StringFlag{Name: "price", Aliases: []string{"p"}, Usage: "price; fetched from the ticker when omitted"},
		&cli.StringFlag{Name: "balance", Usage: "free balance to size against instead of fetching it"},
	}
}

func orderIDFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "exchange order id", Required: true},
		symbolFlag(),
		paramsFlag(),
	}
}

// openClient loads the config named by --config and builds the client. The returned
// func releases the log file.
func openClient(c *cli.Context) (*client.Client, func(), error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = strings.ToLower(lvl)
	}
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	cl, err := client.Open(cfg, log)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	log.WithFields(logrus.Fields{
		"exchange": cl.Name(),
		"state":    cl.State().String(),
	}).Debug("client ready")
	return cl, func() { closer.Close() }, nil
}

func decimalFlag(c *cli.Context, name string) (decimal.NullDecimal, error) {
	raw := strings.TrimSpace(c.String(name))
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("--%s: invalid decimal %q", name, raw)
	}
	return decimal.NewNullDecimal(v), nil
}

func parseParams(raw []string) (exchange.Params, error) {
	params := exchange.Params{}
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--param %q must be key=value", kv)
		}
		params[key] = strings.TrimSpace(value)
	}
	return params, params.Validate()
}

func out(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}
