package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"exchange-wrapper/internal/core"
)

type ExchangeName string

const (
	ExchangeBinance ExchangeName = "binance"
	ExchangeFTX     ExchangeName = "ftx"
	ExchangePaper   ExchangeName = "paper"
)

// Environment variables that override credentials from the file.
const (
	EnvAPIKey     = "EXWRAP_API_KEY"
	EnvAPISecret  = "EXWRAP_API_SECRET"
	EnvSubaccount = "EXWRAP_SUBACCOUNT"
)

type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Log      LogConfig      `yaml:"log"`
	Paper    PaperConfig    `yaml:"paper"`
}

type ExchangeConfig struct {
	Name              ExchangeName `yaml:"name"`
	APIKey            string       `yaml:"api_key"`
	APISecret         string       `yaml:"api_secret"`
	Subaccount        string       `yaml:"subaccount"`
	RestBaseURL       string       `yaml:"rest_base_url"`
	WSBaseURL         string       `yaml:"ws_base_url"`
	Testnet           bool         `yaml:"testnet"`
	EnableRateLimit   *bool        `yaml:"enable_rate_limit"`
	RequestsPerMinute int          `yaml:"requests_per_minute"`
	RecvWindowMs      int64        `yaml:"recv_window_ms"`
	HTTPTimeoutSec    int64        `yaml:"http_timeout_sec"`
	MarketsTTLSec     int64        `yaml:"markets_ttl_sec"`
	WSKeepaliveSec    int64        `yaml:"ws_keepalive_sec"`

	// BreakerMaxFailures trips private operations after this many consecutive
	// gateway failures; zero disables the breaker.
	BreakerMaxFailures int   `yaml:"breaker_max_failures"`
	BreakerCooldownSec int64 `yaml:"breaker_cooldown_sec"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PaperConfig seeds the in-memory exchange.
type PaperConfig struct {
	SplitConditional bool           `yaml:"split_conditional"`
	Markets          []PaperMarket  `yaml:"markets"`
	Balances         []PaperBalance `yaml:"balances"`
	Quotes           []PaperQuote   `yaml:"quotes"`
}

type PaperMarket struct {
	Symbol          string  `yaml:"symbol"`
	AmountPrecision Decimal `yaml:"amount_precision"`
	PricePrecision  Decimal `yaml:"price_precision"`
	MinAmount       Decimal `yaml:"min_amount"`
}

type PaperBalance struct {
	Currency string  `yaml:"currency"`
	Free     Decimal `yaml:"free"`
	Total    Decimal `yaml:"total"`
}

type PaperQuote struct {
	Symbol string  `yaml:"symbol"`
	Bid    Decimal `yaml:"bid"`
	Ask    Decimal `yaml:"ask"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse decodes a single strict YAML document, applies environment overrides and
// defaults, then validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok {
		c.Exchange.APIKey = v
	}
	if v, ok := lookup(EnvAPISecret); ok {
		c.Exchange.APISecret = v
	}
	if v, ok := lookup(EnvSubaccount); ok {
		c.Exchange.Subaccount = v
	}
}

func (c *Config) normalize() {
	c.Exchange.Name = ExchangeName(strings.ToLower(strings.TrimSpace(string(c.Exchange.Name))))
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.Subaccount = strings.TrimSpace(c.Exchange.Subaccount)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.WSBaseURL = strings.TrimSpace(c.Exchange.WSBaseURL)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Log.Output = strings.TrimSpace(c.Log.Output)
	for i := range c.Paper.Markets {
		c.Paper.Markets[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Paper.Markets[i].Symbol))
	}
	for i := range c.Paper.Balances {
		c.Paper.Balances[i].Currency = strings.ToUpper(strings.TrimSpace(c.Paper.Balances[i].Currency))
	}
	for i := range c.Paper.Quotes {
		c.Paper.Quotes[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Paper.Quotes[i].Symbol))
	}
}

func (c *Config) applyDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = ExchangePaper
	}
	if c.Exchange.EnableRateLimit == nil {
		enabled := true
		c.Exchange.EnableRateLimit = &enabled
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.WSKeepaliveSec == 0 {
		c.Exchange.WSKeepaliveSec = 30
	}
	if c.Exchange.BreakerMaxFailures > 0 && c.Exchange.BreakerCooldownSec == 0 {
		c.Exchange.BreakerCooldownSec = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	for i := range c.Paper.Balances {
		if c.Paper.Balances[i].Total.LessThan(c.Paper.Balances[i].Free.Decimal) {
			c.Paper.Balances[i].Total = c.Paper.Balances[i].Free
		}
	}
}

func (c Config) Validate() error {
	switch c.Exchange.Name {
	case ExchangeBinance, ExchangeFTX, ExchangePaper:
	default:
		return fmt.Errorf("exchange.name must be binance, ftx, or paper")
	}
	if (c.Exchange.APIKey == "") != (c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret must be set together")
	}
	if c.Exchange.Subaccount != "" && c.Exchange.Name != ExchangeFTX {
		return fmt.Errorf("exchange.subaccount is only supported for ftx")
	}
	if c.Exchange.Testnet && c.Exchange.Name != ExchangeBinance {
		return fmt.Errorf("exchange.testnet is only supported for binance")
	}
	if c.Exchange.RestBaseURL != "" && !isHTTPURL(c.Exchange.RestBaseURL) {
		return fmt.Errorf("exchange.rest_base_url must be an http(s) URL")
	}
	if c.Exchange.WSBaseURL != "" && !isWSURL(c.Exchange.WSBaseURL) {
		return fmt.Errorf("exchange.ws_base_url must be a ws(s) URL")
	}
	if c.Exchange.RequestsPerMinute < 0 {
		return fmt.Errorf("exchange.requests_per_minute must be >= 0")
	}
	if c.Exchange.RecvWindowMs < 0 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange.recv_window_ms must be between 0 and 60000")
	}
	if c.Exchange.HTTPTimeoutSec < 0 || c.Exchange.MarketsTTLSec < 0 || c.Exchange.WSKeepaliveSec < 0 {
		return fmt.Errorf("exchange timeouts must be >= 0")
	}
	if c.Exchange.BreakerMaxFailures < 0 || c.Exchange.BreakerCooldownSec < 0 {
		return fmt.Errorf("exchange.breaker_max_failures and exchange.breaker_cooldown_sec must be >= 0")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	if c.Exchange.Name == ExchangePaper {
		return c.Paper.validate()
	}
	return nil
}

func (p PaperConfig) validate() error {
	if len(p.Markets) == 0 {
		return fmt.Errorf("paper.markets must list at least one market")
	}
	seen := make(map[string]bool, len(p.Markets))
	for _, m := range p.Markets {
		if _, _, err := core.SplitSymbol(m.Symbol); err != nil {
			return fmt.Errorf("paper.markets: symbol %q must look like BASE/QUOTE", m.Symbol)
		}
		if seen[m.Symbol] {
			return fmt.Errorf("paper.markets: duplicate symbol %s", m.Symbol)
		}
		seen[m.Symbol] = true
		if !m.AmountPrecision.positive() {
			return fmt.Errorf("paper.markets: %s amount_precision must be > 0", m.Symbol)
		}
		if !m.PricePrecision.nonNegative() || !m.MinAmount.nonNegative() {
			return fmt.Errorf("paper.markets: %s price_precision and min_amount must be >= 0", m.Symbol)
		}
	}
	for _, b := range p.Balances {
		if b.Currency == "" {
			return fmt.Errorf("paper.balances: currency is required")
		}
		if !b.Free.nonNegative() {
			return fmt.Errorf("paper.balances: %s free must be >= 0", b.Currency)
		}
	}
	for _, q := range p.Quotes {
		if !seen[q.Symbol] {
			return fmt.Errorf("paper.quotes: %s is not a configured market", q.Symbol)
		}
		if !q.Bid.positive() || !q.Ask.positive() {
			return fmt.Errorf("paper.quotes: %s bid and ask must be > 0", q.Symbol)
		}
		if q.Bid.GreaterThan(q.Ask.Decimal) {
			return fmt.Errorf("paper.quotes: %s bid must not exceed ask", q.Symbol)
		}
	}
	return nil
}

func isHTTPURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isWSURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
}
