package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const paperConfig = `
exchange:
  name: paper

paper:
  split_conditional: true
  markets:
    - symbol: btc/usdt
      amount_precision: "0.001"
      price_precision: "0.01"
      min_amount: "0.002"
  balances:
    - currency: usdt
      free: "100"
  quotes:
    - symbol: BTC/USDT
      bid: "40000"
      ask: "50000"
`

func TestLoadPaperAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, paperConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.Name != ExchangePaper {
		t.Fatalf("exchange.name = %q, want %q", cfg.Exchange.Name, ExchangePaper)
	}
	if cfg.Exchange.EnableRateLimit == nil || !*cfg.Exchange.EnableRateLimit {
		t.Fatalf("exchange.enable_rate_limit = %v, want true", cfg.Exchange.EnableRateLimit)
	}
	if cfg.Exchange.RecvWindowMs != 5000 {
		t.Fatalf("exchange.recv_window_ms = %d, want 5000", cfg.Exchange.RecvWindowMs)
	}
	if cfg.Exchange.HTTPTimeoutSec != 15 {
		t.Fatalf("exchange.http_timeout_sec = %d, want 15", cfg.Exchange.HTTPTimeoutSec)
	}
	if cfg.Exchange.WSKeepaliveSec != 30 {
		t.Fatalf("exchange.ws_keepalive_sec = %d, want 30", cfg.Exchange.WSKeepaliveSec)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" || cfg.Log.Output != "stderr" {
		t.Fatalf("log = %+v, want info/text/stderr", cfg.Log)
	}
	if got := cfg.Paper.Markets[0].Symbol; got != "BTC/USDT" {
		t.Fatalf("paper.markets[0].symbol = %q, want BTC/USDT", got)
	}
	if got := cfg.Paper.Balances[0]; got.Currency != "USDT" || !got.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("paper.balances[0] = %s total %s, want USDT total 100", got.Currency, got.Total.String())
	}
	if !cfg.Paper.SplitConditional {
		t.Fatalf("paper.split_conditional = false, want true")
	}
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvAPISecret, "env-secret")
	t.Setenv(EnvSubaccount, "desk")

	cfg, err := Load(writeTempConfig(t, `
exchange:
  name: FTX
  api_key: file-key
  api_secret: file-secret
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.Name != ExchangeFTX {
		t.Fatalf("exchange.name = %q, want ftx", cfg.Exchange.Name)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Fatalf("credentials = %q/%q, want env values", cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}
	if cfg.Exchange.Subaccount != "desk" {
		t.Fatalf("exchange.subaccount = %q, want desk", cfg.Exchange.Subaccount)
	}
}

func TestLoadKeepsExplicitRateLimitOff(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
exchange:
  name: binance
  testnet: true
  enable_rate_limit: false
  markets_ttl_sec: 300
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.EnableRateLimit == nil || *cfg.Exchange.EnableRateLimit {
		t.Fatalf("exchange.enable_rate_limit = %v, want false", cfg.Exchange.EnableRateLimit)
	}
	if cfg.Exchange.MarketsTTLSec != 300 {
		t.Fatalf("exchange.markets_ttl_sec = %d, want 300", cfg.Exchange.MarketsTTLSec)
	}
}

func TestLoadBreakerCooldownDefault(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
exchange:
  name: binance
  breaker_max_failures: 3
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.BreakerCooldownSec != 30 {
		t.Fatalf("exchange.breaker_cooldown_sec = %d, want 30", cfg.Exchange.BreakerCooldownSec)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
exchange:
  name: binance
  leverage: 10
`))
	if err == nil {
		t.Fatalf("Load() error = nil, want unknown field error")
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
exchange:
  name: binance
---
exchange:
  name: ftx
`))
	if err == nil || !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("Load() error = %v, want single document error", err)
	}
}

func TestLoadRejectsInvalidDecimal(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
exchange:
  name: paper
paper:
  markets:
    - symbol: BTC/USDT
      amount_precision: abc
`))
	if err == nil || !strings.Contains(err.Error(), "invalid decimal") || !strings.Contains(err.Error(), "line 6") {
		t.Fatalf("Load() error = %v, want invalid decimal at line 6", err)
	}
}

func TestDecimalYAML(t *testing.T) {
	var got struct {
		Bare   Decimal `yaml:"bare"`
		Quoted Decimal `yaml:"quoted"`
		Empty  Decimal `yaml:"empty"`
	}
	if err := yaml.Unmarshal([]byte("bare: 0.001\nquoted: \" 12.50 \"\nempty: \"\"\n"), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Bare.String() != "0.001" || !got.Quoted.Equal(decimal.RequireFromString("12.5")) || !got.Empty.IsZero() {
		t.Fatalf("Unmarshal() = %s %s %s, want 0.001 12.5 0", got.Bare, got.Quoted, got.Empty)
	}

	var list struct {
		Value Decimal `yaml:"value"`
	}
	if err := yaml.Unmarshal([]byte("value: [1, 2]\n"), &list); err == nil || !strings.Contains(err.Error(), "sequence") {
		t.Fatalf("Unmarshal(sequence) error = %v, want scalar error", err)
	}

	out, err := yaml.Marshal(struct {
		Value Decimal `yaml:"value"`
	}{Decimal{decimal.RequireFromString("0.00010")}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != `value: "0.0001"` {
		t.Fatalf("Marshal() = %q, want quoted 0.0001", out)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown exchange",
			content: "exchange:\n  name: kraken\n",
			want:    "exchange.name",
		},
		{
			name:    "half credentials",
			content: "exchange:\n  name: binance\n  api_key: k\n",
			want:    "set together",
		},
		{
			name:    "subaccount outside ftx",
			content: "exchange:\n  name: binance\n  subaccount: desk\n",
			want:    "subaccount",
		},
		{
			name:    "testnet outside binance",
			content: "exchange:\n  name: ftx\n  testnet: true\n",
			want:    "testnet",
		},
		{
			name:    "bad rest url",
			content: "exchange:\n  name: binance\n  rest_base_url: ftp://example\n",
			want:    "rest_base_url",
		},
		{
			name:    "bad ws url",
			content: "exchange:\n  name: binance\n  ws_base_url: https://example\n",
			want:    "ws_base_url",
		},
		{
			name:    "negative recv window",
			content: "exchange:\n  name: binance\n  recv_window_ms: -1\n",
			want:    "recv_window_ms",
		},
		{
			name:    "negative breaker threshold",
			content: "exchange:\n  name: binance\n  breaker_max_failures: -1\n",
			want:    "breaker_max_failures",
		},
		{
			name:    "bad log level",
			content: "exchange:\n  name: binance\nlog:\n  level: loud\n",
			want:    "log.level",
		},
		{
			name:    "bad log format",
			content: "exchange:\n  name: binance\nlog:\n  format: xml\n",
			want:    "log.format",
		},
		{
			name:    "paper without markets",
			content: "exchange:\n  name: paper\n",
			want:    "paper.markets",
		},
		{
			name:    "paper bad symbol",
			content: "paper:\n  markets:\n    - symbol: BTCUSDT\n      amount_precision: \"0.001\"\n",
			want:    "BASE/QUOTE",
		},
		{
			name:    "paper zero precision",
			content: "paper:\n  markets:\n    - symbol: BTC/USDT\n      amount_precision: \"0\"\n",
			want:    "amount_precision",
		},
		{
			name:    "paper quote for unknown market",
			content: "paper:\n  markets:\n    - symbol: BTC/USDT\n      amount_precision: \"0.001\"\n  quotes:\n    - symbol: ETH/USDT\n      bid: \"1\"\n      ask: \"2\"\n",
			want:    "not a configured market",
		},
		{
			name:    "paper crossed quote",
			content: "paper:\n  markets:\n    - symbol: BTC/USDT\n      amount_precision: \"0.001\"\n  quotes:\n    - symbol: BTC/USDT\n      bid: \"3\"\n      ask: \"2\"\n",
			want:    "must not exceed ask",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnvIgnoresUnsetVariables(t *testing.T) {
	cfg := Config{Exchange: ExchangeConfig{APIKey: "k", APISecret: "s"}}
	cfg.applyEnv(func(string) (string, bool) { return "", false })
	if cfg.Exchange.APIKey != "k" || cfg.Exchange.APISecret != "s" {
		t.Fatalf("applyEnv() changed credentials to %q/%q", cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write temp config failed: %v", err)
	}
	return path
}
