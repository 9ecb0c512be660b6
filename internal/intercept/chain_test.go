package intercept

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"exchange-wrapper/internal/auth"
	"exchange-wrapper/internal/core"
)

type countingLoader struct {
	calls int
	err   error
}

func (l *countingLoader) LoadMarkets(ctx context.Context) error {
	l.calls++
	return l.err
}

func TestChainRunsInOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Interceptor {
		return func(ctx context.Context, op Op, next Handler) error {
			trace = append(trace, name+">")
			err := next(ctx)
			trace = append(trace, "<"+name)
			return err
		}
	}
	chain := Chain{mark("a"), nil, mark("b")}
	err := chain.Run(context.Background(), Op{Name: "x"}, func(ctx context.Context) error {
		trace = append(trace, "h")
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.Join(trace, ","); got != "a>,b>,h,<b,<a" {
		t.Fatalf("trace = %s", got)
	}
}

func TestRequireAuthBlocksBeforeIO(t *testing.T) {
	loader := &countingLoader{}
	chain := Standard(nil, auth.NewGate(auth.Credentials{}), loader)
	called := false
	err := chain.Run(context.Background(), Op{Name: "fetch_balance", Private: true, ReloadMarkets: true}, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, core.ErrNotAuthenticated) {
		t.Fatalf("Run() error = %v, want %v", err, core.ErrNotAuthenticated)
	}
	if called || loader.calls != 0 {
		t.Fatalf("handler called=%v loader calls=%d, want no I/O", called, loader.calls)
	}

	err = chain.Run(context.Background(), Op{Name: "bid", ReloadMarkets: true}, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run(public) error = %v", err)
	}
	if !called || loader.calls != 1 {
		t.Fatalf("handler called=%v loader calls=%d, want 1", called, loader.calls)
	}
}

func TestReloadMarketsPropagatesFailure(t *testing.T) {
	loader := &countingLoader{err: core.ErrGateway}
	chain := Chain{ReloadMarkets(loader)}
	err := chain.Run(context.Background(), Op{Name: "market", ReloadMarkets: true}, func(ctx context.Context) error {
		t.Fatalf("handler must not run when the reload fails")
		return nil
	})
	if !errors.Is(err, core.ErrGateway) {
		t.Fatalf("Run() error = %v, want %v", err, core.ErrGateway)
	}
}

func TestLoggingRecordsFailures(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)
	chain := Chain{Logging(log)}
	_ = chain.Run(context.Background(), Op{Name: "create_order", Symbol: "BTC/USDT"}, func(ctx context.Context) error {
		return errors.New("boom")
	})
	out := buf.String()
	if !strings.Contains(out, "operation failed") || !strings.Contains(out, "op=create_order") {
		t.Fatalf("log output = %q", out)
	}
}
