// Package intercept runs cross-cutting guards around every public client operation:
// logging, the authentication gate and market reloads. Interceptors run in the order
// they appear in the chain, each deciding whether to call the next one.
package intercept

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"exchange-wrapper/internal/auth"
	"exchange-wrapper/internal/core"
)

// Op describes the operation being run.
type Op struct {
	Name          string
	Symbol        string
	Private       bool
	ReloadMarkets bool
}

type Handler func(ctx context.Context) error

type Interceptor func(ctx context.Context, op Op, next Handler) error

type Chain []Interceptor

func (c Chain) Run(ctx context.Context, op Op, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler for %s", core.ErrInvalidArgument, op.Name)
	}
	next := h
	for i := len(c) - 1; i >= 0; i-- {
		ic := c[i]
		if ic == nil {
			continue
		}
		inner := next
		next = func(ctx context.Context) error {
			return ic(ctx, op, inner)
		}
	}
	return next(ctx)
}

// MarketLoader is the part of the gateway needed to refresh market metadata.
type MarketLoader interface {
	LoadMarkets(ctx context.Context) error
}

// Standard returns the chain every client operation goes through.
func Standard(log logrus.FieldLogger, gate *auth.Gate, loader MarketLoader) Chain {
	return Chain{Logging(log), RequireAuth(gate), ReloadMarkets(loader)}
}

// RequireAuth blocks private operations before they reach the gateway.
func RequireAuth(gate *auth.Gate) Interceptor {
	return func(ctx context.Context, op Op, next Handler) error {
		if op.Private {
			if err := gate.Require(op.Name); err != nil {
				return err
			}
		}
		return next(ctx)
	}
}

// ReloadMarkets refreshes market metadata before operations that depend on it.
func ReloadMarkets(loader MarketLoader) Interceptor {
	return func(ctx context.Context, op Op, next Handler) error {
		if op.ReloadMarkets && loader != nil {
			if err := loader.LoadMarkets(ctx); err != nil {
				return err
			}
		}
		return next(ctx)
	}
}

func Logging(log logrus.FieldLogger) Interceptor {
	return func(ctx context.Context, op Op, next Handler) error {
		if log == nil {
			return next(ctx)
		}
		start := time.Now()
		err := next(ctx)
		entry := log.WithFields(logrus.Fields{
			"op":       op.Name,
			"duration": time.Since(start).String(),
		})
		if op.Symbol != "" {
			entry = entry.WithField("symbol", op.Symbol)
		}
		if err != nil {
			entry.WithError(err).Warn("operation failed")
			return err
		}
		entry.Debug("operation completed")
		return nil
	}
}
