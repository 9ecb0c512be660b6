package router

import (
	"strings"
	"sync"

	"exchange-wrapper/internal/core"
	"exchange-wrapper/internal/exchange"
)

// Category separates orders an exchange serves from its plain order endpoints from
// those served by its conditional (trigger) order endpoints.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryPlain
	CategoryConditional
)

func (c Category) String() string {
	switch c {
	case CategoryPlain:
		return "plain"
	case CategoryConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// Strategy holds the per-exchange endpoint selection for lookups and cancellation.
// Build methods must return a new parameter set and leave the input untouched.
type Strategy interface {
	Name() string
	ClassifyOrder(order core.Order) Category
	BuildCancelRequest(cat Category, params exchange.Params) exchange.Params
	BuildFetchRequest(cat Category, params exchange.Params) exchange.Params
	// RequiresLookup reports whether cancelling by id must fetch the order first
	// to learn its category.
	RequiresLookup() bool
}

// GenericStrategy serves every order through the same endpoints.
type GenericStrategy struct{}

func (GenericStrategy) Name() string { return "generic" }

func (GenericStrategy) ClassifyOrder(order core.Order) Category {
	return classify(order)
}

func (GenericStrategy) BuildCancelRequest(_ Category, params exchange.Params) exchange.Params {
	return params.Without(exchange.ParamEndpoint)
}

func (GenericStrategy) BuildFetchRequest(_ Category, params exchange.Params) exchange.Params {
	return params.Without(exchange.ParamEndpoint)
}

func (GenericStrategy) RequiresLookup() bool { return false }

// ConditionalSplitStrategy targets exchanges such as FTX that cancel and list
// trigger orders through a separate endpoint family.
type ConditionalSplitStrategy struct{}

func (ConditionalSplitStrategy) Name() string { return "conditional_split" }

func (ConditionalSplitStrategy) ClassifyOrder(order core.Order) Category {
	return classify(order)
}

func (ConditionalSplitStrategy) BuildCancelRequest(cat Category, params exchange.Params) exchange.Params {
	if cat == CategoryConditional {
		return params.With(exchange.ParamEndpoint, exchange.EndpointCancelConditional)
	}
	return params.With(exchange.ParamEndpoint, exchange.EndpointCancelOrder)
}

// BuildFetchRequest falls back to the plain endpoint for unknown orders; it resolves
// orders of every category by id.
func (ConditionalSplitStrategy) BuildFetchRequest(cat Category, params exchange.Params) exchange.Params {
	if cat == CategoryConditional {
		return params.With(exchange.ParamEndpoint, exchange.EndpointFetchConditionalOrder)
	}
	return params.With(exchange.ParamEndpoint, exchange.EndpointFetchOrder)
}

func (ConditionalSplitStrategy) RequiresLookup() bool { return true }

func classify(order core.Order) Category {
	if order.Type.IsConditional() {
		return CategoryConditional
	}
	switch strings.ToLower(order.Info["type"]) {
	case "stop", "take_profit", "takeprofit", "trailing_stop", "stop_loss", "stop_loss_limit", "take_profit_limit":
		return CategoryConditional
	case "":
		if order.Type == "" {
			return CategoryUnknown
		}
	}
	return CategoryPlain
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Strategy{
		"ftx": ConditionalSplitStrategy{},
	}
)

// Register installs the strategy used for the named exchange.
func Register(exchangeName string, s Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(exchangeName)] = s
}

// StrategyFor returns the strategy registered for the exchange, or GenericStrategy.
func StrategyFor(exchangeName string) Strategy {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if s, ok := registry[strings.ToLower(exchangeName)]; ok {
		return s
	}
	return GenericStrategy{}
}
