package exchange

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"exchange-wrapper/internal/core"
)

// Well-known parameter keys.
const (
	ParamEndpoint     = "endpoint"
	ParamStopPrice    = "stopPrice"
	ParamTriggerPrice = "triggerPrice"
	ParamClientID     = "clientOrderId"
)

// Endpoint identifiers carried in ParamEndpoint.
const (
	EndpointFetchOrder            = "fetch_order"
	EndpointFetchConditionalOrder = "fetch_conditional_order"
	EndpointCancelOrder           = "cancel_order"
	EndpointCancelConditional     = "cancel_conditional_order"
)

// Params is the passthrough bag of exchange-specific options. Values must be
// scalars: strings, booleans, integers, floats or decimals.
type Params map[string]any

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// With returns a copy of p with key set to value.
func (p Params) With(key string, value any) Params {
	out := p.Clone()
	out[key] = value
	return out
}

// Without returns a copy of p with the given keys removed.
func (p Params) Without(keys ...string) Params {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func (p Params) Validate() error {
	for k, v := range p {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty parameter name", core.ErrInvalidArgument)
		}
		switch v.(type) {
		case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64, decimal.Decimal:
		default:
			return fmt.Errorf("%w: parameter %q has unsupported type %T", core.ErrInvalidArgument, k, v)
		}
	}
	return nil
}

func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	return FormatValue(v), true
}

// FormatValue renders a scalar parameter the way exchanges expect it on the wire.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case decimal.Decimal:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
