package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type SizeUnit string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

const (
	MarketOrder OrderType = "market"
	Limit       OrderType = "limit"
	Stop        OrderType = "stop"
	TakeProfit  OrderType = "takeProfit"
)

const (
	BaseAmount   SizeUnit = "base_amount"
	QuoteAmount  SizeUnit = "quote_amount"
	BasePercent  SizeUnit = "base_percent"
	QuotePercent SizeUnit = "quote_percent"
)

// Unified order states as reported by the gateways.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
	StatusRejected = "rejected"
	StatusFilled   = "filled"
)

func ParseSide(v string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(v))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidArgument, v)
}

func ParseSizeUnit(v string) (SizeUnit, error) {
	unit := SizeUnit(strings.ToLower(strings.TrimSpace(v)))
	switch unit {
	case BaseAmount, QuoteAmount, BasePercent, QuotePercent:
		return unit, nil
	}
	return "", fmt.Errorf("%w: unknown size unit %q", ErrInvalidArgument, v)
}

// IsConditional reports whether orders of this type only activate on a trigger price.
func (t OrderType) IsConditional() bool {
	return t == Stop || t == TakeProfit
}

type Market struct {
	ID              string
	Symbol          string
	Base            string
	Quote           string
	AmountPrecision decimal.Decimal
	PricePrecision  decimal.Decimal
	MinAmount       decimal.Decimal
}

type Ticker struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Time   time.Time
}

type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

type Balance struct {
	Free  decimal.Decimal
	Total decimal.Decimal
}

// Balances maps a currency code to its balance. Missing currencies read as zero.
type Balances map[string]Balance

func (b Balances) Get(currency string) Balance {
	if bal, ok := b[strings.ToUpper(currency)]; ok {
		return bal
	}
	return Balance{Free: decimal.Zero, Total: decimal.Zero}
}

type Order struct {
	ID           string
	ClientID     string
	Symbol       string
	Type         OrderType
	Side         Side
	Amount       decimal.Decimal
	Filled       decimal.Decimal
	Remaining    decimal.NullDecimal
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	Status       string
	CreatedAt    time.Time
	Info         map[string]string
}

// IsZero reports whether o is the empty order returned when nothing was submitted.
func (o Order) IsZero() bool {
	return o.ID == "" && o.Symbol == "" && o.Status == ""
}
