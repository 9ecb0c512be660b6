package ftx

import (
	"fmt"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"

	"exchange-wrapper/internal/core"
)

// unwrap checks the {success, error, result} envelope and returns the raw result.
func unwrap(status int, body []byte) ([]byte, error) {
	success, err := jsonparser.GetBoolean(body, "success")
	if err != nil {
		return nil, fmt.Errorf("%w: ftx http %d: unreadable response: %s", core.ErrGateway, status, strings.TrimSpace(string(body)))
	}
	if !success || status/100 != 2 {
		msg, _ := jsonparser.GetString(body, "error")
		if msg == "" {
			msg = "request failed"
		}
		return nil, classifyAPIError(APIError{Status: status, Msg: msg})
	}
	result, _, _, err := jsonparser.Get(body, "result")
	if err != nil {
		return nil, fmt.Errorf("%w: ftx response without result", core.ErrGateway)
	}
	return result, nil
}

func getDecimal(data []byte, keys ...string) (decimal.Decimal, bool) {
	raw, dataType, _, err := jsonparser.Get(data, keys...)
	if err != nil {
		return decimal.Zero, false
	}
	switch dataType {
	case jsonparser.Number, jsonparser.String:
		v, err := decimal.NewFromString(string(raw))
		if err != nil {
			return decimal.Zero, false
		}
		return v, true
	}
	return decimal.Zero, false
}

func getDecimalOrZero(data []byte, keys ...string) decimal.Decimal {
	v, _ := getDecimal(data, keys...)
	return v
}

func getTime(data []byte, key string) time.Time {
	raw, err := jsonparser.GetString(data, key)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func getID(data []byte) string {
	raw, dataType, _, err := jsonparser.Get(data, "id")
	if err != nil || dataType == jsonparser.Null {
		return ""
	}
	return string(raw)
}

func parseMarket(data []byte) (core.Market, bool) {
	marketType, _ := jsonparser.GetString(data, "type")
	if marketType != "" && marketType != "spot" {
		return core.Market{}, false
	}
	name, err := jsonparser.GetString(data, "name")
	if err != nil {
		return core.Market{}, false
	}
	base, _ := jsonparser.GetString(data, "baseCurrency")
	quote, _ := jsonparser.GetString(data, "quoteCurrency")
	if base == "" || quote == "" {
		return core.Market{}, false
	}
	sizeIncrement := getDecimalOrZero(data, "sizeIncrement")
	minAmount, ok := getDecimal(data, "minProvideSize")
	if !ok {
		minAmount = sizeIncrement
	}
	return core.Market{
		ID:              name,
		Symbol:          core.JoinSymbol(strings.ToUpper(base), strings.ToUpper(quote)),
		Base:            strings.ToUpper(base),
		Quote:           strings.ToUpper(quote),
		AmountPrecision: sizeIncrement,
		PricePrecision:  getDecimalOrZero(data, "priceIncrement"),
		MinAmount:       minAmount,
	}, true
}

var triggerTypes = map[string]core.OrderType{
	"stop":          core.Stop,
	"trailing_stop": core.Stop,
	"take_profit":   core.TakeProfit,
	"takeprofit":    core.TakeProfit,
}

// parseOrder reads both plain and trigger orders. Trigger orders carry a
// triggerPrice and report a stop or take_profit type.
func parseOrder(data []byte, symbolOf func(string) string) core.Order {
	rawType, _ := jsonparser.GetString(data, "type")
	market, _ := jsonparser.GetString(data, "market")
	side, _ := jsonparser.GetString(data, "side")
	status, _ := jsonparser.GetString(data, "status")
	clientID, _ := jsonparser.GetString(data, "clientId")

	order := core.Order{
		ID:        getID(data),
		ClientID:  clientID,
		Symbol:    symbolOf(market),
		Side:      core.Side(strings.ToLower(side)),
		Amount:    getDecimalOrZero(data, "size"),
		Filled:    getDecimalOrZero(data, "filledSize"),
		Price:     getDecimalOrZero(data, "price"),
		CreatedAt: getTime(data, "createdAt"),
		Info: map[string]string{
			"id":     getID(data),
			"market": market,
			"type":   rawType,
			"status": status,
		},
	}

	if t, ok := triggerTypes[strings.ToLower(rawType)]; ok {
		order.Type = t
		order.TriggerPrice = getDecimalOrZero(data, "triggerPrice")
		order.Price = getDecimalOrZero(data, "orderPrice")
		order.Remaining = decimal.NewNullDecimal(order.Amount.Sub(order.Filled))
		order.Status = triggerStatus(status, order.Remaining.Decimal)
		return order
	}

	order.Type = core.OrderType(strings.ToLower(rawType))
	if remaining, ok := getDecimal(data, "remainingSize"); ok {
		order.Remaining = decimal.NewNullDecimal(remaining)
	}
	order.Status = plainStatus(status, order.Remaining)
	return order
}

func plainStatus(status string, remaining decimal.NullDecimal) string {
	switch strings.ToLower(status) {
	case "new", "open":
		return core.StatusOpen
	case "closed":
		if remaining.Valid && remaining.Decimal.Sign() > 0 {
			return core.StatusCanceled
		}
		return core.StatusClosed
	}
	return strings.ToLower(status)
}

func triggerStatus(status string, remaining decimal.Decimal) string {
	switch strings.ToLower(status) {
	case "open":
		return core.StatusOpen
	case "cancelled", "canceled":
		return core.StatusCanceled
	case "triggered":
		if remaining.Sign() > 0 {
			return core.StatusOpen
		}
		return core.StatusClosed
	}
	return strings.ToLower(status)
}

func parseCandle(data []byte) (core.Candle, bool) {
	start := getTime(data, "startTime")
	if start.IsZero() {
		ms, err := jsonparser.GetFloat(data, "time")
		if err != nil {
			return core.Candle{}, false
		}
		start = time.UnixMilli(int64(ms)).UTC()
	}
	return core.Candle{
		Time:   start,
		Open:   getDecimalOrZero(data, "open"),
		High:   getDecimalOrZero(data, "high"),
		Low:    getDecimalOrZero(data, "low"),
		Close:  getDecimalOrZero(data, "close"),
		Volume: getDecimalOrZero(data, "volume"),
	}, true
}
