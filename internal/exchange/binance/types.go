package binance

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"exchange-wrapper/internal/core"
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return "binance api error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

type orderResponse struct {
	Symbol             string `json:"symbol"`
	OrderID            int64  `json:"orderId"`
	ClientOrderID      string `json:"clientOrderId"`
	Price              string `json:"price"`
	StopPrice          string `json:"stopPrice"`
	OrigQty            string `json:"origQty"`
	ExecutedQty        string `json:"executedQty"`
	CumulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status             string `json:"status"`
	Side               string `json:"side"`
	Type               string `json:"type"`
	Time               int64  `json:"time"`
	TransactTime       int64  `json:"transactTime"`
	UpdateTime         int64  `json:"updateTime"`
}

type bookTickerResponse struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type exchangeInfoResponse struct {
	Symbols []symbolInfoResponse `json:"symbols"`
}

type symbolInfoResponse struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Filters    []struct {
		FilterType  string `json:"filterType"`
		MinQty      string `json:"minQty"`
		StepSize    string `json:"stepSize"`
		MinNotional string `json:"minNotional"`
		TickSize    string `json:"tickSize"`
	} `json:"filters"`
}

type symbolInfo struct {
	market      core.Market
	status      string
	minNotional decimal.Decimal
}

func parseSymbolInfo(src symbolInfoResponse) symbolInfo {
	base := strings.ToUpper(src.BaseAsset)
	quote := strings.ToUpper(src.QuoteAsset)
	info := symbolInfo{
		market: core.Market{
			ID:              src.Symbol,
			Symbol:          core.JoinSymbol(base, quote),
			Base:            base,
			Quote:           quote,
			AmountPrecision: decimal.Zero,
			PricePrecision:  decimal.Zero,
			MinAmount:       decimal.Zero,
		},
		status:      src.Status,
		minNotional: decimal.Zero,
	}
	for _, f := range src.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if v, err := decimal.NewFromString(f.MinQty); err == nil {
				info.market.MinAmount = v
			}
			if v, err := decimal.NewFromString(f.StepSize); err == nil {
				info.market.AmountPrecision = v
			}
		case "PRICE_FILTER":
			if v, err := decimal.NewFromString(f.TickSize); err == nil {
				info.market.PricePrecision = v
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			if v, err := decimal.NewFromString(f.MinNotional); err == nil {
				// keep the stricter of MIN_NOTIONAL and NOTIONAL
				if v.Cmp(info.minNotional) > 0 {
					info.minNotional = v
				}
			}
		}
	}
	return info
}

var orderTypes = map[string]core.OrderType{
	"MARKET":            core.MarketOrder,
	"LIMIT":             core.Limit,
	"LIMIT_MAKER":       core.Limit,
	"STOP_LOSS":         core.Stop,
	"STOP_LOSS_LIMIT":   core.Stop,
	"TAKE_PROFIT":       core.TakeProfit,
	"TAKE_PROFIT_LIMIT": core.TakeProfit,
}

var orderStatuses = map[string]string{
	"NEW":              core.StatusOpen,
	"PARTIALLY_FILLED": core.StatusOpen,
	"PENDING_NEW":      core.StatusOpen,
	"FILLED":           core.StatusClosed,
	"CANCELED":         core.StatusCanceled,
	"PENDING_CANCEL":   core.StatusCanceled,
	"REJECTED":         core.StatusRejected,
	"EXPIRED":          core.StatusExpired,
	"EXPIRED_IN_MATCH": core.StatusExpired,
}

func (r orderResponse) toOrder(symbol string) core.Order {
	price, _ := decimal.NewFromString(r.Price)
	stopPrice, _ := decimal.NewFromString(r.StopPrice)
	amount, amountErr := decimal.NewFromString(r.OrigQty)
	filled, filledErr := decimal.NewFromString(r.ExecutedQty)
	order := core.Order{
		ID:           strconv.FormatInt(r.OrderID, 10),
		ClientID:     r.ClientOrderID,
		Symbol:       symbol,
		Type:         orderTypes[r.Type],
		Side:         core.Side(strings.ToLower(r.Side)),
		Amount:       amount,
		Filled:       filled,
		Price:        price,
		TriggerPrice: stopPrice,
		Status:       orderStatuses[r.Status],
		Info: map[string]string{
			"id":     strconv.FormatInt(r.OrderID, 10),
			"symbol": r.Symbol,
			"type":   strings.ToLower(r.Type),
			"status": r.Status,
		},
	}
	if order.Status == "" {
		order.Status = strings.ToLower(r.Status)
	}
	if amountErr == nil && filledErr == nil {
		order.Remaining = decimal.NewNullDecimal(amount.Sub(filled))
	}
	switch {
	case r.Time > 0:
		order.CreatedAt = time.UnixMilli(r.Time).UTC()
	case r.TransactTime > 0:
		order.CreatedAt = time.UnixMilli(r.TransactTime).UTC()
	}
	return order
}

// parseKline reads one row of the klines array:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []json.RawMessage) (core.Candle, bool) {
	if len(row) < 6 {
		return core.Candle{}, false
	}
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return core.Candle{}, false
	}
	var fields [5]decimal.Decimal
	for i := range fields {
		var raw string
		if err := json.Unmarshal(row[i+1], &raw); err != nil {
			return core.Candle{}, false
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return core.Candle{}, false
		}
		fields[i] = v
	}
	return core.Candle{
		Time:   time.UnixMilli(openTime).UTC(),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, true
}
