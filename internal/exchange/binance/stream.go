package binance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"exchange-wrapper/internal/core"
)

type bookTickerEvent struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// StreamBookTicker delivers best bid/ask updates for symbol to fn until ctx is done
// or the connection fails. keepalive sets the ping interval; zero disables pings.
func (c *Client) StreamBookTicker(ctx context.Context, symbol string, keepalive time.Duration, fn func(core.Ticker)) error {
	if c.wsBaseURL == "" {
		return errors.New("ws base url required")
	}
	id, err := c.marketID(symbol)
	if err != nil {
		return err
	}
	streamURL := c.wsBaseURL + "/" + strings.ToLower(id) + "@bookTicker"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return errors.Join(core.ErrGateway, err)
	}
	defer conn.Close()

	readTimeout := 45 * time.Second
	if keepalive > 0 {
		readTimeout = keepalive * 3
		if readTimeout < 30*time.Second {
			readTimeout = 30 * time.Second
		}
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		var tick <-chan time.Time
		if keepalive > 0 {
			ticker := time.NewTicker(keepalive)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-tick:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					_ = conn.Close()
					return
				}
			case <-ctx.Done():
				// unblocks ReadMessage
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Join(core.ErrGateway, err)
		}
		ticker, ok := parseBookTicker(data, symbol)
		if !ok {
			continue
		}
		fn(ticker)
	}
}

func parseBookTicker(data []byte, symbol string) (core.Ticker, bool) {
	var ev bookTickerEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Symbol == "" {
		return core.Ticker{}, false
	}
	bid, err := decimal.NewFromString(ev.BidPrice)
	if err != nil {
		return core.Ticker{}, false
	}
	ask, err := decimal.NewFromString(ev.AskPrice)
	if err != nil {
		return core.Ticker{}, false
	}
	return core.Ticker{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Last:   bid.Add(ask).Div(decimal.NewFromInt(2)),
		Time:   time.Now().UTC(),
	}, true
}
