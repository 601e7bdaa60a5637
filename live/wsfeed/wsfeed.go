// Package wsfeed implements a gorilla/websocket-based live bar feed,
// independent of any single broker adapter. It owns reconnect-with-backoff
// for venues without their own streaming client; live/binancebroker does
// not use it (it relies on go-binance's own kline stream).
package wsfeed

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quantengine/engineerr"
	"quantengine/logging"
	"quantengine/types"
)

// BarDecoder turns one inbound text frame into a Bar. Supplied by the
// caller since wire formats differ per venue.
type BarDecoder func(frame []byte) (types.Bar, bool, error)

// Feed is a reconnecting websocket bar stream.
type Feed struct {
	url    string
	decode BarDecoder
	onBar  func(types.Bar)

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// New constructs a Feed against a websocket URL. Call Run to start reading.
func New(rawURL string, decode BarDecoder, onBar func(types.Bar)) (*Feed, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidArgument, "wsfeed.Feed", "invalid feed url", err)
	}
	return &Feed{url: rawURL, decode: decode, onBar: onBar}, nil
}

// Run connects and reads frames until Close is called, reconnecting with
// the same backoff contract as the broker's call retries (initial 100ms,
// x2 per attempt, cap 5s); unlike the bounded broker call retries, a feed
// reconnects indefinitely since a live bar stream has no natural end.
func (f *Feed) Run() {
	log := logging.Component("wsfeed")
	delay := 100 * time.Millisecond
	const maxDelay = 5 * time.Second

	for {
		f.mu.Lock()
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket dial failed, retrying")
			time.Sleep(delay)
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}
		delay = 100 * time.Millisecond

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		f.readLoop(conn, log)

		f.mu.Lock()
		closed = f.closed
		f.mu.Unlock()
		if closed {
			return
		}
	}
}

func (f *Feed) readLoop(conn *websocket.Conn, log zerolog.Logger) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		bar, ok, err := f.decode(frame)
		if err != nil {
			continue
		}
		if !ok {
			continue
		}
		f.onBar(bar)
	}
}

// Close stops the feed and closes the current connection if any.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// DecodeJSONBar is a convenience BarDecoder for venues that send each bar
// as a flat JSON object matching types.Bar's field names (lowercase).
func DecodeJSONBar(frame []byte) (types.Bar, bool, error) {
	var raw struct {
		Symbol    string  `json:"symbol"`
		Timestamp int64   `json:"timestamp"`
		Open      float64 `json:"open"`
		High      float64 `json:"high"`
		Low       float64 `json:"low"`
		Close     float64 `json:"close"`
		Volume    float64 `json:"volume"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return types.Bar{}, false, err
	}
	if raw.Symbol == "" {
		return types.Bar{}, false, nil
	}
	return types.Bar{
		Symbol:    raw.Symbol,
		Timestamp: time.UnixMilli(raw.Timestamp),
		Open:      decimalFromFloat(raw.Open),
		High:      decimalFromFloat(raw.High),
		Low:       decimalFromFloat(raw.Low),
		Close:     decimalFromFloat(raw.Close),
		Volume:    decimalFromFloat(raw.Volume),
	}, true, nil
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
