package binance

import (
	"encoding/json"
	"strings"
	"time"

	"pricefeed/internal/domain"
	"pricefeed/internal/infra"

	"github.com/shopspring/decimal"
)

// Options are the feed constants. OptionsFromConfig converts the YAML settings.
type Options struct {
	BaseURL          string // Combined stream endpoint, stream names are appended
	Channel          string // Per-symbol stream suffix (e.g., "trade")
	Backoff          time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
}

// OptionsFromConfig maps feed configuration to connection options
func OptionsFromConfig(cfg infra.FeedConfig) Options {
	return Options{
		BaseURL:          cfg.WSURL,
		Channel:          cfg.Channel,
		Backoff:          cfg.Backoff(),
		PingInterval:     cfg.PingInterval(),
		PongTimeout:      cfg.PongTimeout(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
		CloseTimeout:     cfg.CloseTimeout(),
	}
}

// tick is one parsed price update
type tick struct {
	Symbol    domain.Symbol
	Price     decimal.Decimal
	EventTime time.Time
}

// buildStreamURL joins "<symbol>@<channel>" stream names onto the base URL.
// symbols must already be sorted.
func buildStreamURL(base, channel string, symbols []domain.Symbol) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s.String()) + "@" + channel
	}
	return base + strings.Join(streams, "/")
}

// parseTick extracts a tick from a stream frame.
//
// Combined streams wrap the payload as {"stream": "...", "data": {...}}; raw streams send the
// payload directly, and a frame whose "data" is null or empty is read as raw. The symbol is
// "s". The price is "p" (trade) or else "c" (last close), except for ticker events where only
// "c" is a price. The event time is "T" (trade time) or else "E" (event time), both in
// milliseconds.
//
// Fields are read from a map because Binance payloads use keys that differ only by case
// ("p"/"P", "t"/"T", "e"/"E"), which struct decoding would fold together.
func parseTick(message []byte) (tick, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(message, &fields); err != nil {
		return tick{}, false
	}
	if data, ok := fields["data"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(data, &inner); err != nil {
			return tick{}, false
		}
		// null or {} falls back to the outer object
		if len(inner) > 0 {
			fields = inner
		}
	}

	var rawSymbol string
	if err := json.Unmarshal(fields["s"], &rawSymbol); err != nil {
		return tick{}, false
	}
	symbol := domain.NormalizeSymbol(rawSymbol)
	if symbol.IsZero() {
		return tick{}, false
	}

	var price decimal.Decimal
	var ok bool
	if isTickerEvent(fields) {
		// Ticker payloads use "p" for the 24h price change
		price, ok = decimalField(fields, "c")
	} else if price, ok = decimalField(fields, "p"); !ok {
		price, ok = decimalField(fields, "c")
	}
	if !ok {
		return tick{}, false
	}

	eventTime, ok := millisField(fields, "T")
	if !ok {
		eventTime, _ = millisField(fields, "E")
	}

	return tick{Symbol: symbol, Price: price, EventTime: eventTime}, true
}

func decimalField(fields map[string]json.RawMessage, key string) (decimal.Decimal, bool) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return decimal.Decimal{}, false
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func millisField(fields map[string]json.RawMessage, key string) (time.Time, bool) {
	raw, ok := fields[key]
	if !ok {
		return time.Time{}, false
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func isTickerEvent(fields map[string]json.RawMessage) bool {
	var event string
	if err := json.Unmarshal(fields["e"], &event); err != nil {
		return false
	}
	return event == "24hrTicker" || event == "24hrMiniTicker"
}
