package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is the latest known price of a single symbol
type PriceSample struct {
	Symbol Symbol          `json:"symbol"`
	Price  decimal.Decimal `json:"price"` // Exact decimal as received on the wire

	// ObservedAt is the local receipt time and is authoritative.
	ObservedAt time.Time `json:"observed_at"`
	// EventTime is the upstream trade/event time, zero when the message carries none.
	EventTime time.Time `json:"event_time,omitempty"`
}

// PriceString formats the price with the scale it arrived with ("3200.50" stays "3200.50")
func (s PriceSample) PriceString() string {
	if exp := s.Price.Exponent(); exp < 0 {
		return s.Price.StringFixed(-exp)
	}
	return s.Price.String()
}

// StreamTarget is what a feed connection is opened against:
// the endpoint URL plus the (sorted) symbol set it was built from.
type StreamTarget struct {
	URL     string   `json:"url"`
	Symbols []Symbol `json:"symbols"`
}

// IsZero reports whether there is nothing to stream
func (t StreamTarget) IsZero() bool {
	return t.URL == "" || len(t.Symbols) == 0
}

// Contains reports whether symbol is part of the target
func (t StreamTarget) Contains(symbol Symbol) bool {
	for _, s := range t.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
