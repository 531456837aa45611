package domain

import (
	"context"
)

// PriceCache is a last-value cache keyed by symbol.
// Implementations must be safe for concurrent use and never perform network I/O on reads.
type PriceCache interface {
	Put(sample PriceSample)
	Get(symbol Symbol) (PriceSample, bool)
	Remove(symbol Symbol)
	Snapshot() map[Symbol]PriceSample
}

// FeedConnector builds stream targets and opens physical streaming sessions against them.
type FeedConnector interface {
	StreamTarget(symbols []Symbol) StreamTarget
	Open(ctx context.Context, target StreamTarget) FeedHandle
}

// FeedHandle is one live streaming session.
// Close must be idempotent and must not return before the session stopped writing
// (or a bounded timeout elapsed).
type FeedHandle interface {
	ID() string
	Target() StreamTarget
	Close()
}

// WatchlistRepository persists the subscription set across restarts
type WatchlistRepository interface {
	AddSymbol(symbol Symbol) error
	RemoveSymbol(symbol Symbol) error
	ListSymbols() ([]Symbol, error)
}
