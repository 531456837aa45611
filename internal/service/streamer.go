package service

import (
	"log/slog"
	"sync"

	"pricefeed/internal/domain"
	"pricefeed/internal/infra"
)

// Streamer is the live price service used by the rest of the application.
// It is built once at startup and passed to every consumer.
type Streamer struct {
	cache     domain.PriceCache
	manager   *SubscriptionManager
	watchlist domain.WatchlistRepository
	stopOnce  sync.Once

	// mu pairs each set change with its watchlist write so both apply in the same order
	mu sync.Mutex
}

// Option configures a Streamer
type Option func(*Streamer)

// WithWatchlist persists subscription changes to repo
func WithWatchlist(repo domain.WatchlistRepository) Option {
	return func(s *Streamer) {
		s.watchlist = repo
	}
}

// NewStreamer wires the facade. feed must write into cache.
func NewStreamer(feed domain.FeedConnector, cache domain.PriceCache, metrics *infra.Metrics, opts ...Option) *Streamer {
	s := &Streamer{
		cache:   cache,
		manager: NewSubscriptionManager(feed, cache, metrics),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe starts streaming a symbol. Subscribing twice is a no-op.
func (s *Streamer) Subscribe(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.manager.Subscribe(symbol)
	if err != nil {
		return err
	}
	if changed && s.watchlist != nil {
		if err := s.watchlist.AddSymbol(domain.NormalizeSymbol(symbol)); err != nil {
			slog.Warn("Failed to persist watched symbol", slog.String("symbol", symbol), slog.Any("error", err))
		}
	}
	return nil
}

// Unsubscribe stops streaming a symbol and forgets its price
func (s *Streamer) Unsubscribe(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.manager.Unsubscribe(symbol)
	if err != nil {
		return err
	}
	if changed && s.watchlist != nil {
		if err := s.watchlist.RemoveSymbol(domain.NormalizeSymbol(symbol)); err != nil {
			slog.Warn("Failed to remove watched symbol", slog.String("symbol", symbol), slog.Any("error", err))
		}
	}
	return nil
}

// GetPrice returns the latest price of a symbol. It never touches the network.
func (s *Streamer) GetPrice(symbol string) (domain.PriceSample, bool) {
	return s.cache.Get(domain.NormalizeSymbol(symbol))
}

// ListSymbols returns the subscription set, sorted
func (s *Streamer) ListSymbols() []domain.Symbol {
	return s.manager.Symbols()
}

// Prices returns a copy of every cached price
func (s *Streamer) Prices() map[domain.Symbol]domain.PriceSample {
	return s.cache.Snapshot()
}

// Restore subscribes the persisted watchlist with a single connection start.
// defaults are persisted only when the watchlist is known to be empty; if it cannot be read
// they are streamed for this run only.
func (s *Streamer) Restore(defaults []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := defaults
	if s.watchlist != nil {
		stored, err := s.watchlist.ListSymbols()
		switch {
		case err != nil:
			slog.Warn("Failed to load watchlist, using defaults for this run", slog.Any("error", err))
		case len(stored) > 0:
			symbols = make([]string, len(stored))
			for i, sym := range stored {
				symbols[i] = sym.String()
			}
		default:
			for _, sym := range defaults {
				if err := s.watchlist.AddSymbol(domain.NormalizeSymbol(sym)); err != nil {
					slog.Warn("Failed to persist default symbol", slog.String("symbol", sym), slog.Any("error", err))
				}
			}
		}
	}
	if len(symbols) == 0 {
		return nil
	}

	if _, err := s.manager.SubscribeAll(symbols); err != nil {
		return err
	}
	slog.Info("Watchlist restored", slog.Int("symbols", len(symbols)))
	return nil
}

// Stop closes the live connection. The service cannot be restarted afterwards.
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() {
		s.manager.Close()
		slog.Info("Price streamer stopped")
	})
}
