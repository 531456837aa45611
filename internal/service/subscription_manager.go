package service

import (
	"context"
	"log/slog"
	"sync"

	"pricefeed/internal/domain"
	"pricefeed/internal/infra"
)

// SubscriptionManager keeps the live feed connection consistent with the subscription set.
//
// Every mutation of the set and every handle replacement happens under mu, and a replacement
// always closes (and joins) the previous handle before the next one is opened. Two handles are
// therefore never live at the same time.
type SubscriptionManager struct {
	feed    domain.FeedConnector
	cache   domain.PriceCache
	metrics *infra.Metrics

	mu      sync.Mutex
	symbols map[domain.Symbol]struct{}
	current domain.FeedHandle
	closed  bool

	// Parent of every connection context; cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriptionManager creates a manager with an empty subscription set
func NewSubscriptionManager(feed domain.FeedConnector, cache domain.PriceCache, metrics *infra.Metrics) *SubscriptionManager {
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SubscriptionManager{
		feed:    feed,
		cache:   cache,
		metrics: metrics,
		symbols: make(map[domain.Symbol]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe adds a symbol and restarts the connection if the set changed
func (m *SubscriptionManager) Subscribe(symbol string) (bool, error) {
	return m.SubscribeAll([]string{symbol})
}

// SubscribeAll adds several symbols with at most one restart.
// The whole batch is rejected if any symbol is empty.
func (m *SubscriptionManager) SubscribeAll(symbols []string) (bool, error) {
	normalized := make([]domain.Symbol, 0, len(symbols))
	for _, s := range symbols {
		sym := domain.NormalizeSymbol(s)
		if sym.IsZero() {
			return false, domain.ErrInvalidSymbol
		}
		normalized = append(normalized, sym)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, domain.ErrServiceStopped
	}

	changed := false
	for _, sym := range normalized {
		if _, ok := m.symbols[sym]; ok {
			continue
		}
		m.symbols[sym] = struct{}{}
		changed = true
	}
	if !changed {
		return false, nil
	}

	m.stopCurrentLocked()
	m.startLocked()
	return true, nil
}

// Unsubscribe removes a symbol and its cached price, then restarts the connection.
// When the set becomes empty no new connection is opened.
func (m *SubscriptionManager) Unsubscribe(symbol string) (bool, error) {
	sym := domain.NormalizeSymbol(symbol)
	if sym.IsZero() {
		return false, domain.ErrInvalidSymbol
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, domain.ErrServiceStopped
	}
	if _, ok := m.symbols[sym]; !ok {
		return false, nil
	}
	delete(m.symbols, sym)

	// The old handle is stopped before the entry is dropped so it cannot re-insert it.
	m.stopCurrentLocked()
	m.cache.Remove(sym)
	m.startLocked()
	return true, nil
}

// Symbols returns the subscription set, sorted
func (m *SubscriptionManager) Symbols() []domain.Symbol {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sortedLocked()
}

// Current returns the live handle, nil when idle
func (m *SubscriptionManager) Current() domain.FeedHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// Close stops the live connection and makes the manager terminal
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.stopCurrentLocked()
	m.cancel()
	slog.Info("Subscription manager closed", slog.Int("symbols", len(m.symbols)))
}

// stopCurrentLocked must be called with mu held
func (m *SubscriptionManager) stopCurrentLocked() {
	if m.current == nil {
		return
	}
	m.current.Close()
	m.current = nil
}

// startLocked must be called with mu held and no live handle
func (m *SubscriptionManager) startLocked() {
	if len(m.symbols) == 0 {
		slog.Info("Subscription set empty, feed idle")
		return
	}

	target := m.feed.StreamTarget(m.sortedLocked())
	if target.IsZero() {
		return
	}

	m.current = m.feed.Open(m.ctx, target)
	m.metrics.RecordRestart()
	slog.Info("Feed connection (re)started",
		slog.String("conn_id", m.current.ID()),
		slog.Int("symbols", len(target.Symbols)),
	)
}

func (m *SubscriptionManager) sortedLocked() []domain.Symbol {
	out := make([]domain.Symbol, 0, len(m.symbols))
	for sym := range m.symbols {
		out = append(out, sym)
	}
	return domain.SortSymbols(out)
}
