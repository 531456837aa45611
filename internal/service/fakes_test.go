package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pricefeed/internal/domain"

	"github.com/shopspring/decimal"
)

// fakeFeed records every opened handle and tracks how many are live at once
type fakeFeed struct {
	cache domain.PriceCache

	mu     sync.Mutex
	opened []*fakeHandle

	live    atomic.Int32
	maxLive atomic.Int32
}

func newFakeFeed(cache domain.PriceCache) *fakeFeed {
	return &fakeFeed{cache: cache}
}

func (f *fakeFeed) StreamTarget(symbols []domain.Symbol) domain.StreamTarget {
	if len(symbols) == 0 {
		return domain.StreamTarget{}
	}
	sorted := domain.SortSymbols(symbols)
	names := make([]string, len(sorted))
	for i, s := range sorted {
		names[i] = strings.ToLower(s.String())
	}
	return domain.StreamTarget{URL: "fake://" + strings.Join(names, "/"), Symbols: sorted}
}

func (f *fakeFeed) Open(ctx context.Context, target domain.StreamTarget) domain.FeedHandle {
	n := f.live.Add(1)
	for {
		peak := f.maxLive.Load()
		if n <= peak || f.maxLive.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{id: fmt.Sprintf("fake-%d", len(f.opened)+1), target: target, feed: f}
	f.opened = append(f.opened, h)
	return h
}

func (f *fakeFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeFeed) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

type fakeHandle struct {
	id     string
	target domain.StreamTarget
	feed   *fakeFeed

	mu     sync.Mutex
	closed bool
}

func (h *fakeHandle) ID() string                  { return h.id }
func (h *fakeHandle) Target() domain.StreamTarget { return h.target }

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.feed.live.Add(-1)
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// push simulates a tick arriving on this connection
func (h *fakeHandle) push(symbol domain.Symbol, price string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.target.Contains(symbol) {
		return false
	}
	h.feed.cache.Put(domain.PriceSample{
		Symbol:     symbol,
		Price:      decimal.RequireFromString(price),
		ObservedAt: time.Now(),
	})
	return true
}

// fakeWatchlist is an in-memory WatchlistRepository
type fakeWatchlist struct {
	mu      sync.Mutex
	symbols map[domain.Symbol]struct{}
	listErr error
	adds    int
}

func newFakeWatchlist(symbols ...domain.Symbol) *fakeWatchlist {
	w := &fakeWatchlist{symbols: make(map[domain.Symbol]struct{})}
	for _, s := range symbols {
		w.symbols[s] = struct{}{}
	}
	return w
}

func (w *fakeWatchlist) AddSymbol(symbol domain.Symbol) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.adds++
	w.symbols[symbol] = struct{}{}
	return nil
}

func (w *fakeWatchlist) RemoveSymbol(symbol domain.Symbol) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.symbols, symbol)
	return nil
}

func (w *fakeWatchlist) ListSymbols() ([]domain.Symbol, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listErr != nil {
		return nil, w.listErr
	}
	out := make([]domain.Symbol, 0, len(w.symbols))
	for s := range w.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (w *fakeWatchlist) addCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.adds
}

// slowWatchlist holds every AddSymbol until release is closed
type slowWatchlist struct {
	*fakeWatchlist
	entered chan struct{}
	release chan struct{}
}

func newSlowWatchlist() *slowWatchlist {
	return &slowWatchlist{
		fakeWatchlist: newFakeWatchlist(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
}

func (w *slowWatchlist) AddSymbol(symbol domain.Symbol) error {
	select {
	case w.entered <- struct{}{}:
	default:
	}
	<-w.release
	return w.fakeWatchlist.AddSymbol(symbol)
}
