package service

import (
	"errors"
	"testing"
	"time"

	"pricefeed/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamer(t *testing.T, opts ...Option) (*Streamer, *fakeFeed) {
	t.Helper()
	cache := NewPriceCache()
	feed := newFakeFeed(cache)
	s := NewStreamer(feed, cache, nil, opts...)
	t.Cleanup(s.Stop)
	return s, feed
}

func TestStreamer_EndToEnd(t *testing.T) {
	s, feed := newTestStreamer(t)

	require.NoError(t, s.Subscribe("ethusdt"))
	feed.last().push("ETHUSDT", "3200.50")

	sample, ok := s.GetPrice("ETHUSDT")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("3200.50").Equal(sample.Price))
	assert.Equal(t, "3200.50", sample.PriceString())

	// Lookups are case-insensitive
	_, ok = s.GetPrice(" ethusdt ")
	assert.True(t, ok)

	_, ok = s.GetPrice("BTCUSDT")
	assert.False(t, ok, "no price before the first tick")

	assert.Equal(t, []domain.Symbol{"ETHUSDT"}, s.ListSymbols())
	assert.Len(t, s.Prices(), 1)
}

func TestStreamer_StopIsIdempotent(t *testing.T) {
	s, feed := newTestStreamer(t)

	require.NoError(t, s.Subscribe("BTCUSDT"))
	s.Stop()
	s.Stop()

	assert.Equal(t, int32(0), feed.live.Load())
	assert.ErrorIs(t, s.Subscribe("ETHUSDT"), domain.ErrServiceStopped)
	assert.ErrorIs(t, s.Unsubscribe("BTCUSDT"), domain.ErrServiceStopped)
}

func TestStreamer_PersistsWatchlist(t *testing.T) {
	watchlist := newFakeWatchlist()
	s, _ := newTestStreamer(t, WithWatchlist(watchlist))

	require.NoError(t, s.Subscribe("btcusdt"))
	require.NoError(t, s.Subscribe("ETHUSDT"))
	require.NoError(t, s.Unsubscribe("BTCUSDT"))

	stored, err := watchlist.ListSymbols()
	require.NoError(t, err)
	assert.Equal(t, []domain.Symbol{"ETHUSDT"}, stored)
}

func TestStreamer_RestoreUsesDefaultsOnFirstRun(t *testing.T) {
	watchlist := newFakeWatchlist()
	s, feed := newTestStreamer(t, WithWatchlist(watchlist))

	require.NoError(t, s.Restore([]string{"BTCUSDT", "ethusdt"}))

	assert.Equal(t, 1, feed.openCount(), "restore must start a single connection")
	assert.Equal(t, []domain.Symbol{"BTCUSDT", "ETHUSDT"}, s.ListSymbols())

	stored, _ := watchlist.ListSymbols()
	assert.Equal(t, []domain.Symbol{"BTCUSDT", "ETHUSDT"}, stored)
}

func TestStreamer_RestorePrefersStoredWatchlist(t *testing.T) {
	watchlist := newFakeWatchlist("SOLUSDT")
	s, feed := newTestStreamer(t, WithWatchlist(watchlist))

	require.NoError(t, s.Restore([]string{"BTCUSDT"}))

	assert.Equal(t, []domain.Symbol{"SOLUSDT"}, s.ListSymbols())
	assert.Equal(t, 1, feed.openCount())
}

func TestStreamer_RestoreFallsBackWhenWatchlistFails(t *testing.T) {
	watchlist := newFakeWatchlist()
	watchlist.listErr = errors.New("disk gone")
	s, _ := newTestStreamer(t, WithWatchlist(watchlist))

	require.NoError(t, s.Restore([]string{"BTCUSDT"}))
	assert.Equal(t, []domain.Symbol{"BTCUSDT"}, s.ListSymbols())

	// Defaults stream for this run only; a stored unsubscribe must not be overwritten
	assert.Equal(t, 0, watchlist.addCount())
	watchlist.listErr = nil
	stored, err := watchlist.ListSymbols()
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestStreamer_RestoreWithNothingStaysIdle(t *testing.T) {
	s, feed := newTestStreamer(t)

	require.NoError(t, s.Restore(nil))
	assert.Equal(t, 0, feed.openCount())
	assert.Empty(t, s.ListSymbols())
}

func TestStreamer_WatchlistFollowsSubscriptionOrder(t *testing.T) {
	watchlist := newSlowWatchlist()
	s, _ := newTestStreamer(t, WithWatchlist(watchlist))

	subscribed := make(chan error, 1)
	go func() { subscribed <- s.Subscribe("BTCUSDT") }()
	<-watchlist.entered

	unsubscribed := make(chan error, 1)
	go func() { unsubscribed <- s.Unsubscribe("BTCUSDT") }()

	select {
	case <-unsubscribed:
		t.Fatal("unsubscribe finished while the subscribe was still being saved")
	case <-time.After(50 * time.Millisecond):
	}

	close(watchlist.release)
	require.NoError(t, <-subscribed)
	require.NoError(t, <-unsubscribed)

	stored, err := watchlist.ListSymbols()
	require.NoError(t, err)
	assert.Empty(t, s.ListSymbols())
	assert.Empty(t, stored, "saved watchlist must match the subscription set")
}
