package binance

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pricefeed/internal/domain"
	"pricefeed/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is a minimal PriceCache for feed tests
type memCache struct {
	mu      sync.Mutex
	samples map[domain.Symbol]domain.PriceSample
}

func newMemCache() *memCache {
	return &memCache{samples: make(map[domain.Symbol]domain.PriceSample)}
}

func (c *memCache) Put(sample domain.PriceSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[sample.Symbol] = sample
}

func (c *memCache) Get(symbol domain.Symbol) (domain.PriceSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.samples[symbol]
	return s, ok
}

func (c *memCache) Remove(symbol domain.Symbol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.samples, symbol)
}

func (c *memCache) Snapshot() map[domain.Symbol]domain.PriceSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.Symbol]domain.PriceSample, len(c.samples))
	for k, v := range c.samples {
		out[k] = v
	}
	return out
}

// fakeExchange is a websocket server that speaks just enough of the stream protocol.
// onConnect runs for every accepted connection with its 1-based index.
type fakeExchange struct {
	server      *httptest.Server
	accepted    atomic.Int32
	ignorePings bool
	onConnect   func(n int, conn *serverConn)

	mu      sync.Mutex
	conns   []*serverConn
	streams []string
	agents  []string
}

type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *serverConn) send(t *testing.T, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Logf("server write failed: %v", err)
	}
}

func (s *serverConn) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

func newFakeExchange(t *testing.T, ignorePings bool, onConnect func(n int, conn *serverConn)) *fakeExchange {
	t.Helper()
	ex := &fakeExchange{ignorePings: ignorePings, onConnect: onConnect}
	upgrader := websocket.Upgrader{}

	ex.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if ex.ignorePings {
			conn.SetPingHandler(func(string) error { return nil })
		}

		sc := &serverConn{conn: conn}
		ex.mu.Lock()
		ex.conns = append(ex.conns, sc)
		ex.streams = append(ex.streams, r.URL.Query().Get("streams"))
		ex.agents = append(ex.agents, r.Header.Get("User-Agent"))
		ex.mu.Unlock()
		n := int(ex.accepted.Add(1))

		// Reading is what answers pings
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		if ex.onConnect != nil {
			ex.onConnect(n, sc)
		}
	}))

	t.Cleanup(func() {
		ex.mu.Lock()
		for _, c := range ex.conns {
			c.close()
		}
		ex.mu.Unlock()
		ex.server.Close()
	})
	return ex
}

func (ex *fakeExchange) baseURL() string {
	return "ws" + strings.TrimPrefix(ex.server.URL, "http") + "/stream?streams="
}

func testOptions(baseURL string) Options {
	return Options{
		BaseURL:          baseURL,
		Channel:          "trade",
		Backoff:          50 * time.Millisecond,
		PingInterval:     time.Second,
		PongTimeout:      time.Second,
		HandshakeTimeout: time.Second,
		CloseTimeout:     time.Second,
	}
}

func tradeFrame(symbol, price string) string {
	return `{"stream":"` + strings.ToLower(symbol) + `@trade","data":{"e":"trade","E":1700000000100,"s":"` +
		symbol + `","p":"` + price + `","q":"0.01","T":1700000000099}}`
}

func TestFeed_StreamTarget(t *testing.T) {
	feed := NewFeed(testOptions("wss://stream.binance.com:9443/stream?streams="), newMemCache(), nil)

	target := feed.StreamTarget([]domain.Symbol{"ETHUSDT", "BTCUSDT"})
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade", target.URL)
	assert.Equal(t, []domain.Symbol{"BTCUSDT", "ETHUSDT"}, target.Symbols)

	// Same set in another order gives the same target
	again := feed.StreamTarget([]domain.Symbol{"BTCUSDT", "ETHUSDT"})
	assert.Equal(t, target, again)

	assert.True(t, feed.StreamTarget(nil).IsZero())
}

func TestConnection_DeliversTicks(t *testing.T) {
	ex := newFakeExchange(t, false, func(n int, conn *serverConn) {
		conn.send(t, `not json`)
		conn.send(t, `{"result":null,"id":1}`)
		conn.send(t, tradeFrame("ETHUSDT", "3200.50")) // not subscribed
		conn.send(t, tradeFrame("BTCUSDT", "65000.12345678"))
	})

	cache := newMemCache()
	metrics := infra.NewMetrics()
	feed := NewFeed(testOptions(ex.baseURL()), cache, metrics)

	handle := feed.Open(context.Background(), feed.StreamTarget([]domain.Symbol{"BTCUSDT"}))
	defer handle.Close()

	require.Eventually(t, func() bool {
		_, ok := cache.Get("BTCUSDT")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	sample, _ := cache.Get("BTCUSDT")
	assert.True(t, decimal.RequireFromString("65000.12345678").Equal(sample.Price))
	assert.Equal(t, "65000.12345678", sample.PriceString())
	assert.Equal(t, time.UnixMilli(1700000000099), sample.EventTime)
	assert.False(t, sample.ObservedAt.IsZero())

	_, ok := cache.Get("ETHUSDT")
	assert.False(t, ok, "ticks for symbols outside the target must be dropped")

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.TicksApplied)
	assert.Equal(t, uint64(3), snap.FramesDropped)

	ex.mu.Lock()
	assert.Equal(t, "btcusdt@trade", ex.streams[0])
	assert.Equal(t, infra.DefaultUserAgent, ex.agents[0])
	ex.mu.Unlock()
}

func TestConnection_ReconnectsAfterServerClose(t *testing.T) {
	ex := newFakeExchange(t, false, func(n int, conn *serverConn) {
		if n == 1 {
			conn.send(t, tradeFrame("BTCUSDT", "100.1"))
			conn.close()
			return
		}
		conn.send(t, tradeFrame("BTCUSDT", "200.2"))
	})

	cache := newMemCache()
	metrics := infra.NewMetrics()
	feed := NewFeed(testOptions(ex.baseURL()), cache, metrics)

	handle := feed.Open(context.Background(), feed.StreamTarget([]domain.Symbol{"BTCUSDT"}))
	defer handle.Close()

	require.Eventually(t, func() bool {
		s, ok := cache.Get("BTCUSDT")
		return ok && s.PriceString() == "200.2"
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, ex.accepted.Load(), int32(2))
	assert.GreaterOrEqual(t, metrics.Snapshot().Reconnects, uint64(1))
}

func TestConnection_HeartbeatTimeoutReconnects(t *testing.T) {
	ex := newFakeExchange(t, true, nil)

	opts := testOptions(ex.baseURL())
	opts.PingInterval = 50 * time.Millisecond
	opts.PongTimeout = 50 * time.Millisecond

	feed := NewFeed(opts, newMemCache(), nil)
	handle := feed.Open(context.Background(), feed.StreamTarget([]domain.Symbol{"BTCUSDT"}))
	defer handle.Close()

	require.Eventually(t, func() bool {
		return ex.accepted.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond, "a silent server must be treated as disconnected")
}

func TestConnection_HeartbeatKeepsHealthyConnection(t *testing.T) {
	ex := newFakeExchange(t, false, nil)

	opts := testOptions(ex.baseURL())
	opts.PingInterval = 50 * time.Millisecond
	opts.PongTimeout = 100 * time.Millisecond

	feed := NewFeed(opts, newMemCache(), nil)
	handle := feed.Open(context.Background(), feed.StreamTarget([]domain.Symbol{"BTCUSDT"}))
	defer handle.Close()

	// Several heartbeat periods with pongs flowing
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), ex.accepted.Load())
}

func TestConnection_CloseIsIdempotentAndStopsWrites(t *testing.T) {
	var server atomic.Pointer[serverConn]
	ex := newFakeExchange(t, false, func(n int, conn *serverConn) {
		server.Store(conn)
		conn.send(t, tradeFrame("BTCUSDT", "1"))
	})

	cache := newMemCache()
	metrics := infra.NewMetrics()
	feed := NewFeed(testOptions(ex.baseURL()), cache, metrics)

	handle := feed.Open(context.Background(), feed.StreamTarget([]domain.Symbol{"BTCUSDT"}))
	require.Eventually(t, func() bool {
		_, ok := cache.Get("BTCUSDT")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	handle.Close()
	handle.Close()
	assert.Less(t, time.Since(start), time.Second)

	conn := handle.(*Connection)
	select {
	case <-conn.Done():
	default:
		t.Fatal("connection goroutine still running after Close")
	}
	assert.Equal(t, int32(0), metrics.Snapshot().ActiveConnections)

	cache.Remove("BTCUSDT")
	server.Load().send(t, tradeFrame("BTCUSDT", "2"))
	time.Sleep(100 * time.Millisecond)

	_, ok := cache.Get("BTCUSDT")
	assert.False(t, ok, "no cache writes after Close")
	assert.Equal(t, int32(1), ex.accepted.Load())
}

func TestConnection_CloseInterruptsBackoff(t *testing.T) {
	// Reserve a port and release it so every dial is refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	opts := testOptions("ws://" + addr + "/stream?streams=")
	opts.Backoff = 10 * time.Second

	metrics := infra.NewMetrics()
	feed := NewFeed(opts, newMemCache(), metrics)
	handle := feed.Open(context.Background(), feed.StreamTarget([]domain.Symbol{"BTCUSDT"}))

	require.Eventually(t, func() bool {
		return metrics.Snapshot().DialFailures >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(0), metrics.Snapshot().ActiveConnections, "failed dials are not live connections")

	start := time.Now()
	handle.Close()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestConnection_ActiveConnectionsTracksLiveSocket(t *testing.T) {
	ex := newFakeExchange(t, false, func(n int, conn *serverConn) {
		if n == 1 {
			conn.close()
		}
	})

	metrics := infra.NewMetrics()
	feed := NewFeed(testOptions(ex.baseURL()), newMemCache(), metrics)
	handle := feed.Open(context.Background(), feed.StreamTarget([]domain.Symbol{"BTCUSDT"}))
	defer handle.Close()

	// The first socket is dropped by the server; only the second one stays live
	require.Eventually(t, func() bool {
		return ex.accepted.Load() == 2 && metrics.Snapshot().ActiveConnections == 1
	}, 2*time.Second, 10*time.Millisecond)

	handle.Close()
	assert.Equal(t, int32(0), metrics.Snapshot().ActiveConnections)
}

func TestConnection_ParentContextCancel(t *testing.T) {
	ex := newFakeExchange(t, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	feed := NewFeed(testOptions(ex.baseURL()), newMemCache(), nil)
	handle := feed.Open(ctx, feed.StreamTarget([]domain.Symbol{"BTCUSDT"}))
	defer handle.Close()

	require.Eventually(t, func() bool {
		return ex.accepted.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case <-handle.(*Connection).Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not stop after context cancel")
	}
}
