package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"pricefeed/internal/domain"
	"pricefeed/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// Feed opens Binance combined-stream connections that write ticks into a price cache
type Feed struct {
	opts    Options
	cache   domain.PriceCache
	metrics *infra.Metrics
	dialer  *websocket.Dialer
}

// NewFeed creates a feed connector
func NewFeed(opts Options, cache domain.PriceCache, metrics *infra.Metrics) *Feed {
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	return &Feed{
		opts:    opts,
		cache:   cache,
		metrics: metrics,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// StreamTarget builds the combined stream URL for symbols.
// Symbols are sorted so the same set always yields the same URL.
func (f *Feed) StreamTarget(symbols []domain.Symbol) domain.StreamTarget {
	if len(symbols) == 0 {
		return domain.StreamTarget{}
	}
	sorted := domain.SortSymbols(symbols)
	return domain.StreamTarget{
		URL:     buildStreamURL(f.opts.BaseURL, f.opts.Channel, sorted),
		Symbols: sorted,
	}
}

// Open starts a connection to target and returns immediately.
// The connection keeps reconnecting until ctx is cancelled or Close is called.
func (f *Feed) Open(ctx context.Context, target domain.StreamTarget) domain.FeedHandle {
	c := &Connection{
		id:     ulid.Make().String(),
		target: target,
		feed:   f,
		done:   make(chan struct{}),
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.connectionLoop(ctx)
	return c
}

// Connection is one live stream session with automatic reconnection
type Connection struct {
	id     string
	target domain.StreamTarget
	feed   *Feed

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool // Set by Close; no cache writes happen afterwards

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// ID returns the connection identifier used in logs
func (c *Connection) ID() string {
	return c.id
}

// Target returns the stream this connection serves
func (c *Connection) Target() domain.StreamTarget {
	return c.target
}

// connectionLoop dials, reads until the session fails, then waits the fixed backoff and retries
func (c *Connection) connectionLoop(ctx context.Context) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed panic recovered", slog.String("conn_id", c.id), slog.Any("panic", r))
		}
	}()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Feed connection loop stopped", slog.String("conn_id", c.id))
			return
		default:
		}

		if attempt > 0 {
			c.feed.metrics.RecordReconnect()
		}
		attempt++

		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.feed.metrics.RecordDialFailure()
			slog.Warn("Feed connection failed",
				slog.String("conn_id", c.id),
				slog.Any("error", err),
				slog.Int("attempt", attempt),
			)
		} else {
			err := c.session(ctx)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Feed disconnected",
				slog.String("conn_id", c.id),
				slog.Any("error", err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.feed.opts.Backoff):
		}
	}
}

// connect dials the stream URL
func (c *Connection) connect(ctx context.Context) error {
	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := c.feed.dialer.DialContext(ctx, c.target.URL, header)
	if err != nil {
		return domain.NewFeedError("dial", c.target.URL, fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.NewFeedError("dial", c.target.URL, context.Canceled)
	}
	c.conn = conn
	c.mu.Unlock()

	slog.Info("Feed connected",
		slog.String("conn_id", c.id),
		slog.Int("symbols", len(c.target.Symbols)),
	)
	return nil
}

// session runs the heartbeat alongside the read loop and tears both down together
func (c *Connection) session(ctx context.Context) error {
	c.feed.metrics.IncrementConnections()
	defer c.feed.metrics.DecrementConnections()

	pingCtx, stopPing := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(pingCtx)
	}()

	err := c.readLoop(ctx)

	stopPing()
	c.closeConnection()
	wg.Wait()
	return err
}

// readLoop reads frames until the socket fails or the heartbeat deadline passes.
// Only pong replies extend the read deadline.
func (c *Connection) readLoop(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.New("connection is nil")
	}

	readTimeout := c.feed.opts.PingInterval + c.feed.opts.PongTimeout
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return domain.NewFeedError("read", c.target.URL, domain.ErrHeartbeatTimeout)
			}
			return domain.NewFeedError("read", c.target.URL, err)
		}

		c.handleMessage(message)
	}
}

// pingLoop sends a ping every PingInterval. A failed write or a cancelled ctx
// closes the socket so readLoop exits.
func (c *Connection) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.feed.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}

			deadline := time.Now().Add(c.feed.opts.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				slog.Debug("Feed ping failed", slog.String("conn_id", c.id), slog.Any("error", err))
				c.closeConnection()
				return
			}
		}
	}
}

// handleMessage parses a frame and stores the tick if the symbol belongs to this stream
func (c *Connection) handleMessage(message []byte) {
	t, ok := parseTick(message)
	if !ok {
		c.feed.metrics.RecordDrop()
		slog.Debug("Feed frame dropped", slog.String("conn_id", c.id), slog.Int("bytes", len(message)))
		return
	}
	if !c.target.Contains(t.Symbol) {
		c.feed.metrics.RecordDrop()
		slog.Debug("Feed tick for unsubscribed symbol", slog.String("conn_id", c.id), slog.String("symbol", t.Symbol.String()))
		return
	}

	sample := domain.PriceSample{
		Symbol:     t.Symbol,
		Price:      t.Price,
		ObservedAt: time.Now(),
		EventTime:  t.EventTime,
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.feed.cache.Put(sample)
	c.feed.metrics.RecordTick()
}

// closeConnection safely closes the WebSocket connection
func (c *Connection) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close stops the connection and waits up to CloseTimeout for its goroutine to exit.
// Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.closeConnection()

		timer := time.NewTimer(c.feed.opts.CloseTimeout)
		defer timer.Stop()

		select {
		case <-c.done:
			slog.Info("Feed connection closed", slog.String("conn_id", c.id))
		case <-timer.C:
			slog.Warn("Feed connection did not stop in time",
				slog.String("conn_id", c.id),
				slog.Duration("timeout", c.feed.opts.CloseTimeout),
			)
		}
	})
}

// Done is closed once the connection goroutine has exited
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
