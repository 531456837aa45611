package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pricefeed/internal/domain"
	"pricefeed/internal/infra"

	"github.com/redis/go-redis/v9"
)

const (
	queueSize    = 1024
	writeTimeout = 3 * time.Second
)

// NewClient connects to Redis and verifies the connection with a ping
func NewClient(ctx context.Context, cfg infra.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	slog.Info("Redis connected", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return client, nil
}

// store is the subset of the Redis client the mirror writes with
type store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// mirrorOp is one queued write; del removes the key instead of setting it
type mirrorOp struct {
	key   string
	value []byte
	del   bool
}

// record is the JSON stored under each key
type record struct {
	Symbol     string    `json:"symbol"`
	Price      string    `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
	EventTime  time.Time `json:"event_time,omitempty"`
}

// Mirror is a PriceCache that copies every change to Redis in the background.
// Reads are served by the wrapped cache only.
type Mirror struct {
	domain.PriceCache

	store  store
	prefix string
	ttl    time.Duration

	mu     sync.RWMutex
	queue  chan mirrorOp
	closed bool
	done   chan struct{}
}

// NewMirror wraps inner and starts the write-behind worker
func NewMirror(inner domain.PriceCache, client *redis.Client, cfg infra.RedisConfig) *Mirror {
	return newMirror(inner, client, cfg.Prefix, time.Duration(cfg.TTLSec)*time.Second)
}

func newMirror(inner domain.PriceCache, s store, prefix string, ttl time.Duration) *Mirror {
	m := &Mirror{
		PriceCache: inner,
		store:      s,
		prefix:     prefix,
		ttl:        ttl,
		queue:      make(chan mirrorOp, queueSize),
		done:       make(chan struct{}),
	}
	go m.run()
	return m
}

// Put stores the sample in memory and queues the Redis write
func (m *Mirror) Put(sample domain.PriceSample) {
	m.PriceCache.Put(sample)

	data, err := json.Marshal(record{
		Symbol:     sample.Symbol.String(),
		Price:      sample.PriceString(),
		ObservedAt: sample.ObservedAt,
		EventTime:  sample.EventTime,
	})
	if err != nil {
		slog.Debug("Mirror encode failed", slog.String("symbol", sample.Symbol.String()), slog.Any("error", err))
		return
	}
	m.enqueue(mirrorOp{key: m.Key(sample.Symbol), value: data})
}

// Remove drops the entry in memory and queues the Redis delete
func (m *Mirror) Remove(symbol domain.Symbol) {
	m.PriceCache.Remove(symbol)
	m.enqueue(mirrorOp{key: m.Key(symbol), del: true})
}

// Key returns the Redis key for a symbol
func (m *Mirror) Key(symbol domain.Symbol) string {
	return m.prefix + symbol.String()
}

func (m *Mirror) enqueue(op mirrorOp) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}
	select {
	case m.queue <- op:
	default:
		slog.Warn("Redis mirror queue full, dropping write", slog.String("key", op.key))
	}
}

func (m *Mirror) run() {
	defer close(m.done)

	for op := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		if op.del {
			err = m.store.Del(ctx, op.key).Err()
		} else {
			err = m.store.Set(ctx, op.key, op.value, m.ttl).Err()
		}
		cancel()

		if err != nil {
			slog.Warn("Redis mirror write failed", slog.String("key", op.key), slog.Bool("delete", op.del), slog.Any("error", err))
		}
	}
}

// Close flushes queued writes and stops the worker. Later changes stay in memory only.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	slog.Info("Redis mirror closed")
}
