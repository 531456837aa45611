package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pricefeed/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent on the websocket handshake
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultFeedURL is the Binance combined stream endpoint; stream names are appended.
	DefaultFeedURL = "wss://stream.binance.com:9443/stream?streams="
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed FeedConfig `yaml:"feed"`

	Cache struct {
		Redis RedisConfig `yaml:"redis"`
	} `yaml:"cache"`

	Storage struct {
		Path string `yaml:"path"` // Empty: OS config dir
	} `yaml:"storage"`

	HTTP struct {
		Addr         string   `yaml:"addr"`
		AllowOrigins []string `yaml:"allow_origins"`
	} `yaml:"http"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// FeedConfig holds the upstream stream settings
type FeedConfig struct {
	WSURL               string   `yaml:"ws_url"`
	Channel             string   `yaml:"channel"`
	BackoffMS           int      `yaml:"backoff_ms"`
	PingIntervalSec     int      `yaml:"ping_interval_sec"`
	PongTimeoutSec      int      `yaml:"pong_timeout_sec"`
	HandshakeTimeoutSec int      `yaml:"handshake_timeout_sec"`
	CloseTimeoutMS      int      `yaml:"close_timeout_ms"`
	Symbols             []string `yaml:"symbols"` // Subscribed on first run
}

// Backoff is the fixed delay between reconnection attempts
func (f FeedConfig) Backoff() time.Duration {
	return time.Duration(f.BackoffMS) * time.Millisecond
}

// PingInterval is the heartbeat period
func (f FeedConfig) PingInterval() time.Duration {
	return time.Duration(f.PingIntervalSec) * time.Second
}

// PongTimeout bounds the wait for the server's heartbeat reply
func (f FeedConfig) PongTimeout() time.Duration {
	return time.Duration(f.PongTimeoutSec) * time.Second
}

// HandshakeTimeout bounds the websocket dial
func (f FeedConfig) HandshakeTimeout() time.Duration {
	return time.Duration(f.HandshakeTimeoutSec) * time.Second
}

// CloseTimeout bounds how long Close waits for the connection goroutine
func (f FeedConfig) CloseTimeout() time.Duration {
	return time.Duration(f.CloseTimeoutMS) * time.Millisecond
}

// RedisConfig configures the optional latest-price mirror
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	TTLSec   int    `yaml:"ttl_sec"`
}

// DefaultConfig returns the built-in settings (Binance trade stream, 2s backoff, 20s/10s heartbeat)
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "pricefeed"
	cfg.App.Version = "dev"
	cfg.Feed = FeedConfig{
		WSURL:               DefaultFeedURL,
		Channel:             "trade",
		BackoffMS:           2000,
		PingIntervalSec:     20,
		PongTimeoutSec:      10,
		HandshakeTimeoutSec: 10,
		CloseTimeoutMS:      1000,
		Symbols:             []string{"BTCUSDT"},
	}
	cfg.Cache.Redis = RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "price:",
		TTLSec: 3600,
	}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.AllowOrigins = []string{"http://localhost:3000"}
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// Values missing from the file keep their DefaultConfig value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 4원칙: 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	// 5원칙: 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfigOrDefault falls back to DefaultConfig (with env overrides) when path does not exist
func LoadConfigOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, domain.ErrConfigNotFound) {
		cfg = DefaultConfig()
		overrideWithEnv(cfg)
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Feed
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("not a websocket url: %q", c.Feed.WSURL)}
	}
	if c.Feed.Channel == "" {
		return &domain.ConfigError{Field: "feed.channel", Err: errors.New("required")}
	}
	if c.Feed.BackoffMS <= 0 {
		return &domain.ConfigError{Field: "feed.backoff_ms", Err: errors.New("must be positive")}
	}
	if c.Feed.PingIntervalSec <= 0 {
		return &domain.ConfigError{Field: "feed.ping_interval_sec", Err: errors.New("must be positive")}
	}
	if c.Feed.PongTimeoutSec <= 0 {
		return &domain.ConfigError{Field: "feed.pong_timeout_sec", Err: errors.New("must be positive")}
	}
	if c.Feed.HandshakeTimeoutSec <= 0 {
		return &domain.ConfigError{Field: "feed.handshake_timeout_sec", Err: errors.New("must be positive")}
	}
	if c.Feed.CloseTimeoutMS <= 0 {
		return &domain.ConfigError{Field: "feed.close_timeout_ms", Err: errors.New("must be positive")}
	}

	// Redis
	if c.Cache.Redis.Enabled && c.Cache.Redis.Addr == "" {
		return &domain.ConfigError{Field: "cache.redis.addr", Err: errors.New("required when redis is enabled")}
	}

	return nil
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("PRICEFEED_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if addr := os.Getenv("PRICEFEED_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if addr := os.Getenv("PRICEFEED_REDIS_ADDR"); addr != "" {
		cfg.Cache.Redis.Addr = addr
		cfg.Cache.Redis.Enabled = true
	}
	if pass := os.Getenv("PRICEFEED_REDIS_PASSWORD"); pass != "" {
		cfg.Cache.Redis.Password = pass
	}
	if db := os.Getenv("PRICEFEED_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Cache.Redis.DB = n
		}
	}
	if level := os.Getenv("PRICEFEED_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("PRICEFEED_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}
