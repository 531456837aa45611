package domain

import "errors"

// RetriableError is implemented by errors that the feed retry loop may recover from
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// FeedError is a failure of one streaming session step.
// Everything the connection loop produces is retriable; only Close ends a session.
type FeedError struct {
	Op        string // "dial", "read"
	Target    string // Stream URL the session was opened against
	Err       error
	Retriable bool
}

func (e *FeedError) Error() string {
	if e.Target == "" {
		return "feed " + e.Op + ": " + e.Err.Error()
	}
	return "feed " + e.Op + " [" + e.Target + "]: " + e.Err.Error()
}

func (e *FeedError) IsRetriable() bool {
	return e.Retriable
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError creates a retriable feed error
func NewFeedError(op, target string, err error) *FeedError {
	return &FeedError{Op: op, Target: target, Err: err, Retriable: true}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when the websocket dial fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrHeartbeatTimeout means the peer did not answer pings in time
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrInvalidSymbol is returned when a symbol is empty after normalization. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrServiceStopped is returned by mutations after the streaming service was stopped
	ErrServiceStopped = errors.New("streaming service stopped")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
