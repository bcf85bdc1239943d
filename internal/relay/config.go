// Package relay implements the Nostr relay transport: a resilient websocket
// client per relay and a pool that fans publishes out and merges
// subscriptions across relays.
package relay

import (
	"errors"
	"strings"
	"time"
)

// Default values for relay connection configuration.
const (
	DefaultBaseDelay        = 500 * time.Millisecond
	DefaultMaxDelay         = 30 * time.Second
	DefaultJitterFactor     = 0.5
	DefaultAckTimeout       = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultStableAfter      = 10 * time.Second
)

// Configuration errors.
var (
	ErrEmptyURL          = errors.New("relay URL cannot be empty")
	ErrInvalidScheme     = errors.New("relay URL must use ws:// or wss://")
	ErrInvalidDelay      = errors.New("base delay must be positive")
	ErrInvalidMaxDelay   = errors.New("max delay must be >= base delay")
	ErrInvalidJitter     = errors.New("jitter factor must be between 0 and 1")
	ErrInvalidAckTimeout = errors.New("ack timeout must be positive")
)

// Role is the purpose a relay serves.
type Role string

const (
	RoleLocation Role = "location"
	RoleProfile  Role = "profile"
)

// Config holds configuration for a single relay client.
type Config struct {
	// URL is the relay websocket endpoint.
	URL string

	// BaseDelay is the initial delay before the first reconnect attempt.
	BaseDelay time.Duration

	// MaxDelay caps the delay between reconnect attempts.
	MaxDelay time.Duration

	// JitterFactor is the fraction of delay to randomize (0.0 to 1.0).
	JitterFactor float64

	// AckTimeout bounds how long Publish waits for the relay's OK message.
	AckTimeout time.Duration

	HandshakeTimeout time.Duration

	// StableAfter is how long a connection must stay up before the
	// reconnect backoff starts over. Zero means DefaultStableAfter.
	StableAfter time.Duration
}

// DefaultConfig returns a Config with default timings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		JitterFactor:     DefaultJitterFactor,
		AckTimeout:       DefaultAckTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		StableAfter:      DefaultStableAfter,
	}
}

func (c Config) stableAfter() time.Duration {
	if c.StableAfter <= 0 {
		return DefaultStableAfter
	}
	return c.StableAfter
}

// WithURL returns a copy of c pointing at url.
func (c Config) WithURL(url string) Config {
	c.URL = url
	return c
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.URL == "" {
		return ErrEmptyURL
	}
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return ErrInvalidScheme
	}
	if c.BaseDelay <= 0 {
		return ErrInvalidDelay
	}
	if c.MaxDelay < c.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidJitter
	}
	if c.AckTimeout <= 0 {
		return ErrInvalidAckTimeout
	}
	return nil
}

// NormalizeURL trims whitespace and a trailing slash so the same relay is
// not tracked twice.
func NormalizeURL(url string) string {
	url = strings.TrimSpace(url)
	return strings.TrimRight(url, "/")
}
