package connection

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the channel
	ReceivedAt time.Time // Local timestamp when the read returned
}

// transport is the live-channel surface the manager drives. The
// websocket Client implements it; tests substitute fakes.
type transport interface {
	Send(data []byte) error
	Messages() <-chan TimestampedMessage
	Errors() <-chan error
	Close() error
}

// dialFunc opens a transport. The default dials a websocket Client;
// tests inject their own.
type dialFunc func(ctx context.Context) (transport, error)

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL          string        // Channel URL (e.g., wss://api.marketpulse.io/realtime)
	AuthToken    string        // Bearer token, empty for no auth
	DialTimeout  time.Duration // Handshake timeout
	PingTimeout  time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:  10 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL            string        // Channel URL
	AuthToken      string        // Bearer token, empty for no auth
	DialTimeout    time.Duration // Per-attempt connect timeout
	MaxAttempts    int           // Consecutive failures before degrading
	RetryBaseDelay time.Duration // Backoff base; attempt n waits base << (n-1)
	WriteTimeout   time.Duration // Write deadline for emits
	PingTimeout    time.Duration // Stale-connection threshold
	BufferSize     int           // Inbound message buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DialTimeout:    10 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: time.Second,
		WriteTimeout:   5 * time.Second,
		PingTimeout:    60 * time.Second,
		BufferSize:     256,
	}
}
