// This file defines extensibility hooks: rate limiting, metrics collection,
// and connection lifecycle callbacks that integrate with external monitoring
// and control systems.
package chatwire

import (
	"context"
	"time"
)

// RateLimiter defines the interface for rate limiting inbound events.
// Implementations can enforce strategies per connection, user, or custom keys.
type RateLimiter interface {
	// Allow checks if an operation identified by key should be allowed.
	// Returns true if the operation is within rate limits.
	Allow(ctx context.Context, key string) (allowed bool, err error)

	// Reset clears the rate limit state for the given key.
	Reset(key string)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations can forward these to Prometheus, StatsD, or custom sinks.
type MetricsCollector interface {
	// ConnectionOpened is called when a websocket connection is established.
	ConnectionOpened(connID string)

	// ConnectionClosed is called when a connection closes, with its lifetime.
	ConnectionClosed(connID string, duration time.Duration)

	// EventReceived tracks inbound events from clients.
	EventReceived(connID string, event string, size int)

	// EventDropped tracks malformed or rate-limited events that were discarded.
	EventDropped(connID string, event string, reason string)

	// Broadcast tracks fan-out operations with recipient count.
	Broadcast(event string, recipients int)

	// TypingStarted is called when a typing session opens or extends.
	TypingStarted(userID string, conversationID string)

	// TypingStopped is called when a typing session ends. forced is true when
	// the stop came from a cascade (leave, disconnect, send) or the sweep
	// rather than an expiry or explicit stop.
	TypingStopped(userID string, conversationID string, forced bool)

	// Error tracks errors occurring in different components.
	Error(component string, err error)
}

type Hooks struct {
	RateLimiter RateLimiter
	Metrics     MetricsCollector

	OnConnect    func(conn *Conn) error
	OnDisconnect func(conn *Conn)
}

type noopMetrics struct{}

func (n *noopMetrics) ConnectionOpened(connID string) {}

func (n *noopMetrics) ConnectionClosed(connID string, duration time.Duration) {}

func (n *noopMetrics) EventReceived(connID string, event string, size int) {}

func (n *noopMetrics) EventDropped(connID string, event string, reason string) {}

func (n *noopMetrics) Broadcast(event string, recipients int) {}

func (n *noopMetrics) TypingStarted(userID string, conversationID string) {}

func (n *noopMetrics) TypingStopped(userID string, conversationID string, forced bool) {}

func (n *noopMetrics) Error(component string, err error) {}

// NoopMetrics returns a metrics collector that discards everything.
func NoopMetrics() MetricsCollector {
	return &noopMetrics{}
}
