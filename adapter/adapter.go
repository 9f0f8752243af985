// Package adapter defines the notification boundary of the collector.
//
// Adapters publish a batch_received event to a downstream system after the
// collector has committed a batch. Publishing never affects the session:
// failures are logged and counted by the caller.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeBatchReceived is the event_type of every BatchReceivedEvent.
const EventTypeBatchReceived = "batch_received"

// BatchReceivedEvent is the payload published after a batch is committed.
type BatchReceivedEvent struct {
	EventType       string   `json:"event_type"` // always "batch_received"
	ProtocolVersion string   `json:"protocol_version"`
	ConnID          string   `json:"conn_id"`
	RemoteAddr      string   `json:"remote_addr"`
	FileCount       int      `json:"file_count"`
	ByteCount       int64    `json:"byte_count"`
	Files           []string `json:"files"`
	Output          string   `json:"output"`    // output location the batch was committed to
	Timestamp       string   `json:"timestamp"` // RFC 3339
	DurationMs      int64    `json:"duration_ms"`
}

// Adapter publishes batch events to a downstream system.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Publish sends the event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *BatchReceivedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Adapter kinds accepted by the collect command.
const (
	KindRedis   = "redis"
	KindWebhook = "webhook"
)

// Retry calls attempt up to 1+retries times, sleeping with exponential
// backoff (500ms, 1s, 2s, ...) between calls. It stops early when attempt
// succeeds, when permanent reports the error as non-retriable, or when ctx
// is done.
func Retry(ctx context.Context, retries int, attempt func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
