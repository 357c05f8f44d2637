package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowops/driftd/common/logger"
	"github.com/flowops/driftd/common/redis"
)

const eventsChannel = "drift:events"

// Event is the wire shape published to the notification channel
type Event struct {
	TenantID      string                 `json:"tenant_id"`
	EventType     string                 `json:"event_type"`
	EnvironmentID uuid.UUID              `json:"environment_id"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	EmittedAt     time.Time              `json:"emitted_at"`
}

// RedisNotifier publishes notification events to a redis channel for the
// external dispatcher to render and deliver.
type RedisNotifier struct {
	redis *redis.Client
	log   *logger.Logger
}

// NewRedisNotifier creates a redis-backed notifier
func NewRedisNotifier(redisClient *redis.Client, log *logger.Logger) *RedisNotifier {
	return &RedisNotifier{redis: redisClient, log: log}
}

// Emit publishes one event. Failures are logged, not propagated: drift
// handling must not fail because a notification could not be sent.
func (n *RedisNotifier) Emit(ctx context.Context, tenantID, eventType string, environmentID uuid.UUID, metadata map[string]interface{}) error {
	event := Event{
		TenantID:      tenantID,
		EventType:     eventType,
		EnvironmentID: environmentID,
		Metadata:      metadata,
		EmittedAt:     time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := n.redis.PublishEvent(ctx, eventsChannel, string(payload)); err != nil {
		n.log.Warn("event publish failed",
			"tenant_id", tenantID,
			"event_type", eventType,
			"error", err)
	}
	return nil
}

// ChannelNotifier buffers events in memory. Used in tests and in
// single-binary dev mode where no redis is configured.
type ChannelNotifier struct {
	events chan Event
	mu     sync.Mutex
	closed bool
}

// NewChannelNotifier creates an in-process notifier with a bounded buffer
func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelNotifier{
		events: make(chan Event, buffer),
	}
}

// Emit enqueues the event, dropping it when the buffer is full
func (n *ChannelNotifier) Emit(ctx context.Context, tenantID, eventType string, environmentID uuid.UUID, metadata map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("notifier closed")
	}

	event := Event{
		TenantID:      tenantID,
		EventType:     eventType,
		EnvironmentID: environmentID,
		Metadata:      metadata,
		EmittedAt:     time.Now().UTC(),
	}

	select {
	case n.events <- event:
	default:
		// Buffer full: notifications are fire-and-forget, drop oldest-first
		// semantics are not required.
	}
	return nil
}

// Events returns the receive side of the event buffer
func (n *ChannelNotifier) Events() <-chan Event {
	return n.events
}

// Close stops the notifier
func (n *ChannelNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
}
