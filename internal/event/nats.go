// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams catalog lifecycle events (create, update, delete) so downstream
// annotation and archival systems can react to changes in the video catalog.
package event

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
)

// Entity names used in event subjects.
const (
	EntityVideoSequence  = "videosequences"
	EntityVideo          = "videos"
	EntityVideoReference = "videoreferences"
)

// Publisher interface defines the event publishing operations required by the
// VAM service. One lifecycle event is emitted per committed catalog mutation.
type Publisher interface {
	// PublishCreated emits a created event for the given entity.
	PublishCreated(ctx context.Context, entity string, id uuid.UUID, payload any) error

	// PublishUpdated emits an updated event for the given entity.
	PublishUpdated(ctx context.Context, entity string, id uuid.UUID, payload any) error

	// PublishDeleted emits a deleted event for the given entity. The payload
	// carries the last known state, since the row is already gone.
	PublishDeleted(ctx context.Context, entity string, id uuid.UUID, payload any) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
// It implements all Publisher methods but does nothing, allowing the service
// to function without event streaming when NATS is not available.
type noop struct{}

// Close implements Publisher
func (n *noop) Close() error { return nil }

// PublishCreated implements Publisher
func (n *noop) PublishCreated(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return nil
}

// PublishUpdated implements Publisher
func (n *noop) PublishUpdated(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return nil
}

// PublishDeleted implements Publisher
func (n *noop) PublishDeleted(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return nil
}

// natsPub is the NATS JetStream implementation of Publisher.
// It connects to a NATS server and publishes events to JetStream streams.
type natsPub struct {
	nc *nats.Conn            // NATS connection
	js nats.JetStreamContext // JetStream context for stream operations

	// Deduplication: an identical entity/action/state triple published within
	// the window is suppressed so a retry loop does not flood the stream.
	// Distinct states always pass, so successive edits are never lost.
	dedup map[string]time.Time
	mutex sync.RWMutex

	entropy *ulid.MonotonicEntropy // ULID entropy source for correlation IDs
}

// NewPublisherFromEnv creates a new publisher based on environment configuration.
// It reads the VAM_NATS_URL environment variable to determine if NATS should be used.
// If NATS is not configured or connection fails, it returns a no-op publisher.
func NewPublisherFromEnv() Publisher {
	url := os.Getenv("VAM_NATS_URL")
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{
		nc:      nc,
		js:      js,
		dedup:   make(map[string]time.Time),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// initStreams initializes the required NATS streams.
// The VAM_CATALOG stream carries every catalog lifecycle event under
// vam.<entity>.<action> subjects.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "VAM_CATALOG",           // Stream name
		Subjects:  []string{"vam.*.*"},     // vam.<entity>.<action>
		Retention: nats.LimitsPolicy,       // Retention policy
		MaxAge:    24 * time.Hour,          // Keep events for 24 hours
		Discard:   nats.DiscardOld,         // Discard old messages when limits reached
		Storage:   nats.FileStorage,        // Use file storage for persistence
	})
	if err != nil {
		return fmt.Errorf("failed to create VAM_CATALOG stream: %w", err)
	}

	return nil
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string    `json:"type"`          // Event type identifier (matches the subject)
	Version       string    `json:"version"`       // Event schema version
	OccurredAt    time.Time `json:"occurredAt"`    // When the event occurred
	CorrelationID string    `json:"correlationId"` // Correlation ID for tracing
	Payload       any       `json:"payload"`       // Event-specific data
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// shouldDedup checks if an event should be deduplicated based on the 2-minute window.
func (p *natsPub) shouldDedup(key string) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if lastTime, exists := p.dedup[key]; exists {
		return time.Since(lastTime) < 2*time.Minute
	}

	return false
}

// updateDedup updates the deduplication map with the current time for a given key.
// This should be called after successfully publishing an event.
func (p *natsPub) updateDedup(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	// Clean up old entries to prevent memory leaks
	cutoff := time.Now().Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}

	p.dedup[key] = time.Now()
}

// correlationID produces a sortable unique identifier for the envelope.
func (p *natsPub) correlationID() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), p.entropy).String()
}

// dedupKey derives the deduplication key for one event. The payload state is
// hashed into the key, so a retried publish of identical state is suppressed
// while a later legitimate change to the same entity is not.
func dedupKey(subject string, id uuid.UUID, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s/%s/%x", subject, id, sum[:8]), nil
}

// publish wraps the payload in an envelope and publishes it to the catalog stream.
// Parameters:
//   - entity: subject segment naming the entity kind (e.g. "videos")
//   - action: subject segment naming the lifecycle step (created/updated/deleted)
//   - id: the entity identifier, used for deduplication
//   - payload: the entity state carried by the event
func (p *natsPub) publish(entity, action string, id uuid.UUID, payload any) error {
	subject := fmt.Sprintf("vam.%s.%s", entity, action)

	key, err := dedupKey(subject, id, payload)
	if err != nil {
		return err
	}
	if p.shouldDedup(key) {
		// Identical event was published recently, skip it
		return nil
	}

	envelope := EventEnvelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: p.correlationID(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(subject, b); err != nil {
		return err
	}

	p.updateDedup(key)

	return nil
}

// PublishCreated publishes a created event for a catalog entity.
func (p *natsPub) PublishCreated(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return p.publish(entity, "created", id, payload)
}

// PublishUpdated publishes an updated event for a catalog entity.
func (p *natsPub) PublishUpdated(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return p.publish(entity, "updated", id, payload)
}

// PublishDeleted publishes a deleted event for a catalog entity.
func (p *natsPub) PublishDeleted(ctx context.Context, entity string, id uuid.UUID, payload any) error {
	return p.publish(entity, "deleted", id, payload)
}
