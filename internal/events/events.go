package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the Kafka topic session lifecycle events are published to.
const DefaultTopic = "auth.session.events"

// Type identifies a session lifecycle event.
type Type string

const (
	SessionCreated        Type = "session.created"
	SessionRevoked        Type = "session.revoked"
	SessionRevokedAll     Type = "session.revoked_all"
	SessionExpired        Type = "session.expired"
	ProviderTokenRefresh  Type = "provider.token_refreshed"
	ProviderRefreshFailed Type = "provider.refresh_failed"
)

// Event is a session lifecycle event. It never carries session tokens or
// provider tokens.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New creates an event with a fresh id. sessionID is shortened so full
// identifiers never leave the credential store.
func New(t Type, userID, sessionID string) Event {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		UserID:     userID,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher publishes session lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events as JSON, keyed by user id so the events of
// one user stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates an asynchronous Kafka publisher.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					logger.Warn("failed to deliver session events",
						slog.Int("count", len(msgs)),
						slog.String("error", err.Error()),
					)
				}
			},
		},
	}
}

// Publish enqueues the event for delivery.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.UserID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Emitter publishes best-effort: failures are logged and never returned.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewEmitter wraps a publisher. A nil publisher discards events.
func NewEmitter(publisher Publisher, logger *slog.Logger) *Emitter {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{publisher: publisher, logger: logger}
}

// Emit publishes an event of type t.
func (e *Emitter) Emit(ctx context.Context, t Type, userID, sessionID string) {
	if e == nil {
		return
	}
	if err := e.publisher.Publish(ctx, New(t, userID, sessionID)); err != nil {
		e.logger.Warn("failed to publish session event",
			slog.String("type", string(t)),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
