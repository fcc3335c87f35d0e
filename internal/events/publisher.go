// Package events publishes record change events to Kafka so downstream
// consumers can react to normalization, deduplication and deletion without
// polling the document store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event types carried on the change topic.
const (
	TypeRecordChanged  = "record.changed"
	TypeRecordDeleted  = "record.deleted"
	TypeGroupAssigned  = "dedup.group_assigned"
	TypeGroupDissolved = "dedup.group_dissolved"
	TypeSourceDeleted  = "source.deleted"
)

// Event is one record change notification.
type Event struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	SourceID   string    `json:"source_id"`
	RecordID   string    `json:"record_id,omitempty"`
	GroupID    string    `json:"group_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// newEvent fills the identity and timestamp fields shared by all events.
func newEvent(eventType, sourceID string) Event {
	return Event{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		SourceID:   sourceID,
		OccurredAt: time.Now().UTC(),
	}
}

// NewRecordChanged builds an event for a saved or re-normalized record.
func NewRecordChanged(sourceID, recordID string) Event {
	e := newEvent(TypeRecordChanged, sourceID)
	e.RecordID = recordID
	return e
}

// NewRecordDeleted builds an event for a record marked deleted.
func NewRecordDeleted(sourceID, recordID string) Event {
	e := newEvent(TypeRecordDeleted, sourceID)
	e.RecordID = recordID
	return e
}

// NewGroupAssigned builds an event for a written group assignment.
func NewGroupAssigned(sourceID, recordID, groupID string) Event {
	e := newEvent(TypeGroupAssigned, sourceID)
	e.RecordID = recordID
	e.GroupID = groupID
	return e
}

// NewGroupDissolved builds an event for a dissolved group.
func NewGroupDissolved(groupID string) Event {
	e := newEvent(TypeGroupDissolved, "")
	e.GroupID = groupID
	return e
}

// NewSourceDeleted builds an event for a fully deleted source.
func NewSourceDeleted(sourceID string) Event {
	return newEvent(TypeSourceDeleted, sourceID)
}

// Publisher delivers change events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
	Close() error
}

// NopPublisher discards all events. Used when event publishing is disabled.
type NopPublisher struct{}

// Publish discards the events.
func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for record change events.
	Topic string
	// BatchSize is the maximum number of messages batched before sending.
	BatchSize int
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration
}

// KafkaPublisher publishes change events through a kafka-go writer.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to the configured topic.
func NewKafkaPublisher(cfg Config, logger zerolog.Logger) *KafkaPublisher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish sends the events, keyed by source and record so changes to one
// record stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(evts))
	for _, e := range evts {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.EventType, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.SourceID + "." + e.RecordID),
			Value: value,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d events: %w", len(msgs), err)
	}

	p.logger.Debug().Int("events", len(msgs)).Msg("published change events")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
