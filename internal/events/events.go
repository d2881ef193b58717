// Package events announces settled sources to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const TypeSourceCompleted = "source.completed"

type SourceCompleted struct {
	Type       string    `json:"type"`
	SourceID   int64     `json:"source_id"`
	Status     string    `json:"status"`
	Records    int       `json:"records"`
	Warnings   int       `json:"warnings"`
	FailReason string    `json:"fail_reason,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev SourceCompleted) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, SourceCompleted) error { return nil }
func (Nop) Close() error                                   { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per event, keyed by source id so every
// event of a source lands on the same partition.
type KafkaPublisher struct {
	mu     sync.Mutex
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev SourceCompleted) error {
	if ev.Type == "" {
		ev.Type = TypeSourceCompleted
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.SourceID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return fmt.Errorf("publish %s: publisher closed", ev.Type)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for source %d: %w", ev.Type, ev.SourceID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}

// New returns a Kafka publisher when brokers are configured and Nop otherwise.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic)
}
