// Package kafka publishes leave ledger change events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/leave-ledger/leave"
)

const (
	BatchTimeout = 10 * time.Millisecond
	WriteTimeout = 5 * time.Second
	MaxAttempts  = 3
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
}

// NewPublisher returns a publisher writing to brokers. The topic is chosen
// per message.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			// One event per request; don't wait for a batch to fill
			BatchSize:    1,
			BatchTimeout: BatchTimeout,
			WriteTimeout: WriteTimeout,
			MaxAttempts:  MaxAttempts,
		},
	}
}

func newPublisherWithWriter(w messageWriter) *Publisher {
	return &Publisher{writer: w}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Value: data,
	}
	if key := leave.EventKey(event); key != "" {
		msg.Key = []byte(key)
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ leave.Publisher = (*Publisher)(nil)
