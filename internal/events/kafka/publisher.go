// Package kafka publishes ledger entry events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/meridian-erp/meridian-erp/internal/events"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Publisher writes entry events to a single topic, keyed by customer
// so per-customer ordering survives partitioning.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher constructs a Publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishEntries emits one message per entry.
func (p *Publisher) PublishEntries(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(events.FromEntry(e))
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(e.CustomerID, 10)),
			Value: data,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
