package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter returns a producer for the outbox relay. The relay sets the topic
// on every message, so the writer itself has none.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}
