package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quranhub/access-gate/internal/model"
)

// KafkaMirror publishes usage events to the analytics topic. The downstream
// aggregation pipeline is eventually consistent with the Postgres ledger.
type KafkaMirror struct {
	writer *kafka.Writer
}

func NewKafkaMirror(brokers []string, topic string) (*KafkaMirror, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka mirror requires at least one broker")
	}
	return &KafkaMirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (m *KafkaMirror) Publish(ctx context.Context, ev *model.UsageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	return m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CredentialID.String()),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}
