package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"konsinyasi/backend/internal/domain"
)

const (
	saleEventType   = "consignment.sale.recorded"
	saleEventSource = "konsinyasi/backend"
)

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaPublisher writes one message per sale, keyed by consignment id so all
// sales of a consignment land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: batchTimeout,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) PublishSales(ctx context.Context, sales []domain.SaleEvent) error {
	if len(sales) == 0 {
		return nil
	}

	messages, err := buildMessages(sales)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("publish %d sale events to %s: %w", len(messages), p.writer.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func buildMessages(sales []domain.SaleEvent) ([]kafka.Message, error) {
	messages := make([]kafka.Message, 0, len(sales))
	for _, sale := range sales {
		data, err := json.Marshal(sale)
		if err != nil {
			return nil, fmt.Errorf("marshal sale event for %s/%s: %w", sale.ConsignmentID, sale.ItemID, err)
		}

		messages = append(messages, kafka.Message{
			Key:   []byte(sale.ConsignmentID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "ce-type", Value: []byte(saleEventType)},
				{Key: "ce-source", Value: []byte(saleEventSource)},
				{Key: "ce-time", Value: []byte(sale.Date.Format(time.RFC3339))},
				{Key: "content-type", Value: []byte("application/json")},
			},
			Time: sale.Date,
		})
	}
	return messages, nil
}
