package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/marketplace-api/pkg/logger"
)

// Message is a record to publish
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer publishes synchronously so callers know the broker acknowledged the write
type Producer struct {
	producer sarama.SyncProducer
	logger   logger.Logger
}

// NewProducer creates a producer waiting for all in-sync replicas
func NewProducer(brokers []string, logger logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewProducerFromSarama(producer, logger), nil
}

// NewProducerFromSarama wraps an existing sarama producer (mocks in tests)
func NewProducerFromSarama(producer sarama.SyncProducer, logger logger.Logger) *Producer {
	return &Producer{producer: producer, logger: logger}
}

// Send publishes msg. The context is only checked before sending because
// sarama's sync producer does not accept one.
func (p *Producer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}

	if msg.Key != "" {
		record.Key = sarama.StringEncoder(msg.Key)
	}

	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.producer.SendMessage(record)
	if err != nil {
		p.logger.Error("Failed to send message to Kafka", "error", err, "topic", msg.Topic, "key", msg.Key)
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	p.logger.Debug("Message sent to Kafka",
		"topic", msg.Topic,
		"key", msg.Key,
		"partition", partition,
		"offset", offset)

	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
