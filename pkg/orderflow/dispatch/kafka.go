package dispatch

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaPublisher publishes notifications through a sarama SyncProducer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaConfig returns the producer settings notifications need: acks
// from all replicas, an idempotent producer, and bounded client retries.
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return cfg
}

// NewKafkaPublisher connects a SyncProducer to brokers.
func NewKafkaPublisher(brokers []string, cfg *sarama.Config) (*KafkaPublisher, error) {
	if cfg == nil {
		cfg = NewKafkaConfig()
	}
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: producer}, nil
}

// NewKafkaPublisherFromProducer wraps an existing producer.
func NewKafkaPublisherFromProducer(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish implements Publisher. ctx is checked only before the send. Once
// SendMessage starts, Publish waits for the broker outcome, bounded by the
// producer's own timeouts and retries, so a message is never reported as
// failed while it may still be delivered.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	pm := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Body),
	}
	if msg.ID != "" {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte("message-id"), Value: []byte(msg.ID)})
	}
	for k, v := range msg.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	if _, _, err := p.producer.SendMessage(pm); err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
