package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

func consumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0
	return config
}

// KafkaProducer publishes status changes and queues customer notifications.
type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
	now      func() time.Time
}

func NewKafkaProducer(brokers []string, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducer(producer, logger), nil
}

// NewProducer wraps an existing sync producer.
func NewProducer(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{producer: producer, logger: logger, now: time.Now}
}

// PublishStatusChanged is keyed by order id so one order's changes stay in
// one partition, in commit order.
func (p *KafkaProducer) PublishStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error {
	event.EventTime = p.now().UTC()
	return p.send(ctx, OrderStatusChangedTopic, event.OrderID, event)
}

// Notify queues a customer notification for the notifier worker. Delivery
// happens later; a nil error only means the message was accepted.
func (p *KafkaProducer) Notify(ctx context.Context, n CustomerNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = p.now().UTC()
	}
	return p.send(ctx, CustomerNotificationTopic, n.OrderID, n)
}

func (p *KafkaProducer) send(ctx context.Context, topic, key string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"key":       key,
	}).Debug("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
