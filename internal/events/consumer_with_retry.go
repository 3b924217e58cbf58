package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const (
	MaxRetries        = 3
	InitialRetryDelay = 1 * time.Second
	MaxRetryDelay     = 30 * time.Second
)

// RetryableNotificationHandler delivers notifications and classifies its
// own failures.
type RetryableNotificationHandler interface {
	HandleNotification(ctx context.Context, n CustomerNotification) error
	IsRetryable(err error) bool
}

// ConsumerMetrics counts what the notification worker has done since start.
type ConsumerMetrics struct {
	ProcessedCount int64 `json:"processed"`
	RetryCount     int64 `json:"retries"`
	DLQCount       int64 `json:"dead_lettered"`
	SuccessCount   int64 `json:"succeeded"`
	FailureCount   int64 `json:"failed"`
}

type counters struct {
	processed, retries, dlq, success, failure atomic.Int64
}

func (c *counters) snapshot() ConsumerMetrics {
	return ConsumerMetrics{
		ProcessedCount: c.processed.Load(),
		RetryCount:     c.retries.Load(),
		DLQCount:       c.dlq.Load(),
		SuccessCount:   c.success.Load(),
		FailureCount:   c.failure.Load(),
	}
}

// MessageMetadata travels in the "metadata" header of dead-lettered messages.
type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

// KafkaConsumerWithRetry is the notification worker: it delivers queued
// notifications with exponential backoff and parks the ones that keep
// failing on the dead letter topic.
type KafkaConsumerWithRetry struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	processor     *retryProcessor
	logger        *logrus.Logger
	topics        []string
}

type retryProcessor struct {
	handler      RetryableNotificationHandler
	producer     sarama.SyncProducer
	logger       *logrus.Logger
	metrics      *counters
	initialDelay time.Duration
	maxDelay     time.Duration
	now          func() time.Time
}

func newRetryProcessor(handler RetryableNotificationHandler, producer sarama.SyncProducer, logger *logrus.Logger) *retryProcessor {
	return &retryProcessor{
		handler:      handler,
		producer:     producer,
		logger:       logger,
		metrics:      &counters{},
		initialDelay: InitialRetryDelay,
		maxDelay:     MaxRetryDelay,
		now:          time.Now,
	}
}

func NewKafkaConsumerWithRetry(brokers []string, groupID string, handler RetryableNotificationHandler, logger *logrus.Logger) (*KafkaConsumerWithRetry, error) {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, consumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &KafkaConsumerWithRetry{
		consumerGroup: consumerGroup,
		producer:      producer,
		processor:     newRetryProcessor(handler, producer, logger),
		logger:        logger,
		topics:        []string{CustomerNotificationTopic},
	}, nil
}

func (c *KafkaConsumerWithRetry) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, c.processor); err != nil {
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return err
			}
		}
	}
}

func (c *KafkaConsumerWithRetry) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.consumerGroup.Close()
}

func (c *KafkaConsumerWithRetry) GetMetrics() ConsumerMetrics {
	return c.processor.metrics.snapshot()
}

func (p *retryProcessor) Setup(sarama.ConsumerGroupSession) error {
	p.logger.Debug("Notification consumer session setup")
	return nil
}

func (p *retryProcessor) Cleanup(sarama.ConsumerGroupSession) error {
	p.logger.Debug("Notification consumer session cleanup")
	return nil
}

func (p *retryProcessor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := p.process(session.Context(), message); err != nil {
				// Not marked. Returning ends the session, and the next one
				// resumes from the last committed offset.
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process delivers one message, dead-lettering it when delivery fails for
// good. It returns an error when the message is neither delivered nor
// parked: ctx ended first, or the DLQ publish failed.
func (p *retryProcessor) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	p.metrics.processed.Add(1)

	err := p.deliver(ctx, message)
	if err == nil {
		p.metrics.success.Add(1)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.logger.WithError(err).WithField("key", string(message.Key)).Error("Failed to deliver notification after retries")
	p.metrics.failure.Add(1)
	if dlqErr := p.sendToDLQ(message, err); dlqErr != nil {
		p.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return dlqErr
	}
	p.metrics.dlq.Add(1)
	return nil
}

func (p *retryProcessor) deliver(ctx context.Context, message *sarama.ConsumerMessage) error {
	var n CustomerNotification
	if err := json.Unmarshal(message.Value, &n); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	log := p.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"order_id":        n.OrderID,
	})

	retryDelay := p.initialDelay
	var err error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   retryDelay,
			}).Info("Retrying notification delivery")

			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			p.metrics.retries.Add(1)

			retryDelay *= 2
			if retryDelay > p.maxDelay {
				retryDelay = p.maxDelay
			}
		}

		err = p.handler.HandleNotification(ctx, n)
		if err == nil {
			return nil
		}
		if !p.handler.IsRetryable(err) {
			log.WithError(err).Warn("Non-retryable delivery error")
			return err
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("Retryable delivery error")
	}

	return fmt.Errorf("exhausted retries for notification %s: %w", n.ID, err)
}

func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == "retry_count" {
			if n, err := strconv.Atoi(string(header.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func firstFailure(message *sarama.ConsumerMessage) (time.Time, bool) {
	for _, header := range message.Headers {
		if string(header.Key) == "first_failure" {
			if t, err := time.Parse(time.RFC3339, string(header.Value)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func (p *retryProcessor) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	now := p.now().UTC()
	first, ok := firstFailure(message)
	if !ok {
		first = now
	}
	metadata := MessageMetadata{
		RetryCount:    retryCount(message) + 1,
		FirstFailure:  first,
		LastFailure:   now,
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: CustomerNotificationDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("failure_time"), Value: []byte(now.Format(time.RFC3339))},
		},
	}

	partition, offset, err := p.producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"dlq_topic":     CustomerNotificationDLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"retry_count":   metadata.RetryCount,
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")

	return nil
}
