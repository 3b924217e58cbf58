package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const (
	// MaxReplays caps how often one notification goes back through the worker.
	MaxReplays = 3
	// DefaultReplayDelay spaces replays out so a flapping provider can recover.
	DefaultReplayDelay = 30 * time.Second
)

// ErrReplayLimit means a message has been dead-lettered too often to replay.
var ErrReplayLimit = errors.New("exceeded maximum replay attempts")

// DLQStats summarizes the dead letter topic as seen by this processor.
type DLQStats struct {
	DLQTopic  string    `json:"dlq_topic"`
	Replay    bool      `json:"replay"`
	Seen      int64     `json:"seen"`
	Replayed  int64     `json:"replayed"`
	Abandoned int64     `json:"abandoned"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DLQProcessor watches the notification dead letter topic. With replay on it
// sends messages back to their original topic after a delay, until
// MaxReplays is reached.
type DLQProcessor struct {
	consumer    sarama.ConsumerGroup
	producer    sarama.SyncProducer
	logger      *logrus.Logger
	replay      bool
	replayDelay time.Duration

	seen, replayed, abandoned atomic.Int64
	lastSeen                  atomic.Int64
}

func NewDLQProcessor(brokers []string, groupID string, replay bool, replayDelay time.Duration, logger *logrus.Logger) (*DLQProcessor, error) {
	consumer, err := sarama.NewConsumerGroup(brokers, groupID, consumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	p := newDLQProcessor(producer, replay, replayDelay, logger)
	p.consumer = consumer
	return p, nil
}

func newDLQProcessor(producer sarama.SyncProducer, replay bool, replayDelay time.Duration, logger *logrus.Logger) *DLQProcessor {
	return &DLQProcessor{
		producer:    producer,
		logger:      logger,
		replay:      replay,
		replayDelay: replayDelay,
	}
}

func (p *DLQProcessor) ProcessDLQ(ctx context.Context) error {
	handler := &dlqConsumerHandler{processor: p}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("DLQ processor context cancelled")
			return nil
		default:
			if err := p.consumer.Consume(ctx, []string{CustomerNotificationDLQTopic}, handler); err != nil {
				p.logger.WithError(err).Error("Error consuming from DLQ")
				return err
			}
		}
	}
}

func metadataOf(message *sarama.ConsumerMessage) MessageMetadata {
	var metadata MessageMetadata
	for _, header := range message.Headers {
		if string(header.Key) == "metadata" {
			json.Unmarshal(header.Value, &metadata)
			break
		}
	}
	if metadata.OriginalTopic == "" {
		metadata.OriginalTopic = CustomerNotificationTopic
	}
	return metadata
}

// ReplayMessage sends a dead-lettered message back to its original topic,
// carrying the failure history in its headers.
func (p *DLQProcessor) ReplayMessage(message *sarama.ConsumerMessage) error {
	metadata := metadataOf(message)

	if metadata.RetryCount >= MaxReplays {
		p.abandoned.Add(1)
		p.logger.WithFields(logrus.Fields{
			"key":         string(message.Key),
			"retry_count": metadata.RetryCount,
		}).Error("Message exceeded maximum replay attempts")
		return ErrReplayLimit
	}

	replayMessage := &sarama.ProducerMessage{
		Topic: metadata.OriginalTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("first_failure"), Value: []byte(metadata.FirstFailure.Format(time.RFC3339))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	partition, offset, err := p.producer.SendMessage(replayMessage)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}
	p.replayed.Add(1)

	p.logger.WithFields(logrus.Fields{
		"replay_topic":     metadata.OriginalTopic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"key":              string(message.Key),
	}).Info("Message replayed from DLQ")

	return nil
}

// handle records one dead letter and replays it when enabled.
func (p *DLQProcessor) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	p.seen.Add(1)
	p.lastSeen.Store(time.Now().UnixNano())

	metadata := metadataOf(message)
	p.logger.WithFields(logrus.Fields{
		"key":            string(message.Key),
		"original_topic": metadata.OriginalTopic,
		"retry_count":    metadata.RetryCount,
		"first_failure":  metadata.FirstFailure,
		"last_failure":   metadata.LastFailure,
		"error_message":  metadata.ErrorMessage,
	}).Warn("DLQ message detected")

	var n CustomerNotification
	if err := json.Unmarshal(message.Value, &n); err == nil {
		p.logger.WithFields(logrus.Fields{
			"notification_id": n.ID,
			"order_id":        n.OrderID,
			"business_id":     n.BusinessID,
		}).Info("DLQ notification details")
	}

	if !p.replay {
		return nil
	}
	select {
	case <-time.After(p.replayDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := p.ReplayMessage(message); err != nil && !errors.Is(err, ErrReplayLimit) {
		p.logger.WithError(err).Error("Failed to replay DLQ message")
	}
	return nil
}

func (p *DLQProcessor) GetDLQStats() DLQStats {
	stats := DLQStats{
		DLQTopic:  CustomerNotificationDLQTopic,
		Replay:    p.replay,
		Seen:      p.seen.Load(),
		Replayed:  p.replayed.Load(),
		Abandoned: p.abandoned.Load(),
		Timestamp: time.Now().UTC(),
	}
	if ns := p.lastSeen.Load(); ns != 0 {
		stats.LastSeen = time.Unix(0, ns).UTC()
	}
	return stats
}

func (p *DLQProcessor) Close() error {
	if err := p.producer.Close(); err != nil {
		p.logger.WithError(err).Error("Failed to close producer")
	}
	if p.consumer == nil {
		return nil
	}
	return p.consumer.Close()
}

type dlqConsumerHandler struct {
	processor *DLQProcessor
}

func (h *dlqConsumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *dlqConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *dlqConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := h.processor.handle(session.Context(), message); err != nil {
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
