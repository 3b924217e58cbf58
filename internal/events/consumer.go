package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// StatusChangeHandler reacts to committed status changes, for example by
// pushing them to connected dashboards.
type StatusChangeHandler interface {
	HandleStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error
}

// KafkaConsumer feeds status change events to a handler. Give every process
// that needs to see all changes its own group id.
type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       StatusChangeHandler
	logger        *logrus.Logger
	topics        []string
}

type consumerGroupHandler struct {
	handler StatusChangeHandler
	logger  *logrus.Logger
}

func NewKafkaConsumer(brokers []string, groupID string, handler StatusChangeHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	config := consumerConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		handler:       handler,
		logger:        logger,
		topics:        []string{OrderStatusChangedTopic},
	}, nil
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		handler: c.handler,
		logger:  c.logger,
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return err
			}
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumerGroup.Close()
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Debug("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Debug("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			// Live updates are best-effort; a bad message is skipped, not retried.
			if err := h.handleMessage(session.Context(), message); err != nil {
				h.logger.WithError(err).WithFields(logrus.Fields{
					"topic":  message.Topic,
					"offset": message.Offset,
				}).Error("Failed to handle message")
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *consumerGroupHandler) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	switch message.Topic {
	case OrderStatusChangedTopic:
		var event OrderStatusChangedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal status changed event: %w", err)
		}
		return h.handler.HandleStatusChanged(ctx, event)

	default:
		h.logger.WithField("topic", message.Topic).Warn("Unknown topic received")
		return nil
	}
}
