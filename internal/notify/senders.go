package notify

import (
	"context"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/config"
	"github.com/sirupsen/logrus"
)

// SendersFromConfig builds the sender chain for the configured channels:
// SNS when an AWS region is set, then the webhook. With neither, it falls
// back to logging.
func SendersFromConfig(ctx context.Context, cfg *config.Config, logger *logrus.Logger) ([]Sender, error) {
	var senders []Sender
	if cfg.AWSRegion != "" {
		client, err := NewSNSClient(ctx, cfg.AWSRegion, cfg.SNSEndpoint)
		if err != nil {
			return nil, err
		}
		senders = append(senders, NewSNSSender(client, cfg.SMSSenderID, cfg.EmailTopicARN, logger))
	}
	if cfg.WebhookURL != "" {
		senders = append(senders, NewWebhookSender(cfg.WebhookURL, cfg.WebhookTimeout, logger))
	}
	if len(senders) == 0 {
		logger.Warn("No delivery channel configured, notifications are only logged")
		senders = append(senders, NewLogSender(logger))
	}
	return senders, nil
}
