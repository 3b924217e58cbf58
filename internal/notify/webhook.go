package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/events"
	"github.com/sirupsen/logrus"
)

// WebhookSender posts notifications to an HTTP endpoint that owns delivery,
// such as a messaging provider's relay.
type WebhookSender struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewWebhookSender(url string, timeout time.Duration, logger *logrus.Logger) *WebhookSender {
	return &WebhookSender{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, n events.CustomerNotification) error {
	jsonData, err := json.Marshal(n)
	if err != nil {
		return permanent("failed to marshal notification: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return permanent("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.ID != "" {
		req.Header.Set("Idempotency-Key", n.ID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification webhook: %w", err)
	}
	defer resp.Body.Close()

	s.logger.WithFields(logrus.Fields{
		"order_id": n.OrderID,
		"status":   resp.StatusCode,
	}).Debug("Notification webhook responded")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	return permanent("notification webhook rejected the request with status %d", resp.StatusCode)
}
