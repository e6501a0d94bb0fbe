// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/metrics"
)

// WebhookAdapter POSTs rendered notifications to an external HTTP
// endpoint as JSON.
type WebhookAdapter struct {
	client *resty.Client
	url    string
	log    *zap.SugaredLogger
}

type webhookPayload struct {
	Recipients []string          `json:"recipients"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewWebhookAdapter creates a webhook adapter targeting the given URL.
func NewWebhookAdapter(url string, timeout time.Duration, log *zap.SugaredLogger) *WebhookAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &WebhookAdapter{
		client: client,
		url:    url,
		log:    log.Named("webhook"),
	}
}

func (a *WebhookAdapter) Channel() Channel { return ChannelWebhook }

func (a *WebhookAdapter) Send(ctx context.Context, recipients []string, content Content, metadata map[string]string) ([]SendResult, error) {
	payload := webhookPayload{
		Recipients: recipients,
		Subject:    content.Subject,
		Body:       content.Body,
		Metadata:   metadata,
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(a.url)
	if err != nil {
		metrics.ChannelSendFailure.WithLabelValues(string(ChannelWebhook)).Inc()
		return failAll(recipients, err.Error()), fmt.Errorf("webhook post to %s: %w", a.url, err)
	}
	if resp.IsError() {
		metrics.ChannelSendFailure.WithLabelValues(string(ChannelWebhook)).Inc()
		errMsg := fmt.Sprintf("webhook returned status %d", resp.StatusCode())
		return failAll(recipients, errMsg), fmt.Errorf("webhook %s returned error status: %d", a.url, resp.StatusCode())
	}

	a.log.Debugw("webhook delivered", "url", a.url, "recipients", len(recipients))
	metrics.ChannelSendSuccess.WithLabelValues(string(ChannelWebhook)).Inc()
	return allOK(recipients), nil
}

func failAll(recipients []string, errMsg string) []SendResult {
	results := make([]SendResult, 0, len(recipients))
	for _, r := range recipients {
		results = append(results, SendResult{Recipient: r, Error: errMsg})
	}
	return results
}
