// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/clinical-compliance/pkg/config"
	"github.com/telekom/clinical-compliance/pkg/metrics"
)

// EmailAdapter delivers notifications over SMTP. Retries are the
// dispatcher's job; the adapter attempts each send exactly once.
type EmailAdapter struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
	log           *zap.SugaredLogger
}

// NewEmailAdapter creates an SMTP-backed email adapter from the mail
// configuration.
func NewEmailAdapter(cfg config.Mail, log *zap.SugaredLogger) *EmailAdapter {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warnw("InsecureSkipVerify is enabled for mail TLS connection", "host", cfg.Host)
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@compliance.telekom.de"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "Clinical Compliance"
	}

	return &EmailAdapter{
		dialer:        d,
		senderAddress: senderAddr,
		senderName:    senderName,
		log:           log.Named("email"),
	}
}

func (a *EmailAdapter) Channel() Channel { return ChannelEmail }

func (a *EmailAdapter) Send(_ context.Context, recipients []string, content Content, _ map[string]string) ([]SendResult, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("cannot send email with no recipients")
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", a.senderAddress, a.senderName)
	msg.SetHeader("Bcc", recipients...)
	msg.SetHeader("Subject", content.Subject)
	msg.SetBody("text/plain", content.Body)

	if err := a.dialer.DialAndSend(msg); err != nil {
		a.log.Warnw("mail send failed",
			"host", a.dialer.Host,
			"recipients", len(recipients),
			"error", err)
		metrics.MailSendFailure.WithLabelValues(a.dialer.Host).Inc()
		metrics.ChannelSendFailure.WithLabelValues(string(ChannelEmail)).Inc()

		results := make([]SendResult, 0, len(recipients))
		for _, r := range recipients {
			results = append(results, SendResult{Recipient: r, Error: err.Error()})
		}
		return results, fmt.Errorf("mail send to %d recipients: %w", len(recipients), err)
	}

	a.log.Infow("mail sent", "recipients", len(recipients), "subject", content.Subject)
	metrics.MailSendSuccess.WithLabelValues(a.dialer.Host).Inc()
	metrics.ChannelSendSuccess.WithLabelValues(string(ChannelEmail)).Inc()
	return allOK(recipients), nil
}
