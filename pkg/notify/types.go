// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for unknown notification ids.
	ErrNotFound = errors.New("notification not found")

	// ErrInvalidRequest is returned when a schedule request lacks a
	// required field.
	ErrInvalidRequest = errors.New("invalid notification request")

	// ErrDeliveryFailed marks a transient, retry-eligible channel
	// failure. It stays internal until retries are exhausted.
	ErrDeliveryFailed = errors.New("notification delivery failed")

	// ErrDeliveryFailedPermanently marks an exhausted notification.
	ErrDeliveryFailedPermanently = errors.New("notification delivery failed permanently")
)

// Status is the delivery lifecycle state of a notification.
type Status string

const (
	StatusScheduled         Status = "scheduled"
	StatusProcessing        Status = "processing"
	StatusDelivered         Status = "delivered"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusFailedPermanently Status = "failed_permanently"
)

// Priority orders notifications by urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPhone   Channel = "phone"
	ChannelInApp   Channel = "in_app"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// Notification is a scheduled, multi-channel message. Its status field
// is a tagged state; all transitions go through the methods below so
// illegal moves are rejected rather than silently applied.
type Notification struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Priority     Priority          `json:"priority"`
	Channels     []Channel         `json:"channels"`
	Recipients   []string          `json:"recipients"`
	TemplateData map[string]string `json:"templateData,omitempty"`
	ScheduledFor time.Time         `json:"scheduledFor"`
	Status       Status            `json:"status"`
	Attempts     int               `json:"attempts"`
	LastAttempt  *time.Time        `json:"lastAttempt,omitempty"`
	DeliveredAt  *time.Time        `json:"deliveredAt,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

func illegalTransition(from, to Status) error {
	return fmt.Errorf("illegal notification transition %s -> %s", from, to)
}

// beginAttempt moves a due notification into processing and counts the
// attempt. Valid only from scheduled or failed.
func (n *Notification) beginAttempt(now time.Time) error {
	if n.Status != StatusScheduled && n.Status != StatusFailed {
		return illegalTransition(n.Status, StatusProcessing)
	}
	n.Status = StatusProcessing
	n.Attempts++
	n.LastAttempt = &now
	return nil
}

// markDelivered completes a processing notification.
func (n *Notification) markDelivered(now time.Time) error {
	if n.Status != StatusProcessing {
		return illegalTransition(n.Status, StatusDelivered)
	}
	n.Status = StatusDelivered
	n.DeliveredAt = &now
	n.ErrorMessage = ""
	return nil
}

// markFailed records a retry-eligible attempt failure.
func (n *Notification) markFailed(errMsg string) error {
	if n.Status != StatusProcessing {
		return illegalTransition(n.Status, StatusFailed)
	}
	n.Status = StatusFailed
	n.ErrorMessage = errMsg
	return nil
}

// markFailedPermanently terminates an exhausted notification.
func (n *Notification) markFailedPermanently(errMsg string) error {
	if n.Status != StatusProcessing {
		return illegalTransition(n.Status, StatusFailedPermanently)
	}
	n.Status = StatusFailedPermanently
	n.ErrorMessage = errMsg
	return nil
}

// markCancelled cancels a notification. Valid only while scheduled;
// everything past that point is immutable to cancellation.
func (n *Notification) markCancelled() error {
	if n.Status != StatusScheduled {
		return illegalTransition(n.Status, StatusCancelled)
	}
	n.Status = StatusCancelled
	return nil
}

// terminal reports whether the notification can never transition again.
func (n *Notification) terminal() bool {
	switch n.Status {
	case StatusDelivered, StatusCancelled, StatusFailedPermanently:
		return true
	default:
		return false
	}
}

// snapshot returns a defensive copy for read-only callers.
func (n *Notification) snapshot() *Notification {
	cp := *n
	cp.Channels = append([]Channel(nil), n.Channels...)
	cp.Recipients = append([]string(nil), n.Recipients...)
	if n.TemplateData != nil {
		cp.TemplateData = make(map[string]string, len(n.TemplateData))
		for k, v := range n.TemplateData {
			cp.TemplateData[k] = v
		}
	}
	return &cp
}
