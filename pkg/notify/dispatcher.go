// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/audit"
	"github.com/telekom/clinical-compliance/pkg/metrics"
)

// Config configures a Dispatcher.
type Config struct {
	// MaxAttempts bounds delivery attempts per notification. Default: 3
	MaxAttempts int

	// BackoffBase is the delay before the first retry; each further
	// retry doubles it (1s, 2s, 4s with the default base). Default: 1s
	BackoffBase time.Duration

	// QueueSize bounds the dispatch queue. Default: 1000
	QueueSize int

	// Templates overrides the built-in template table.
	Templates Templates
}

// Request carries the fields for Schedule.
type Request struct {
	Type       string
	Priority   Priority
	Channels   []Channel
	Recipients []string
	Data       map[string]string
	// ScheduledFor defers delivery; zero means now.
	ScheduledFor time.Time
}

// Dispatcher schedules, renders and delivers multi-channel notifications
// with bounded retry. Scheduling may happen from many goroutines; the
// queue is drained by exactly one worker, so a notification can never be
// double-sent. Future-dated items are parked on a timer, never busy-
// waited on. Cancellation is cooperative and only effective before the
// first send begins.
type Dispatcher struct {
	mu            sync.Mutex
	notifications map[string]*Notification

	adapters  map[Channel]Adapter
	templates Templates
	trail     *audit.Trail
	log       *zap.SugaredLogger
	cfg       Config

	queue   chan string
	nowFunc func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Dispatcher at construction.
type Option func(*Dispatcher)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.nowFunc = now }
}

// NewDispatcher creates a dispatcher delivering through the given
// adapters. Call Start before scheduling.
func NewDispatcher(cfg Config, adapters []Adapter, trail *audit.Trail, log *zap.SugaredLogger, opts ...Option) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	templates := cfg.Templates
	if templates == nil {
		templates = builtinTemplates
	}

	byChannel := make(map[Channel]Adapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		notifications: make(map[string]*Notification),
		adapters:      byChannel,
		templates:     templates,
		trail:         trail,
		log:           log.Named("notification-dispatch"),
		cfg:           cfg,
		queue:         make(chan string, cfg.QueueSize),
		nowFunc:       time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the single drain worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.drain()
	d.log.Infow("notification dispatcher started",
		"maxAttempts", d.cfg.MaxAttempts,
		"backoffBase", d.cfg.BackoffBase,
		"queueSize", d.cfg.QueueSize,
		"channels", len(d.adapters))
}

// Stop shuts the dispatcher down, waiting for the worker up to the
// context deadline. In-flight attempts are not interrupted.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.log.Warnw("notification dispatcher shutdown timeout")
		return ctx.Err()
	}
}

// Schedule creates a notification (status scheduled) and enqueues it for
// delivery. A zero ScheduledFor means due immediately.
func (d *Dispatcher) Schedule(ctx context.Context, req Request) (*Notification, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidRequest)
	}
	if len(req.Channels) == 0 {
		return nil, fmt.Errorf("%w: at least one channel is required", ErrInvalidRequest)
	}
	if len(req.Recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidRequest)
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	now := d.nowFunc()
	scheduledFor := req.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	n := &Notification{
		ID:           "notif_" + uuid.NewString(),
		Type:         req.Type,
		Priority:     priority,
		Channels:     append([]Channel(nil), req.Channels...),
		Recipients:   append([]string(nil), req.Recipients...),
		TemplateData: req.Data,
		ScheduledFor: scheduledFor,
		Status:       StatusScheduled,
		CreatedAt:    now,
	}

	d.mu.Lock()
	d.notifications[n.ID] = n
	d.mu.Unlock()

	metrics.NotificationsScheduled.WithLabelValues(n.Type).Inc()
	_, _ = d.trail.Log(ctx, audit.Record{
		Action:     audit.ActionNotificationScheduled,
		ResourceID: n.ID,
		Resource:   "notification",
		Details: map[string]interface{}{
			"type":         n.Type,
			"priority":     string(n.Priority),
			"channels":     channelNames(n.Channels),
			"recipients":   len(n.Recipients),
			"scheduledFor": scheduledFor.Format(time.RFC3339),
		},
	})

	select {
	case d.queue <- n.ID:
	default:
		return nil, fmt.Errorf("notification queue is full (capacity: %d)", d.cfg.QueueSize)
	}

	return n.snapshot(), nil
}

// Cancel cancels a notification if it is still scheduled. Anything past
// that point is a no-op returning the current state.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (*Notification, error) {
	d.mu.Lock()
	n, ok := d.notifications[id]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}

	if err := n.markCancelled(); err != nil {
		snap := n.snapshot()
		d.mu.Unlock()
		return snap, nil
	}
	snap := n.snapshot()
	d.mu.Unlock()

	metrics.NotificationsCancelled.Inc()
	_, _ = d.trail.Log(ctx, audit.Record{
		Action:     audit.ActionNotificationCancelled,
		ResourceID: id,
		Resource:   "notification",
	})

	return snap, nil
}

// Status returns a read-only snapshot of a notification.
func (d *Dispatcher) Status(id string) (*Notification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n.snapshot(), nil
}

// drain is the single active worker processing due notifications.
func (d *Dispatcher) drain() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case id := <-d.queue:
			d.process(id)
		}
	}
}

// requeue puts an id back on the queue from a timer callback.
func (d *Dispatcher) requeue(id string) {
	select {
	case d.queue <- id:
	case <-d.ctx.Done():
	default:
		d.log.Errorw("notification queue full, requeue dropped", "id", id)
	}
}

// process runs one delivery attempt. Sends happen outside the lock;
// exclusivity comes from the single worker.
func (d *Dispatcher) process(id string) {
	d.mu.Lock()
	n, ok := d.notifications[id]
	if !ok || n.terminal() {
		d.mu.Unlock()
		return
	}

	now := d.nowFunc()
	if n.Status == StatusScheduled && n.ScheduledFor.After(now) {
		delay := n.ScheduledFor.Sub(now)
		d.mu.Unlock()
		time.AfterFunc(delay, func() { d.requeue(id) })
		return
	}

	if err := n.beginAttempt(now); err != nil {
		d.mu.Unlock()
		return
	}

	attempt := n.Attempts
	channels := append([]Channel(nil), n.Channels...)
	recipients := append([]string(nil), n.Recipients...)
	data := n.TemplateData
	notifType := n.Type
	priority := n.Priority
	d.mu.Unlock()

	// Dispatch to every channel independently; one channel's failure
	// must not block the others.
	outcome := make(map[string]string, len(channels))
	failures := 0
	for _, ch := range channels {
		if err := d.sendOnChannel(ch, recipients, data, notifType, priority, id); err != nil {
			outcome[string(ch)] = err.Error()
			failures++
		} else {
			outcome[string(ch)] = "ok"
		}
	}

	d.mu.Lock()
	if failures == 0 {
		_ = n.markDelivered(d.nowFunc())
		d.mu.Unlock()

		metrics.NotificationsDelivered.WithLabelValues(notifType).Inc()
		_, _ = d.trail.Log(d.ctx, audit.Record{
			Action:     audit.ActionNotificationDelivered,
			ResourceID: id,
			Resource:   "notification",
			Details:    map[string]interface{}{"type": notifType, "attempt": attempt},
		})
		return
	}

	errMsg := fmt.Sprintf("%s: %d of %d channels failed on attempt %d",
		ErrDeliveryFailed.Error(), failures, len(channels), attempt)

	if attempt >= d.cfg.MaxAttempts {
		_ = n.markFailedPermanently(errMsg)
		d.mu.Unlock()

		metrics.NotificationsFailedPermanently.WithLabelValues(notifType).Inc()
		// The sole path by which a delivery failure becomes
		// compliance-visible: one critical entry on the terminal
		// transition, which also raises the real-time alert.
		_, _ = d.trail.Log(d.ctx, audit.Record{
			Action:     audit.ActionNotificationFailed,
			Level:      audit.LevelCritical,
			ResourceID: id,
			Resource:   "notification",
			Details: map[string]interface{}{
				"type":     notifType,
				"attempts": attempt,
				"channels": outcome,
			},
		})
		return
	}

	_ = n.markFailed(errMsg)
	d.mu.Unlock()

	metrics.NotificationRetries.Inc()
	_, _ = d.trail.Log(d.ctx, audit.Record{
		Action:     audit.ActionNotificationAttemptFailed,
		Level:      audit.LevelWarning,
		ResourceID: id,
		Resource:   "notification",
		Details: map[string]interface{}{
			"type":     notifType,
			"attempt":  attempt,
			"channels": outcome,
		},
	})

	delay := d.cfg.BackoffBase << (attempt - 1)
	time.AfterFunc(delay, func() { d.requeue(id) })
}

func (d *Dispatcher) sendOnChannel(ch Channel, recipients []string, data map[string]string, notifType string, priority Priority, id string) error {
	adapter, ok := d.adapters[ch]
	if !ok {
		return fmt.Errorf("no adapter registered for channel %s", ch)
	}

	tpl := d.templates.resolve(notifType, ch)
	content := Content{
		Subject: Render(tpl.Subject, data),
		Body:    Render(tpl.Body, data),
	}
	metadata := map[string]string{
		"notificationId": id,
		"type":           notifType,
		"priority":       string(priority),
	}

	results, err := adapter.Send(d.ctx, recipients, content, metadata)
	if err != nil {
		return err
	}
	for _, res := range results {
		if !res.Success {
			return fmt.Errorf("recipient %s: %s", res.Recipient, res.Error)
		}
	}
	return nil
}

func channelNames(channels []Channel) []string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, string(ch))
	}
	sort.Strings(names)
	return names
}
