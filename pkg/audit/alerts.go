// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/telekom/clinical-compliance/pkg/metrics"
)

// AlertSink is a destination for real-time alerts raised on critical and
// emergency-access entries.
type AlertSink interface {
	// Write sends an alert for the entry to the sink.
	Write(ctx context.Context, entry *Entry) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// AlertPublisherConfig configures an AlertPublisher.
type AlertPublisherConfig struct {
	// QueueSize is the size of the async alert queue. Default: 256
	QueueSize int

	// WriteTimeout bounds a single sink write. Default: 5s
	WriteTimeout time.Duration

	// RatePerSecond bounds published alerts; excess alerts are dropped so
	// an alert storm can never block Trail.Log. Default: 10
	RatePerSecond float64

	// Burst is the limiter burst size. Default: 50
	Burst int
}

// DefaultAlertPublisherConfig returns sensible defaults.
func DefaultAlertPublisherConfig() AlertPublisherConfig {
	return AlertPublisherConfig{
		QueueSize:     256,
		WriteTimeout:  5 * time.Second,
		RatePerSecond: 10,
		Burst:         50,
	}
}

// AlertPublisherHealth is a point-in-time snapshot of publisher state.
type AlertPublisherHealth struct {
	QueueLength     int       `json:"queueLength"`
	QueueCapacity   int       `json:"queueCapacity"`
	PublishedAlerts int64     `json:"publishedAlerts"`
	DroppedAlerts   int64     `json:"droppedAlerts"`
	FailedWrites    int64     `json:"failedWrites"`
	LastError       string    `json:"lastError,omitempty"`
	LastErrorTime   time.Time `json:"lastErrorTime,omitempty"`
}

// AlertPublisher decouples alert raising from alert delivery: entries are
// published onto a bounded channel drained by a single worker writing to
// all configured sinks. Publishing never blocks and never fails the
// audited operation.
type AlertPublisher struct {
	sinks   []AlertSink
	queue   chan *Entry
	limiter *rate.Limiter
	config  AlertPublisherConfig
	logger  *zap.Logger

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	mu            sync.RWMutex
	lastError     string
	lastErrorTime time.Time

	wg      sync.WaitGroup
	closed  atomic.Bool
	closeMu sync.RWMutex // serializes Publish's enqueue against close(queue)
}

// NewAlertPublisher creates a publisher draining into the given sinks and
// starts its worker.
func NewAlertPublisher(sinks []AlertSink, cfg AlertPublisherConfig, logger *zap.Logger) *AlertPublisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 50
	}

	p := &AlertPublisher{
		sinks:   sinks,
		queue:   make(chan *Entry, cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		config:  cfg,
		logger:  logger.Named("alert-publisher"),
	}

	p.wg.Add(1)
	go p.drain()

	p.logger.Info("alert publisher started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("sinks", len(sinks)),
		zap.Float64("rate_per_second", cfg.RatePerSecond))

	return p
}

// Publish enqueues an alert for the entry (non-blocking, fire-and-forget).
func (p *AlertPublisher) Publish(entry *Entry) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed.Load() {
		p.dropped.Add(1)
		metrics.AuditAlertsDropped.WithLabelValues("closed").Inc()
		return
	}

	if !p.limiter.Allow() {
		p.dropped.Add(1)
		metrics.AuditAlertsDropped.WithLabelValues("rate_limited").Inc()
		return
	}

	select {
	case p.queue <- entry:
		p.published.Add(1)
		metrics.AuditAlertsPublished.Inc()
	default:
		p.dropped.Add(1)
		metrics.AuditAlertsDropped.WithLabelValues("queue_full").Inc()
		p.logger.Warn("alert queue full, dropping alert",
			zap.String("entry_id", entry.ID),
			zap.String("action", string(entry.Action)))
	}
}

// drain is the single worker writing published alerts to every sink.
func (p *AlertPublisher) drain() {
	defer p.wg.Done()

	for entry := range p.queue {
		for _, sink := range p.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), p.config.WriteTimeout)
			err := sink.Write(ctx, entry)
			cancel()

			if err != nil {
				p.failed.Add(1)
				metrics.AuditAlertSinkErrors.WithLabelValues(sink.Name()).Inc()

				p.mu.Lock()
				p.lastError = err.Error()
				p.lastErrorTime = time.Now()
				p.mu.Unlock()

				// Alert failure never removes the underlying audit record.
				p.logger.Error("alert sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("entry_id", entry.ID),
					zap.String("error", err.Error()))
			}
		}
	}
}

// Health returns the current publisher health snapshot.
func (p *AlertPublisher) Health() AlertPublisherHealth {
	p.mu.RLock()
	lastError := p.lastError
	lastErrorTime := p.lastErrorTime
	p.mu.RUnlock()

	return AlertPublisherHealth{
		QueueLength:     len(p.queue),
		QueueCapacity:   cap(p.queue),
		PublishedAlerts: p.published.Load(),
		DroppedAlerts:   p.dropped.Load(),
		FailedWrites:    p.failed.Load(),
		LastError:       lastError,
		LastErrorTime:   lastErrorTime,
	}
}

// Close stops the worker and closes all sinks.
func (p *AlertPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	// Publishers holding the read lock either see the closed flag or
	// finish their enqueue before the channel is closed.
	p.closeMu.Lock()
	close(p.queue)
	p.closeMu.Unlock()
	p.wg.Wait()

	var lastErr error
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			p.logger.Warn("failed to close alert sink",
				zap.String("sink", sink.Name()),
				zap.String("error", err.Error()))
			lastErr = err
		}
	}
	return lastErr
}

// LogAlertSink writes alerts to a structured logger. It is the default
// sink when no external alerting backend is configured.
type LogAlertSink struct {
	logger *zap.Logger
}

// NewLogAlertSink creates a new LogAlertSink.
func NewLogAlertSink(logger *zap.Logger) *LogAlertSink {
	return &LogAlertSink{logger: logger.Named("alert")}
}

// Write logs the alert.
func (s *LogAlertSink) Write(_ context.Context, entry *Entry) error {
	fields := []zap.Field{
		zap.String("entry_id", entry.ID),
		zap.String("action", string(entry.Action)),
		zap.String("level", string(entry.Level)),
		zap.Time("timestamp", entry.Timestamp),
		zap.String("actor_id", entry.Actor.ID),
		zap.Bool("emergency_access", entry.EmergencyAccess),
	}
	if entry.PatientID != "" {
		fields = append(fields, zap.String("patient_id", entry.PatientID))
	}
	if entry.BreakGlassReason != "" {
		fields = append(fields, zap.String("break_glass_reason", entry.BreakGlassReason))
	}
	if len(entry.Details) > 0 {
		if detailsJSON, err := json.Marshal(entry.Details); err == nil {
			fields = append(fields, zap.String("details", string(detailsJSON)))
		}
	}

	s.logger.Warn("compliance_alert", fields...)
	return nil
}

// Close is a no-op for LogAlertSink.
func (s *LogAlertSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogAlertSink) Name() string {
	return "log"
}
