// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaAlertSinkConfig configures a KafkaAlertSink.
type KafkaAlertSinkConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic is the Kafka topic alerts are written to.
	Topic string

	// BatchSize is the number of messages to batch before flushing.
	// Default: 1 (alerts are time-sensitive)
	BatchSize int

	// BatchTimeout is the maximum time to wait before flushing a batch.
	// Default: 100ms
	BatchTimeout time.Duration

	// WriteTimeout is the timeout for writing messages. Default: 10s
	WriteTimeout time.Duration

	// RequiredAcks determines the acknowledgment level.
	// -1: all replicas, 0: none, 1: leader only. Default: 1
	RequiredAcks int
}

// KafkaAlertSink publishes alerts for critical audit entries to a Kafka
// topic consumed by security tooling.
type KafkaAlertSink struct {
	writer *kafka.Writer
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	messagesWritten atomic.Int64
	messagesFailed  atomic.Int64
}

// NewKafkaAlertSink creates a new KafkaAlertSink.
func NewKafkaAlertSink(cfg KafkaAlertSinkConfig, logger *zap.Logger) (*KafkaAlertSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = 1
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequiredAcks(requiredAcks),
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: false,
	}

	sink := &KafkaAlertSink{
		writer: writer,
		logger: logger.Named("kafka-alert"),
	}

	sink.logger.Info("Kafka alert sink created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))

	return sink, nil
}

// Write publishes the entry as a JSON message keyed by its id.
func (s *KafkaAlertSink) Write(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("kafka alert sink is closed")
	}
	s.mu.Unlock()

	value, err := json.Marshal(entry)
	if err != nil {
		s.messagesFailed.Add(1)
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "level", Value: []byte(entry.Level)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.messagesFailed.Add(1)
		s.logger.Debug("kafka alert write failed",
			zap.String("entry_id", entry.ID),
			zap.String("error", err.Error()))
		return fmt.Errorf("failed to write alert to kafka: %w", err)
	}

	s.messagesWritten.Add(1)
	return nil
}

// Stats returns write counters for health reporting.
func (s *KafkaAlertSink) Stats() (written, failed int64) {
	return s.messagesWritten.Load(), s.messagesFailed.Load()
}

// Close flushes and closes the underlying writer.
func (s *KafkaAlertSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("closing kafka alert sink",
		zap.Int64("messages_written", s.messagesWritten.Load()),
		zap.Int64("messages_failed", s.messagesFailed.Load()))

	return s.writer.Close()
}

// Name returns the sink identifier.
func (s *KafkaAlertSink) Name() string {
	return "kafka"
}
