// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *failingSink) Write(_ context.Context, _ *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errors.New("sink unreachable")
}

func (s *failingSink) Close() error { return nil }
func (s *failingSink) Name() string { return "failing" }

func TestAlertPublisherDeliversToAllSinks(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	p := NewAlertPublisher([]AlertSink{a, b}, DefaultAlertPublisherConfig(), zap.NewNop())
	defer p.Close()

	p.Publish(&Entry{ID: "audit_1", Level: LevelCritical})

	assert.Eventually(t, func() bool {
		return a.count() == 1 && b.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAlertPublisherRateLimits(t *testing.T) {
	sink := &captureSink{}
	p := NewAlertPublisher([]AlertSink{sink}, AlertPublisherConfig{
		RatePerSecond: 1,
		Burst:         2,
	}, zap.NewNop())
	defer p.Close()

	for i := 0; i < 10; i++ {
		p.Publish(&Entry{ID: "audit_x", Level: LevelCritical})
	}

	health := p.Health()
	assert.EqualValues(t, 8, health.DroppedAlerts, "everything beyond the burst is dropped")
}

func TestAlertPublisherSinkFailureIsCounted(t *testing.T) {
	sink := &failingSink{}
	p := NewAlertPublisher([]AlertSink{sink}, DefaultAlertPublisherConfig(), zap.NewNop())
	defer p.Close()

	p.Publish(&Entry{ID: "audit_1", Level: LevelCritical})

	assert.Eventually(t, func() bool {
		h := p.Health()
		return h.FailedWrites == 1 && h.LastError != ""
	}, time.Second, 5*time.Millisecond)
}

func TestAlertPublisherConcurrentPublishAndClose(t *testing.T) {
	p := NewAlertPublisher([]AlertSink{&captureSink{}}, AlertPublisherConfig{
		QueueSize:     4,
		RatePerSecond: 100000,
		Burst:         100000,
	}, zap.NewNop())

	const publishers = 8
	const perPublisher = 50

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perPublisher; j++ {
				p.Publish(&Entry{ID: "audit_x", Level: LevelCritical})
			}
		}()
	}

	close(start)
	require.NoError(t, p.Close())
	wg.Wait()

	// Every publish must have been either accepted or dropped; a send on
	// the closed queue would have panicked above.
	h := p.Health()
	assert.EqualValues(t, publishers*perPublisher, h.PublishedAlerts+h.DroppedAlerts)
}

func TestAlertPublisherRejectsAfterClose(t *testing.T) {
	p := NewAlertPublisher([]AlertSink{&captureSink{}}, DefaultAlertPublisherConfig(), zap.NewNop())
	require.NoError(t, p.Close())

	p.Publish(&Entry{ID: "audit_1"})
	assert.EqualValues(t, 1, p.Health().DroppedAlerts)
	assert.EqualValues(t, 0, p.Health().PublishedAlerts)
}
