// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/audit"
)

type recordingStore struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (s *recordingStore) Append(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingStore) Query(_ context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Entry
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *recordingStore) countAction(action audit.Action) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type fakeAdapter struct {
	channel Channel

	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeAdapter) Channel() Channel { return f.channel }

func (f *fakeAdapter) Send(_ context.Context, recipients []string, _ Content, _ map[string]string) ([]SendResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()

	if fail {
		return nil, errors.New("gateway unreachable")
	}
	results := make([]SendResult, 0, len(recipients))
	for _, r := range recipients {
		results = append(results, SendResult{Recipient: r, Success: true})
	}
	return results, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDispatcher(t *testing.T, store *recordingStore, adapters ...Adapter) *Dispatcher {
	t.Helper()

	trail := audit.NewTrail(store, nil, audit.TrailConfig{}, zap.NewNop())
	d := NewDispatcher(Config{BackoffBase: 2 * time.Millisecond}, adapters, trail, zap.NewNop().Sugar())
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func TestScheduleValidatesRequest(t *testing.T) {
	d := newTestDispatcher(t, &recordingStore{}, &fakeAdapter{channel: ChannelEmail})

	_, err := d.Schedule(context.Background(), Request{
		Channels:   []Channel{ChannelEmail},
		Recipients: []string{"doc@hospital.example"},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.Schedule(context.Background(), Request{
		Type:       "appointment_reminder",
		Recipients: []string{"doc@hospital.example"},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.Schedule(context.Background(), Request{
		Type:     "appointment_reminder",
		Channels: []Channel{ChannelEmail},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestScheduleDeliversOnAllChannels(t *testing.T) {
	store := &recordingStore{}
	email := &fakeAdapter{channel: ChannelEmail}
	sms := &fakeAdapter{channel: ChannelSMS}
	d := newTestDispatcher(t, store, email, sms)

	n, err := d.Schedule(context.Background(), Request{
		Type:       "appointment_reminder",
		Channels:   []Channel{ChannelEmail, ChannelSMS},
		Recipients: []string{"patient@example.com"},
		Data:       map[string]string{"patientName": "Jane Roe", "date": "2026-09-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, n.Status)
	assert.Equal(t, PriorityNormal, n.Priority)

	require.Eventually(t, func() bool {
		got, err := d.Status(n.ID)
		return err == nil && got.Status == StatusDelivered
	}, time.Second, 5*time.Millisecond)

	got, err := d.Status(n.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.DeliveredAt)
	assert.Equal(t, 1, email.callCount())
	assert.Equal(t, 1, sms.callCount())

	assert.Equal(t, 1, store.countAction(audit.ActionNotificationScheduled))
	assert.Equal(t, 1, store.countAction(audit.ActionNotificationDelivered))
}

func TestFailingChannelExhaustsRetries(t *testing.T) {
	store := &recordingStore{}
	email := &fakeAdapter{channel: ChannelEmail}
	sms := &fakeAdapter{channel: ChannelSMS, fail: true}
	inApp := &fakeAdapter{channel: ChannelInApp}
	d := newTestDispatcher(t, store, email, sms, inApp)

	n, err := d.Schedule(context.Background(), Request{
		Type:       "emergency_access_alert",
		Priority:   PriorityCritical,
		Channels:   []Channel{ChannelEmail, ChannelSMS, ChannelInApp},
		Recipients: []string{"security@hospital.example"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := d.Status(n.ID)
		return err == nil && got.Status == StatusFailedPermanently
	}, time.Second, 5*time.Millisecond)

	got, err := d.Status(n.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.ErrorMessage, "1 of 3 channels failed")

	// One attempt per retry on every channel, failing or not.
	assert.Equal(t, 3, email.callCount())
	assert.Equal(t, 3, sms.callCount())
	assert.Equal(t, 3, inApp.callCount())

	// Exactly one terminal critical entry; the two earlier attempts
	// show up as warnings.
	assert.Equal(t, 1, store.countAction(audit.ActionNotificationFailed))
	assert.Equal(t, 2, store.countAction(audit.ActionNotificationAttemptFailed))
	assert.Equal(t, 0, store.countAction(audit.ActionNotificationDelivered))
}

func TestRecoveryBeforeExhaustionDelivers(t *testing.T) {
	store := &recordingStore{}
	sms := &fakeAdapter{channel: ChannelSMS, fail: true}

	// Wide backoff so the adapter can be fixed between attempts.
	trail := audit.NewTrail(store, nil, audit.TrailConfig{}, zap.NewNop())
	d := NewDispatcher(Config{BackoffBase: 200 * time.Millisecond}, []Adapter{sms}, trail, zap.NewNop().Sugar())
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})

	n, err := d.Schedule(context.Background(), Request{
		Type:       "appointment_reminder",
		Channels:   []Channel{ChannelSMS},
		Recipients: []string{"+491701234567"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := d.Status(n.ID)
		return err == nil && got.Attempts >= 1 && got.Status == StatusFailed
	}, time.Second, time.Millisecond)

	sms.mu.Lock()
	sms.fail = false
	sms.mu.Unlock()

	require.Eventually(t, func() bool {
		got, err := d.Status(n.ID)
		return err == nil && got.Status == StatusDelivered
	}, 2*time.Second, 5*time.Millisecond)

	got, err := d.Status(n.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Attempts, 3)
	assert.Equal(t, 0, store.countAction(audit.ActionNotificationFailed))
}

func TestFutureScheduledForDefersDelivery(t *testing.T) {
	store := &recordingStore{}
	email := &fakeAdapter{channel: ChannelEmail}
	d := newTestDispatcher(t, store, email)

	n, err := d.Schedule(context.Background(), Request{
		Type:         "appointment_reminder",
		Channels:     []Channel{ChannelEmail},
		Recipients:   []string{"patient@example.com"},
		ScheduledFor: time.Now().Add(60 * time.Millisecond),
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	got, err := d.Status(n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, 0, email.callCount())

	require.Eventually(t, func() bool {
		got, err := d.Status(n.ID)
		return err == nil && got.Status == StatusDelivered
	}, time.Second, 5*time.Millisecond)
}

func TestCancelScheduledNotification(t *testing.T) {
	store := &recordingStore{}
	email := &fakeAdapter{channel: ChannelEmail}
	d := newTestDispatcher(t, store, email)

	n, err := d.Schedule(context.Background(), Request{
		Type:         "appointment_reminder",
		Channels:     []Channel{ChannelEmail},
		Recipients:   []string{"patient@example.com"},
		ScheduledFor: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	cancelled, err := d.Cancel(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// stays cancelled even once the deferral timer would have fired
	time.Sleep(20 * time.Millisecond)
	got, err := d.Status(n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 0, email.callCount())
	assert.Equal(t, 1, store.countAction(audit.ActionNotificationCancelled))
}

func TestCancelDeliveredIsNoOp(t *testing.T) {
	store := &recordingStore{}
	email := &fakeAdapter{channel: ChannelEmail}
	d := newTestDispatcher(t, store, email)

	n, err := d.Schedule(context.Background(), Request{
		Type:       "appointment_reminder",
		Channels:   []Channel{ChannelEmail},
		Recipients: []string{"patient@example.com"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := d.Status(n.ID)
		return err == nil && got.Status == StatusDelivered
	}, time.Second, 5*time.Millisecond)

	got, err := d.Cancel(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.Equal(t, 0, store.countAction(audit.ActionNotificationCancelled))
}

func TestCancelUnknownNotification(t *testing.T) {
	d := newTestDispatcher(t, &recordingStore{}, &fakeAdapter{channel: ChannelEmail})

	_, err := d.Cancel(context.Background(), "notif_missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = d.Status("notif_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMissingAdapterFailsChannel(t *testing.T) {
	store := &recordingStore{}
	d := newTestDispatcher(t, store, &fakeAdapter{channel: ChannelEmail})

	n, err := d.Schedule(context.Background(), Request{
		Type:       "appointment_reminder",
		Channels:   []Channel{ChannelPush},
		Recipients: []string{"device-token-1"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := d.Status(n.ID)
		return err == nil && got.Status == StatusFailedPermanently
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationTransitions(t *testing.T) {
	now := time.Now()

	n := &Notification{Status: StatusScheduled}
	require.NoError(t, n.beginAttempt(now))
	assert.Equal(t, 1, n.Attempts)
	require.Error(t, n.beginAttempt(now))

	require.NoError(t, n.markFailed("boom"))
	require.NoError(t, n.beginAttempt(now))
	assert.Equal(t, 2, n.Attempts)

	require.NoError(t, n.markDelivered(now))
	assert.Empty(t, n.ErrorMessage)
	assert.True(t, n.terminal())
	require.Error(t, n.markFailed("late"))
	require.Error(t, n.markCancelled())

	p := &Notification{Status: StatusProcessing}
	require.NoError(t, p.markFailedPermanently("exhausted"))
	assert.True(t, p.terminal())
	require.Error(t, p.beginAttempt(now))
}
