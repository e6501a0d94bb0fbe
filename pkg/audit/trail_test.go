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

type memStore struct {
	mu      sync.Mutex
	entries []*Entry
	failing bool
}

func (s *memStore) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store unavailable")
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) Query(_ context.Context, filter Filter) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("store unavailable")
	}
	var out []*Entry
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out, nil
}

func newTestTrail(t *testing.T, store Store, opts ...TrailOption) *Trail {
	t.Helper()
	return NewTrail(store, nil, TrailConfig{}, zap.NewNop(), opts...)
}

func TestLogRequiresAction(t *testing.T) {
	trail := newTestTrail(t, &memStore{})
	_, err := trail.Log(context.Background(), Record{})
	require.ErrorIs(t, err, ErrMissingAction)
}

func TestLogDefaultsAndIdentity(t *testing.T) {
	store := &memStore{}
	trail := newTestTrail(t, store)

	entry, err := trail.Log(context.Background(), Record{Action: ActionPatientAccessed, PatientID: "pat-1"})
	require.NoError(t, err)

	assert.Equal(t, LevelInfo, entry.Level)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.NotEmpty(t, entry.Environment["pid"])
	assert.True(t, entry.Compliance.Immutable)
	assert.False(t, entry.FallbackStorage)
}

func TestConcurrentLoggingProducesDistinctIDs(t *testing.T) {
	store := &memStore{}
	trail := newTestTrail(t, store)

	const loggers, perLogger = 10, 50

	var wg sync.WaitGroup
	for i := 0; i < loggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perLogger; j++ {
				_, err := trail.Log(context.Background(), Record{Action: ActionPatientAccessed})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]struct{}, loggers*perLogger)
	for _, e := range store.entries {
		seen[e.ID] = struct{}{}
	}
	assert.Len(t, seen, loggers*perLogger)
}

func TestDerivedHandlesCarryIdentity(t *testing.T) {
	store := &memStore{}
	trail := newTestTrail(t, store)

	asDoc := trail.WithActor(Actor{ID: "doc-1", Role: "doctor"}).
		WithOrganization(Organization{ID: "org-1"})

	entry, err := asDoc.Log(context.Background(), Record{Action: ActionPatientAccessed})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", entry.Actor.ID)
	assert.Equal(t, "org-1", entry.Organization.ID)

	// the parent handle stays anonymous
	entry, err = trail.Log(context.Background(), Record{Action: ActionPatientAccessed})
	require.NoError(t, err)
	assert.Empty(t, entry.Actor.ID)
}

func TestComplianceMetadata(t *testing.T) {
	trail := newTestTrail(t, &memStore{})
	ctx := context.Background()

	// sensitive access with flag set => HIPAA-relevant
	e, err := trail.Log(ctx, Record{Action: ActionPatientAccessed, SensitiveDataAccessed: true})
	require.NoError(t, err)
	assert.True(t, e.Compliance.HIPAACompliant)
	assert.False(t, e.Compliance.GDPRCompliant)
	assert.Equal(t, 6*365, e.Compliance.RetentionDays)

	// consent action with recorded consent => GDPR-relevant
	given := true
	e, err = trail.Log(ctx, Record{Action: ActionConsentRevoked, ConsentGiven: &given})
	require.NoError(t, err)
	assert.True(t, e.Compliance.GDPRCompliant)
	assert.False(t, e.Compliance.HIPAACompliant)

	// critical entries are retained twice as long
	e, err = trail.Log(ctx, Record{Action: ActionBreakGlassAccess, Level: LevelCritical})
	require.NoError(t, err)
	assert.Equal(t, 2*6*365, e.Compliance.RetentionDays)
}

func TestDurableWriteFailureFallsBackToBuffer(t *testing.T) {
	store := &memStore{failing: true}
	trail := newTestTrail(t, store)

	entry, err := trail.Log(context.Background(), Record{Action: ActionPatientAccessed, PatientID: "pat-1"})
	require.NoError(t, err, "store failures must not propagate")
	assert.True(t, entry.FallbackStorage)
	assert.Equal(t, 1, trail.BufferLen())

	// reads degrade to the buffer
	got, err := trail.Query(context.Background(), Filter{PatientID: "pat-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entry.ID, got[0].ID)
}

func TestQueryPrefersDurableStore(t *testing.T) {
	store := &memStore{}
	trail := newTestTrail(t, store)
	ctx := context.Background()

	_, err := trail.Log(ctx, Record{Action: ActionPatientAccessed, PatientID: "pat-1"})
	require.NoError(t, err)
	_, err = trail.Log(ctx, Record{Action: ActionConsentCreated, PatientID: "pat-2"})
	require.NoError(t, err)

	got, err := trail.Query(ctx, Filter{PatientID: "pat-2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ActionConsentCreated, got[0].Action)
}

func TestBufferEvictsOldestBeyondCapacity(t *testing.T) {
	b := newBuffer(3)
	for i := 0; i < 5; i++ {
		b.Append(&Entry{ID: string(rune('a' + i))})
	}
	require.Equal(t, 3, b.Len())

	snap := b.Snapshot()
	assert.Equal(t, "c", snap[0].ID)
	assert.Equal(t, "e", snap[2].ID)
}

func TestCriticalEntriesRaiseAlerts(t *testing.T) {
	store := &memStore{}
	sink := &captureSink{}
	alerts := NewAlertPublisher([]AlertSink{sink}, DefaultAlertPublisherConfig(), zap.NewNop())
	trail := NewTrail(store, alerts, TrailConfig{}, zap.NewNop())
	defer trail.Close()

	ctx := context.Background()
	_, err := trail.Log(ctx, Record{Action: ActionPatientAccessed})
	require.NoError(t, err)
	_, err = trail.Log(ctx, Record{Action: ActionBreakGlassAccess, Level: LevelCritical, EmergencyAccess: true})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 5*time.Millisecond)

	health := trail.AlertHealth()
	assert.EqualValues(t, 1, health.PublishedAlerts)
	assert.EqualValues(t, 0, health.DroppedAlerts)
}

type captureSink struct {
	mu      sync.Mutex
	entries []*Entry
}

func (s *captureSink) Write(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *captureSink) Close() error { return nil }
func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestLevelForAction(t *testing.T) {
	assert.Equal(t, LevelCritical, LevelForAction(ActionBreakGlassAccess))
	assert.Equal(t, LevelCritical, LevelForAction(ActionNotificationFailed))
	assert.Equal(t, LevelWarning, LevelForAction(ActionAccessDenied))
	assert.Equal(t, LevelInfo, LevelForAction(ActionPatientAccessed))
}
