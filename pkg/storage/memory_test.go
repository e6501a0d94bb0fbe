// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/clinical-compliance/pkg/audit"
	"github.com/telekom/clinical-compliance/pkg/consent"
)

func TestMemoryAuditStoreQueryFilters(t *testing.T) {
	s := NewMemoryAuditStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entries := []*audit.Entry{
		{ID: "a1", Timestamp: base, Action: audit.ActionPatientAccessed, Level: audit.LevelInfo, PatientID: "pat-1", Actor: audit.Actor{ID: "doc-1"}},
		{ID: "a2", Timestamp: base.Add(time.Minute), Action: audit.ActionConsentRevoked, Level: audit.LevelInfo, PatientID: "pat-1", Actor: audit.Actor{ID: "doc-2"}},
		{ID: "a3", Timestamp: base.Add(2 * time.Minute), Action: audit.ActionPatientAccessed, Level: audit.LevelCritical, PatientID: "pat-2", Actor: audit.Actor{ID: "doc-1"}},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(ctx, e))
	}
	assert.Equal(t, 3, s.Len())

	got, err := s.Query(ctx, audit.Filter{PatientID: "pat-1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, audit.Filter{Action: audit.ActionPatientAccessed, ActorID: "doc-1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, audit.Filter{Level: audit.LevelCritical})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a3", got[0].ID)

	got, err = s.Query(ctx, audit.Filter{From: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)
}

func TestMemoryConsentStoreRoundTrip(t *testing.T) {
	s := NewMemoryConsentStore()
	ctx := context.Background()

	c := &consent.Consent{
		ID:        "consent_1",
		PatientID: "pat-1",
		Type:      "treatment",
		Status:    consent.StatusObtained,
		Version:   1,
		Active:    true,
	}
	require.NoError(t, s.CreateConsent(ctx, c))
	require.Error(t, s.CreateConsent(ctx, c), "duplicate id must be rejected")

	got, err := s.GetConsent(ctx, "consent_1")
	require.NoError(t, err)
	assert.Equal(t, "treatment", got.Type)

	// stored copy is detached from the caller's struct
	c.Type = "mutated"
	got, err = s.GetConsent(ctx, "consent_1")
	require.NoError(t, err)
	assert.Equal(t, "treatment", got.Type)

	got.Status = consent.StatusRevoked
	got.Version = 2
	require.NoError(t, s.UpdateConsent(ctx, got))

	got, err = s.GetConsent(ctx, "consent_1")
	require.NoError(t, err)
	assert.Equal(t, consent.StatusRevoked, got.Status)
	assert.Equal(t, 2, got.Version)

	_, err = s.GetConsent(ctx, "consent_missing")
	require.ErrorIs(t, err, consent.ErrNotFound)
	require.ErrorIs(t, s.UpdateConsent(ctx, &consent.Consent{ID: "consent_missing"}), consent.ErrNotFound)
}

func TestMemoryConsentStorePreferences(t *testing.T) {
	s := NewMemoryConsentStore()
	ctx := context.Background()

	_, err := s.PreferenceByPatient(ctx, "pat-1")
	require.ErrorIs(t, err, consent.ErrNotFound)

	p := &consent.PrivacyPreference{
		PatientID: "pat-1",
		AccessControls: map[string]map[string]consent.AccessLevel{
			"nurse": {"lab_results": consent.AccessFull},
		},
		Version: 1,
	}
	require.NoError(t, s.SavePreference(ctx, p))

	got, err := s.PreferenceByPatient(ctx, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, consent.AccessFull, got.AccessControls["nurse"]["lab_results"])

	p.Version = 2
	require.NoError(t, s.SavePreference(ctx, p))
	got, err = s.PreferenceByPatient(ctx, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}

func TestMemoryConsentStoreDeletePatientData(t *testing.T) {
	s := NewMemoryConsentStore()
	ctx := context.Background()

	require.NoError(t, s.CreateConsent(ctx, &consent.Consent{ID: "c1", PatientID: "pat-1"}))
	require.NoError(t, s.CreateConsent(ctx, &consent.Consent{ID: "c2", PatientID: "pat-2"}))
	require.NoError(t, s.SavePreference(ctx, &consent.PrivacyPreference{PatientID: "pat-1"}))
	require.NoError(t, s.CreateEmergencyRequest(ctx, &consent.EmergencyAccessRequest{
		ID: "e1", PatientID: "pat-1", RequesterID: "doc-1", Status: consent.EmergencyPending,
	}))

	require.NoError(t, s.DeletePatientData(ctx, "pat-1"))

	_, err := s.GetConsent(ctx, "c1")
	require.ErrorIs(t, err, consent.ErrNotFound)
	_, err = s.PreferenceByPatient(ctx, "pat-1")
	require.ErrorIs(t, err, consent.ErrNotFound)

	// other patients untouched
	_, err = s.GetConsent(ctx, "c2")
	require.NoError(t, err)

	// emergency requests stay for compliance review
	reqs, err := s.EmergencyRequestsByPatient(ctx, "pat-1")
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestMemoryConsentStoreEmergencyRequests(t *testing.T) {
	s := NewMemoryConsentStore()
	ctx := context.Background()

	r := &consent.EmergencyAccessRequest{
		ID: "e1", PatientID: "pat-1", RequesterID: "doc-1",
		Status: consent.EmergencyPending, DataType: "lab_results",
	}
	require.NoError(t, s.CreateEmergencyRequest(ctx, r))

	r.Status = consent.EmergencyApproved
	require.NoError(t, s.UpdateEmergencyRequest(ctx, r))

	got, err := s.GetEmergencyRequest(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, consent.EmergencyApproved, got.Status)

	_, err = s.GetEmergencyRequest(ctx, "missing")
	require.ErrorIs(t, err, consent.ErrNotFound)
}
