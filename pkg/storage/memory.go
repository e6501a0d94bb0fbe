// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/telekom/clinical-compliance/pkg/audit"
	"github.com/telekom/clinical-compliance/pkg/consent"
)

// MemoryAuditStore is an in-memory audit.Store for tests and single-node
// deployments without a database.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*audit.Entry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryAuditStore) Query(_ context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*audit.Entry
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

// Len reports the number of stored entries.
func (s *MemoryAuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MemoryConsentStore is an in-memory consent.Store.
type MemoryConsentStore struct {
	mu          sync.RWMutex
	consents    map[string]*consent.Consent
	preferences map[string]*consent.PrivacyPreference
	emergencies map[string]*consent.EmergencyAccessRequest
	// order preserves insertion order for per-patient listings
	consentOrder   []string
	emergencyOrder []string
}

func NewMemoryConsentStore() *MemoryConsentStore {
	return &MemoryConsentStore{
		consents:    make(map[string]*consent.Consent),
		preferences: make(map[string]*consent.PrivacyPreference),
		emergencies: make(map[string]*consent.EmergencyAccessRequest),
	}
}

func (s *MemoryConsentStore) CreateConsent(_ context.Context, c *consent.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.consents[c.ID]; exists {
		return fmt.Errorf("consent %s already exists", c.ID)
	}
	cp := *c
	s.consents[c.ID] = &cp
	s.consentOrder = append(s.consentOrder, c.ID)
	return nil
}

func (s *MemoryConsentStore) UpdateConsent(_ context.Context, c *consent.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.consents[c.ID]; !exists {
		return fmt.Errorf("consent %s: %w", c.ID, consent.ErrNotFound)
	}
	cp := *c
	s.consents[c.ID] = &cp
	return nil
}

func (s *MemoryConsentStore) GetConsent(_ context.Context, id string) (*consent.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, fmt.Errorf("consent %s: %w", id, consent.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryConsentStore) ConsentsByPatient(_ context.Context, patientID string) ([]*consent.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*consent.Consent
	for _, id := range s.consentOrder {
		if c, ok := s.consents[id]; ok && c.PatientID == patientID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryConsentStore) SavePreference(_ context.Context, p *consent.PrivacyPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.preferences[p.PatientID] = &cp
	return nil
}

func (s *MemoryConsentStore) PreferenceByPatient(_ context.Context, patientID string) (*consent.PrivacyPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[patientID]
	if !ok {
		return nil, fmt.Errorf("preference for patient %s: %w", patientID, consent.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryConsentStore) CreateEmergencyRequest(_ context.Context, r *consent.EmergencyAccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emergencies[r.ID]; exists {
		return fmt.Errorf("emergency request %s already exists", r.ID)
	}
	cp := *r
	s.emergencies[r.ID] = &cp
	s.emergencyOrder = append(s.emergencyOrder, r.ID)
	return nil
}

func (s *MemoryConsentStore) UpdateEmergencyRequest(_ context.Context, r *consent.EmergencyAccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emergencies[r.ID]; !exists {
		return fmt.Errorf("emergency request %s: %w", r.ID, consent.ErrNotFound)
	}
	cp := *r
	s.emergencies[r.ID] = &cp
	return nil
}

func (s *MemoryConsentStore) GetEmergencyRequest(_ context.Context, id string) (*consent.EmergencyAccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.emergencies[id]
	if !ok {
		return nil, fmt.Errorf("emergency request %s: %w", id, consent.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryConsentStore) EmergencyRequestsByPatient(_ context.Context, patientID string) ([]*consent.EmergencyAccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*consent.EmergencyAccessRequest
	for _, id := range s.emergencyOrder {
		if r, ok := s.emergencies[id]; ok && r.PatientID == patientID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// DeletePatientData removes the patient's consents and privacy
// preference. Emergency access requests stay; they document access that
// already happened.
func (s *MemoryConsentStore) DeletePatientData(_ context.Context, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.consentOrder[:0]
	for _, id := range s.consentOrder {
		if c, ok := s.consents[id]; ok && c.PatientID == patientID {
			delete(s.consents, id)
			continue
		}
		kept = append(kept, id)
	}
	s.consentOrder = kept
	delete(s.preferences, patientID)
	return nil
}
