// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/telekom/clinical-compliance/pkg/audit"
)

// Consent types gating the data subject rights operations.
const (
	ConsentTypeDataExport   = "data_export"
	ConsentTypeDataDeletion = "data_deletion"
)

// PatientDataExport is the payload returned to a data subject access
// request.
type PatientDataExport struct {
	PatientID   string             `json:"patientId"`
	ExportedAt  time.Time          `json:"exportedAt"`
	RequestedBy string             `json:"requestedBy"`
	Consents    []*Consent         `json:"consents"`
	Preference  *PrivacyPreference `json:"privacyPreference,omitempty"`
}

// ExportPatientData assembles the patient's consents and privacy
// preference for a GDPR export. It fails with ErrConsentRequired unless
// a data_export consent is held.
func (r *Registry) ExportPatientData(ctx context.Context, patientID, requestedBy string) (*PatientDataExport, error) {
	if !r.HasConsent(ctx, patientID, ConsentTypeDataExport, "") {
		return nil, fmt.Errorf("export of patient %s: %w", patientID, ErrConsentRequired)
	}

	consents, err := r.store.ConsentsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect consents for export: %w", err)
	}

	// The preference is optional; its absence is not an export failure.
	pref, err := r.store.PreferenceByPatient(ctx, patientID)
	if err != nil {
		pref = nil
	}

	export := &PatientDataExport{
		PatientID:   patientID,
		ExportedAt:  r.nowFunc(),
		RequestedBy: requestedBy,
		Consents:    consents,
		Preference:  pref,
	}

	_, _ = r.auditAs(requestedBy).LogDataExport(ctx, patientID, "json", true)

	return export, nil
}

// DeletePatientData irreversibly removes the patient's consent and
// preference records. It fails with ErrConsentRequired unless a
// data_deletion consent is held. The deletion itself is logged as a
// critical, GDPR-tagged event before any data is removed, so the trail
// survives the erasure.
func (r *Registry) DeletePatientData(ctx context.Context, patientID, requestedBy, reason string) error {
	if !r.HasConsent(ctx, patientID, ConsentTypeDataDeletion, "") {
		return fmt.Errorf("deletion of patient %s: %w", patientID, ErrConsentRequired)
	}

	consentGiven := true
	_, _ = r.auditAs(requestedBy).Log(ctx, audit.Record{
		Action:          audit.ActionDataDeleted,
		Level:           audit.LevelCritical,
		PatientID:       patientID,
		ConsentGiven:    &consentGiven,
		ComplianceFlags: []string{"gdpr", "right_to_erasure"},
		Details:         map[string]interface{}{"reason": reason},
	})

	if err := r.store.DeletePatientData(ctx, patientID); err != nil {
		return fmt.Errorf("failed to delete patient data: %w", err)
	}

	return nil
}
