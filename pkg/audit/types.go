// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// Action identifies what happened. The audit trail is granular and
// captures every sensitive operation on patient data.
type Action string

const (
	// === Patient data access events ===
	ActionPatientAccessed       Action = "patient.accessed"
	ActionPatientHistoryViewed  Action = "patient.history_viewed"
	ActionPatientRecordUpdated  Action = "patient.record_updated"
	ActionLabResultsViewed      Action = "patient.lab_results_viewed"
	ActionPrescriptionAccessed  Action = "patient.prescription_accessed"
	ActionMentalHealthAccessed  Action = "patient.mental_health_accessed"
	ActionAccessChecked         Action = "access.checked"
	ActionAccessDenied          Action = "access.denied"
	ActionDataMaskingApplied    Action = "access.masking_applied"

	// === Emergency and break-glass events ===
	ActionEmergencyAccess    Action = "emergency.access"
	ActionEmergencyRequested Action = "emergency.requested"
	ActionEmergencyApproved  Action = "emergency.approved"
	ActionEmergencyDenied    Action = "emergency.denied"
	ActionBreakGlassAccess   Action = "breakglass.access"

	// === Consent lifecycle events ===
	ActionConsentCreated Action = "consent.created"
	ActionConsentUpdated Action = "consent.updated"
	ActionConsentRevoked Action = "consent.revoked"
	ActionConsentChecked Action = "consent.checked"

	// === Data subject rights events ===
	ActionDataExported Action = "data.exported"
	ActionDataDeleted  Action = "data.deleted"

	// === Notification events ===
	ActionNotificationScheduled     Action = "notification.scheduled"
	ActionNotificationDelivered     Action = "notification.delivered"
	ActionNotificationAttemptFailed Action = "notification.attempt_failed"
	ActionNotificationFailed        Action = "notification.failed_permanently"
	ActionNotificationCancelled     Action = "notification.cancelled"

	// === System events ===
	ActionSystemStartup  Action = "system.startup"
	ActionSystemShutdown Action = "system.shutdown"
)

// Level represents the severity of an audit entry.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Actor is the verified identity performing the audited operation.
// Identity verification happens upstream; this is an input, never
// produced here.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Organization is the tenant context for an audited operation.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ComplianceMetadata is derived at log time and never recomputed.
type ComplianceMetadata struct {
	HIPAACompliant bool `json:"hipaaCompliant"`
	GDPRCompliant  bool `json:"gdprCompliant"`
	// RetentionDays is the minimum preservation period before the entry
	// becomes purge-eligible.
	RetentionDays int  `json:"retentionDays"`
	Immutable     bool `json:"immutable"`
}

// Entry is a single immutable audit record. Entries are created once by
// Trail.Log and never mutated or deleted by normal paths.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Level     Level     `json:"level"`

	// Resource locates what was touched (e.g. "medical_records").
	Resource   string `json:"resource,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`

	Actor        Actor        `json:"actor"`
	Organization Organization `json:"organization,omitempty"`
	PatientID    string       `json:"patientId,omitempty"`

	// Sensitivity flags
	SensitiveDataAccessed bool   `json:"sensitiveDataAccessed"`
	DataMasked            bool   `json:"dataMasked"`
	EmergencyAccess       bool   `json:"emergencyAccess"`
	BreakGlassReason      string `json:"breakGlassReason,omitempty"`
	// ConsentGiven is tri-state: nil means consent was not evaluated for
	// this operation.
	ConsentGiven *bool `json:"consentGiven,omitempty"`

	ComplianceFlags []string               `json:"complianceFlags,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`

	// Environment is a best-effort process snapshot captured without
	// blocking the caller.
	Environment map[string]string `json:"environment,omitempty"`

	Compliance ComplianceMetadata `json:"complianceMetadata"`

	// FallbackStorage marks entries whose durable write failed and which
	// therefore live only in the local buffer.
	FallbackStorage bool `json:"fallbackStorage,omitempty"`
}

// Record carries the caller-supplied fields for Trail.Log. Only Action is
// required.
type Record struct {
	Action     Action
	Level      Level
	SessionID  string
	Resource   string
	ResourceID string
	PatientID  string

	SensitiveDataAccessed bool
	DataMasked            bool
	EmergencyAccess       bool
	BreakGlassReason      string
	ConsentGiven          *bool

	ComplianceFlags []string
	Details         map[string]interface{}
}

// IsSensitiveAccessAction reports whether the action belongs to the
// sensitive-access set that makes an entry HIPAA-relevant.
func IsSensitiveAccessAction(action Action) bool {
	switch action {
	case ActionPatientAccessed, ActionPatientHistoryViewed, ActionLabResultsViewed,
		ActionPrescriptionAccessed, ActionMentalHealthAccessed,
		ActionEmergencyAccess, ActionBreakGlassAccess, ActionDataExported:
		return true
	default:
		return false
	}
}

// IsConsentRelevantAction reports whether the action belongs to the
// consent/export/delete set that makes an entry GDPR-relevant.
func IsConsentRelevantAction(action Action) bool {
	switch action {
	case ActionConsentCreated, ActionConsentUpdated, ActionConsentRevoked,
		ActionConsentChecked, ActionDataExported, ActionDataDeleted:
		return true
	default:
		return false
	}
}

// LevelForAction returns the default level used by the convenience
// wrappers for an event class.
func LevelForAction(action Action) Level {
	switch action {
	case ActionEmergencyAccess, ActionEmergencyRequested, ActionEmergencyApproved,
		ActionBreakGlassAccess, ActionDataDeleted, ActionNotificationFailed:
		return LevelCritical
	case ActionAccessDenied, ActionEmergencyDenied, ActionNotificationAttemptFailed:
		return LevelWarning
	default:
		return LevelInfo
	}
}
