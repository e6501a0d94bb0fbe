// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"time"
)

// Status is the lifecycle state of a consent record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusObtained    Status = "obtained"
	StatusExpired     Status = "expired"
	StatusRevoked     Status = "revoked"
	StatusWithdrawn   Status = "withdrawn"
	StatusConditional Status = "conditional"
)

// AccessLevel is the outcome of a data access decision.
type AccessLevel string

const (
	AccessNone      AccessLevel = "none"
	AccessView      AccessLevel = "view"
	AccessLimited   AccessLevel = "limited"
	AccessFull      AccessLevel = "full"
	AccessEmergency AccessLevel = "emergency"
)

// Consent is a patient's recorded authorization for a category of data
// use. Expiry is evaluated lazily at read time; revocation is terminal.
type Consent struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	// Type categorizes the data use, e.g. "treatment", "data_export",
	// "data_deletion", "research".
	Type        string     `json:"consentType"`
	Title       string     `json:"title,omitempty"`
	Details     string     `json:"details,omitempty"`
	ObtainedBy  string     `json:"obtainedBy,omitempty"`
	WitnessName string     `json:"witnessName,omitempty"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	// Conditions restricts the consent to specific actions; empty means
	// unconditional.
	Conditions []string  `json:"conditions,omitempty"`
	Status     Status    `json:"status"`
	Version    int       `json:"version"`
	Active     bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PrivacyPreference holds a patient's explicit access-control settings.
// At most one exists per patient; absence falls back to the built-in
// role default table.
type PrivacyPreference struct {
	PatientID string `json:"patientId"`
	// AccessControls maps role -> dataType -> level.
	AccessControls map[string]map[string]AccessLevel `json:"accessControlSettings"`
	// NotificationChannels are the channels the patient accepts
	// notifications on.
	NotificationChannels []string `json:"notificationChannels,omitempty"`
	// RetentionYears optionally shortens how long derived data is kept.
	RetentionYears int       `json:"retentionYears,omitempty"`
	Version        int       `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// EmergencyStatus is the lifecycle state of an emergency access request.
type EmergencyStatus string

const (
	EmergencyPending  EmergencyStatus = "pending"
	EmergencyApproved EmergencyStatus = "approved"
	EmergencyDenied   EmergencyStatus = "denied"
)

// EmergencyAccessRequest is a break-glass request. It grants access only
// while status is approved and the expiry window is open; expiry is a
// read-time check, never an active transition.
type EmergencyAccessRequest struct {
	ID          string          `json:"id"`
	RequesterID string          `json:"requesterId"`
	PatientID   string          `json:"patientId"`
	Reason      string          `json:"reason"`
	DataType    string          `json:"dataType"`
	Urgency     string          `json:"urgency,omitempty"`
	Status      EmergencyStatus `json:"status"`
	ApprovedBy  string          `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time      `json:"approvedAt,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store is the durable backend for consent, preference and emergency
// access records.
type Store interface {
	CreateConsent(ctx context.Context, c *Consent) error
	UpdateConsent(ctx context.Context, c *Consent) error
	// GetConsent returns ErrNotFound for unknown ids.
	GetConsent(ctx context.Context, id string) (*Consent, error)
	ConsentsByPatient(ctx context.Context, patientID string) ([]*Consent, error)

	SavePreference(ctx context.Context, p *PrivacyPreference) error
	// PreferenceByPatient returns ErrNotFound when the patient has no
	// explicit preference.
	PreferenceByPatient(ctx context.Context, patientID string) (*PrivacyPreference, error)

	CreateEmergencyRequest(ctx context.Context, r *EmergencyAccessRequest) error
	UpdateEmergencyRequest(ctx context.Context, r *EmergencyAccessRequest) error
	// GetEmergencyRequest returns ErrNotFound for unknown ids.
	GetEmergencyRequest(ctx context.Context, id string) (*EmergencyAccessRequest, error)
	EmergencyRequestsByPatient(ctx context.Context, patientID string) ([]*EmergencyAccessRequest, error)

	// DeletePatientData irreversibly removes all consent and preference
	// records for the patient.
	DeletePatientData(ctx context.Context, patientID string) error
}

// Expired reports whether the consent's expiry window has passed at the
// given instant.
func (c *Consent) Expired(now time.Time) bool {
	return c.ExpiryDate != nil && !c.ExpiryDate.After(now)
}

// GrantsAt reports whether the consent authorizes the action at the
// given instant. An empty action matches any consent; matching consents
// are redundant, not additive.
func (c *Consent) GrantsAt(now time.Time, action string) bool {
	if c.Status != StatusObtained || !c.Active || c.Expired(now) {
		return false
	}
	if action == "" || len(c.Conditions) == 0 {
		return true
	}
	for _, cond := range c.Conditions {
		if cond == action {
			return true
		}
	}
	return false
}

// ValidAt reports whether the emergency request grants access at the
// given instant.
func (r *EmergencyAccessRequest) ValidAt(now time.Time) bool {
	return r.Status == EmergencyApproved && r.ExpiresAt != nil && now.Before(*r.ExpiresAt)
}
