// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/audit"
	"github.com/telekom/clinical-compliance/pkg/metrics"
	"github.com/telekom/clinical-compliance/pkg/notify"
)

var (
	// ErrNotFound is returned when a consent or emergency request id is
	// unknown.
	ErrNotFound = errors.New("consent record not found")

	// ErrConsentRequired is returned by export/delete operations when no
	// matching consent is held.
	ErrConsentRequired = errors.New("operation requires patient consent")
)

// DefaultEmergencyWindow bounds an approved emergency access request
// when no explicit duration is given.
const DefaultEmergencyWindow = 24 * time.Hour

// expiryWarningLead is how far before a consent's expiry the warning
// notification is scheduled.
const expiryWarningLead = 7 * 24 * time.Hour

// Notifier dispatches consent-related notifications.
type Notifier interface {
	Schedule(ctx context.Context, req notify.Request) (*notify.Notification, error)
}

// builtinRoleDefaults is the fallback access table used when a patient
// has no explicit privacy preference and no per-deployment override is
// configured.
var builtinRoleDefaults = map[string]AccessLevel{
	"super_admin":  AccessFull,
	"org_admin":    AccessFull,
	"doctor":       AccessFull,
	"nurse":        AccessLimited,
	"pharmacist":   AccessLimited,
	"lab_tech":     AccessLimited,
	"billing":      AccessLimited,
	"receptionist": AccessLimited,
}

// RegistryConfig carries the per-deployment tunables of the registry.
type RegistryConfig struct {
	// RoleDefaults overrides the built-in role default table.
	RoleDefaults map[string]AccessLevel

	// MaskingRules overrides the built-in masking field lists.
	MaskingRules MaskingRules

	// SecurityRecipients receive break-glass alerts.
	SecurityRecipients []string

	// AdminRecipients receive administrative notices.
	AdminRecipients []string
}

// Registry is the single decision point for "may actor X do Y to patient
// Z's data T". It owns consent and privacy-preference records, performs
// field-level masking, and raises break-glass alerts.
type Registry struct {
	store    Store
	trail    *audit.Trail
	notifier Notifier
	logger   *zap.Logger

	roleDefaults map[string]AccessLevel
	masking      MaskingRules
	security     []string
	admins       []string

	nowFunc func() time.Time
}

// RegistryOption customizes a Registry at construction.
type RegistryOption func(*Registry)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.nowFunc = now }
}

// NewRegistry creates a consent registry over the given store. The
// notifier may be nil only in tests that never exercise alerting paths.
func NewRegistry(store Store, trail *audit.Trail, notifier Notifier, cfg RegistryConfig, logger *zap.Logger, opts ...RegistryOption) *Registry {
	roleDefaults := cfg.RoleDefaults
	if len(roleDefaults) == 0 {
		roleDefaults = builtinRoleDefaults
	}
	masking := cfg.MaskingRules
	if len(masking) == 0 {
		masking = defaultMaskingRules
	}

	r := &Registry{
		store:        store,
		trail:        trail,
		notifier:     notifier,
		logger:       logger.Named("consent-registry"),
		roleDefaults: roleDefaults,
		masking:      masking,
		security:     cfg.SecurityRecipients,
		admins:       cfg.AdminRecipients,
		nowFunc:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// auditAs returns a trail handle carrying the acting identity.
func (r *Registry) auditAs(actorID string) *audit.Trail {
	if actorID == "" {
		return r.trail
	}
	return r.trail.WithActor(audit.Actor{ID: actorID})
}

// CreateConsentParams carries the fields for CreateConsent.
type CreateConsentParams struct {
	PatientID   string
	Type        string
	Title       string
	Details     string
	ObtainedBy  string
	WitnessName string
	ExpiryDate  *time.Time
	Conditions  []string
}

// CreateConsent records a freshly obtained consent (version 1, active).
// When an expiry date is set, an expiry-warning notification is
// scheduled seven days ahead of it.
func (r *Registry) CreateConsent(ctx context.Context, p CreateConsentParams) (*Consent, error) {
	if p.PatientID == "" || p.Type == "" {
		return nil, fmt.Errorf("patient id and consent type are required")
	}

	now := r.nowFunc()
	c := &Consent{
		ID:          "consent_" + uuid.NewString(),
		PatientID:   p.PatientID,
		Type:        p.Type,
		Title:       p.Title,
		Details:     p.Details,
		ObtainedBy:  p.ObtainedBy,
		WitnessName: p.WitnessName,
		ExpiryDate:  p.ExpiryDate,
		Conditions:  p.Conditions,
		Status:      StatusObtained,
		Version:     1,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.store.CreateConsent(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist consent: %w", err)
	}
	metrics.ConsentCreated.Inc()

	_, _ = r.auditAs(p.ObtainedBy).LogConsentChange(ctx, audit.ActionConsentCreated, c.PatientID, c.ID, true)

	if c.ExpiryDate != nil {
		r.scheduleExpiryWarning(ctx, c)
	}

	return c, nil
}

// scheduleExpiryWarning is best-effort: a scheduling failure is logged
// but never fails the consent mutation.
func (r *Registry) scheduleExpiryWarning(ctx context.Context, c *Consent) {
	if r.notifier == nil {
		return
	}

	warnAt := c.ExpiryDate.Add(-expiryWarningLead)
	_, err := r.notifier.Schedule(ctx, notify.Request{
		Type:         "consent_expiry_warning",
		Priority:     notify.PriorityNormal,
		Channels:     []notify.Channel{notify.ChannelEmail, notify.ChannelInApp},
		Recipients:   []string{c.PatientID},
		ScheduledFor: warnAt,
		Data: map[string]string{
			"patientId":   c.PatientID,
			"consentId":   c.ID,
			"consentType": c.Type,
			"expiryDate":  c.ExpiryDate.Format(time.RFC3339),
		},
	})
	if err != nil {
		r.logger.Warn("failed to schedule consent expiry warning",
			zap.String("consent_id", c.ID),
			zap.String("error", err.Error()))
	}
}

// UpdateConsentParams carries the mutable fields for UpdateConsent. Nil
// pointers leave the current value in place.
type UpdateConsentParams struct {
	Title      *string
	Details    *string
	ExpiryDate *time.Time
	Conditions []string
	UpdatedBy  string
}

// UpdateConsent applies changes to an existing consent, incrementing its
// version and recording the prior version in the audit trail.
func (r *Registry) UpdateConsent(ctx context.Context, id string, p UpdateConsentParams) (*Consent, error) {
	c, err := r.store.GetConsent(ctx, id)
	if err != nil {
		return nil, err
	}

	priorVersion := c.Version
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Details != nil {
		c.Details = *p.Details
	}
	if p.ExpiryDate != nil {
		c.ExpiryDate = p.ExpiryDate
	}
	if p.Conditions != nil {
		c.Conditions = p.Conditions
	}
	c.Version++
	c.UpdatedAt = r.nowFunc()

	if err := r.store.UpdateConsent(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist consent update: %w", err)
	}

	_, _ = r.auditAs(p.UpdatedBy).Log(ctx, audit.Record{
		Action:       audit.ActionConsentUpdated,
		PatientID:    c.PatientID,
		Resource:     "consent",
		ResourceID:   c.ID,
		ConsentGiven: boolPtr(true),
		Details: map[string]interface{}{
			"priorVersion": priorVersion,
			"newVersion":   c.Version,
		},
	})

	return c, nil
}

// RevokeConsent terminally revokes a consent and notifies administrative
// staff at high priority.
func (r *Registry) RevokeConsent(ctx context.Context, id, reason, revokedBy string) (*Consent, error) {
	c, err := r.store.GetConsent(ctx, id)
	if err != nil {
		return nil, err
	}

	c.Status = StatusRevoked
	c.Active = false
	c.Version++
	c.UpdatedAt = r.nowFunc()

	if err := r.store.UpdateConsent(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist consent revocation: %w", err)
	}
	metrics.ConsentRevoked.Inc()

	_, _ = r.auditAs(revokedBy).Log(ctx, audit.Record{
		Action:       audit.ActionConsentRevoked,
		PatientID:    c.PatientID,
		Resource:     "consent",
		ResourceID:   c.ID,
		ConsentGiven: boolPtr(false),
		Details:      map[string]interface{}{"reason": reason},
	})

	if r.notifier != nil && len(r.admins) > 0 {
		_, err := r.notifier.Schedule(ctx, notify.Request{
			Type:       "consent_revoked",
			Priority:   notify.PriorityHigh,
			Channels:   []notify.Channel{notify.ChannelEmail, notify.ChannelInApp},
			Recipients: r.admins,
			Data: map[string]string{
				"patientId":   c.PatientID,
				"consentId":   c.ID,
				"consentType": c.Type,
				"reason":      reason,
				"revokedBy":   revokedBy,
			},
		})
		if err != nil {
			r.logger.Warn("failed to schedule consent revocation notice",
				zap.String("consent_id", c.ID),
				zap.String("error", err.Error()))
		}
	}

	return c, nil
}

// HasConsent reports whether at least one consent of the given type
// currently authorizes the action. An empty action matches any consent.
// Store failures degrade to the most restrictive answer.
func (r *Registry) HasConsent(ctx context.Context, patientID, consentType, action string) bool {
	consents, err := r.store.ConsentsByPatient(ctx, patientID)
	if err != nil {
		r.logger.Warn("consent lookup failed, denying",
			zap.String("patient_id", patientID),
			zap.String("error", err.Error()))
		return false
	}

	now := r.nowFunc()
	for _, c := range consents {
		if c.Type == consentType && c.GrantsAt(now, action) {
			return true
		}
	}
	return false
}

// CheckDataAccess resolves the access level an actor has to a patient's
// data of the given type. Absent an explicit privacy preference the
// built-in role default table answers; a resolved "emergency" level
// delegates to CheckEmergencyAccess.
func (r *Registry) CheckDataAccess(ctx context.Context, actor audit.Actor, patientID, dataType, action string) AccessLevel {
	if action == "" {
		action = "view"
	}

	level := r.resolveLevel(ctx, actor.Role, patientID, dataType)

	if level == AccessEmergency {
		if r.CheckEmergencyAccess(ctx, actor.ID, patientID, dataType) {
			level = AccessEmergency
		} else {
			level = AccessNone
		}
	}

	metrics.AccessDecisions.WithLabelValues(string(level)).Inc()

	_, _ = r.trail.WithActor(actor).Log(ctx, audit.Record{
		Action:    audit.ActionAccessChecked,
		PatientID: patientID,
		Resource:  dataType,
		Details: map[string]interface{}{
			"requestedAction": action,
			"level":           string(level),
		},
	})

	return level
}

// resolveLevel answers from the preference when present, the role
// default table otherwise. Missing data degrades to the most
// restrictive answer, never to an error.
func (r *Registry) resolveLevel(ctx context.Context, role, patientID, dataType string) AccessLevel {
	pref, err := r.store.PreferenceByPatient(ctx, patientID)
	if err != nil || pref == nil {
		if level, ok := r.roleDefaults[role]; ok {
			return level
		}
		return AccessNone
	}

	byDataType, ok := pref.AccessControls[role]
	if !ok {
		return AccessNone
	}
	level, ok := byDataType[dataType]
	if !ok {
		return AccessNone
	}
	return level
}

// SavePreference stores a patient's explicit privacy preference,
// replacing any prior version.
func (r *Registry) SavePreference(ctx context.Context, p *PrivacyPreference) error {
	if p.PatientID == "" {
		return fmt.Errorf("patient id is required")
	}
	p.Version++
	p.UpdatedAt = r.nowFunc()
	if err := r.store.SavePreference(ctx, p); err != nil {
		return fmt.Errorf("failed to persist privacy preference: %w", err)
	}
	return nil
}

// EmergencyAccessParams carries the fields for RequestEmergencyAccess.
type EmergencyAccessParams struct {
	RequesterID string
	PatientID   string
	Reason      string
	DataType    string
	Urgency     string
}

// RequestEmergencyAccess files a break-glass request (status pending)
// and synchronously dispatches a critical alert to security staff. The
// alert is the compensating control for the override: when it cannot be
// scheduled the error is returned alongside the persisted request, never
// silently dropped. Pending requests unlock nothing; approval is
// required.
func (r *Registry) RequestEmergencyAccess(ctx context.Context, p EmergencyAccessParams) (*EmergencyAccessRequest, error) {
	if p.RequesterID == "" || p.PatientID == "" || p.Reason == "" {
		return nil, fmt.Errorf("requester, patient and reason are required")
	}

	req := &EmergencyAccessRequest{
		ID:          "emergency_" + uuid.NewString(),
		RequesterID: p.RequesterID,
		PatientID:   p.PatientID,
		Reason:      p.Reason,
		DataType:    p.DataType,
		Urgency:     p.Urgency,
		Status:      EmergencyPending,
		CreatedAt:   r.nowFunc(),
	}

	if err := r.store.CreateEmergencyRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist emergency access request: %w", err)
	}
	metrics.EmergencyAccessRequests.WithLabelValues("requested").Inc()

	_, _ = r.auditAs(p.RequesterID).Log(ctx, audit.Record{
		Action:                audit.ActionEmergencyRequested,
		Level:                 audit.LevelCritical,
		PatientID:             p.PatientID,
		Resource:              p.DataType,
		EmergencyAccess:       true,
		SensitiveDataAccessed: false,
		BreakGlassReason:      p.Reason,
		Details: map[string]interface{}{
			"requestId": req.ID,
			"urgency":   p.Urgency,
		},
	})

	if r.notifier == nil {
		return req, fmt.Errorf("emergency alert could not be dispatched: no notifier configured")
	}
	_, err := r.notifier.Schedule(ctx, notify.Request{
		Type:       "emergency_access_alert",
		Priority:   notify.PriorityCritical,
		Channels:   []notify.Channel{notify.ChannelEmail, notify.ChannelSMS, notify.ChannelInApp},
		Recipients: r.security,
		Data: map[string]string{
			"requestId": req.ID,
			"requester": p.RequesterID,
			"patientId": p.PatientID,
			"reason":    p.Reason,
			"dataType":  p.DataType,
			"urgency":   p.Urgency,
		},
	})
	if err != nil {
		return req, fmt.Errorf("emergency alert could not be dispatched: %w", err)
	}

	return req, nil
}

// ApproveEmergencyAccess approves a pending request, opening a bounded
// access window (default 24h).
func (r *Registry) ApproveEmergencyAccess(ctx context.Context, id, approvedBy string, expiresInHours int) (*EmergencyAccessRequest, error) {
	req, err := r.store.GetEmergencyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != EmergencyPending {
		return nil, fmt.Errorf("emergency request %s is %s, only pending requests can be approved", id, req.Status)
	}

	window := DefaultEmergencyWindow
	if expiresInHours > 0 {
		window = time.Duration(expiresInHours) * time.Hour
	}

	now := r.nowFunc()
	expiresAt := now.Add(window)
	req.Status = EmergencyApproved
	req.ApprovedBy = approvedBy
	req.ApprovedAt = &now
	req.ExpiresAt = &expiresAt

	if err := r.store.UpdateEmergencyRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist emergency approval: %w", err)
	}
	metrics.EmergencyAccessRequests.WithLabelValues("approved").Inc()

	_, _ = r.auditAs(approvedBy).Log(ctx, audit.Record{
		Action:          audit.ActionEmergencyApproved,
		Level:           audit.LevelCritical,
		PatientID:       req.PatientID,
		Resource:        req.DataType,
		EmergencyAccess: true,
		Details: map[string]interface{}{
			"requestId": req.ID,
			"requester": req.RequesterID,
			"expiresAt": expiresAt.Format(time.RFC3339),
		},
	})

	return req, nil
}

// DenyEmergencyAccess denies a pending request. A denied request grants
// nothing and cannot be re-approved.
func (r *Registry) DenyEmergencyAccess(ctx context.Context, id, deniedBy, reason string) (*EmergencyAccessRequest, error) {
	req, err := r.store.GetEmergencyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != EmergencyPending {
		return nil, fmt.Errorf("emergency request %s is %s, only pending requests can be denied", id, req.Status)
	}

	req.Status = EmergencyDenied
	req.ApprovedBy = deniedBy

	if err := r.store.UpdateEmergencyRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist emergency denial: %w", err)
	}
	metrics.EmergencyAccessRequests.WithLabelValues("denied").Inc()

	_, _ = r.auditAs(deniedBy).Log(ctx, audit.Record{
		Action:          audit.ActionEmergencyDenied,
		Level:           audit.LevelWarning,
		PatientID:       req.PatientID,
		Resource:        req.DataType,
		EmergencyAccess: true,
		Details: map[string]interface{}{
			"requestId": req.ID,
			"requester": req.RequesterID,
			"reason":    reason,
		},
	})

	return req, nil
}

// CheckEmergencyAccess reports whether an approved, unexpired request
// matches the requester, patient and data type. There is no implicit
// renewal; the window closes by passage of time alone.
func (r *Registry) CheckEmergencyAccess(ctx context.Context, requesterID, patientID, dataType string) bool {
	requests, err := r.store.EmergencyRequestsByPatient(ctx, patientID)
	if err != nil {
		r.logger.Warn("emergency request lookup failed, denying",
			zap.String("patient_id", patientID),
			zap.String("error", err.Error()))
		return false
	}

	now := r.nowFunc()
	for _, req := range requests {
		if req.RequesterID == requesterID && req.DataType == dataType && req.ValidAt(now) {
			return true
		}
	}
	return false
}

// GetConsent returns a single consent record.
func (r *Registry) GetConsent(ctx context.Context, id string) (*Consent, error) {
	return r.store.GetConsent(ctx, id)
}

// ConsentsByPatient returns all consent records held for a patient.
func (r *Registry) ConsentsByPatient(ctx context.Context, patientID string) ([]*Consent, error) {
	return r.store.ConsentsByPatient(ctx, patientID)
}

// GetEmergencyRequest returns a single emergency access request.
func (r *Registry) GetEmergencyRequest(ctx context.Context, id string) (*EmergencyAccessRequest, error) {
	return r.store.GetEmergencyRequest(ctx, id)
}

// PreferenceByPatient returns the patient's stored privacy preference.
func (r *Registry) PreferenceByPatient(ctx context.Context, patientID string) (*PrivacyPreference, error) {
	return r.store.PreferenceByPatient(ctx, patientID)
}

func boolPtr(b bool) *bool { return &b }
