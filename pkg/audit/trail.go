// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/metrics"
)

// ErrMissingAction is returned by Log when the record has no action. It
// is the only hard precondition error on the logging path; persistence
// failures degrade to local buffering instead.
var ErrMissingAction = errors.New("audit record requires an action")

const defaultRetentionYears = 6

// TrailConfig configures a Trail.
type TrailConfig struct {
	// BufferSize bounds the local fallback buffer. Default: 1000
	BufferSize int

	// RetentionYears is the base retention period applied to entries;
	// doubled for critical entries. Default: 6
	RetentionYears int
}

// Trail is the append-only, compliance-tagged audit log. It is safe for
// concurrent use from many goroutines without external coordination.
//
// Ambient identity is handle-scoped: WithActor and WithOrganization
// return derived handles sharing the same store, buffer and alert
// publisher, so concurrent callers can never clobber each other's
// identity.
type Trail struct {
	store   Store
	buffer  *buffer
	alerts  *AlertPublisher
	logger  *zap.Logger
	env     map[string]string
	config  TrailConfig
	nowFunc func() time.Time

	// Handle-scoped ambient context, merged into every entry logged
	// through this handle.
	actor *Actor
	org   *Organization
}

// TrailOption customizes a Trail at construction.
type TrailOption func(*Trail)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) TrailOption {
	return func(t *Trail) { t.nowFunc = now }
}

// NewTrail creates an audit trail over the given durable store. The
// alert publisher may be nil, in which case critical entries raise no
// real-time alert.
func NewTrail(store Store, alerts *AlertPublisher, cfg TrailConfig, logger *zap.Logger, opts ...TrailOption) *Trail {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.RetentionYears <= 0 {
		cfg.RetentionYears = defaultRetentionYears
	}

	t := &Trail{
		store:   store,
		buffer:  newBuffer(cfg.BufferSize),
		alerts:  alerts,
		logger:  logger.Named("audit-trail"),
		env:     snapshotEnvironment(),
		config:  cfg,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// snapshotEnvironment captures a best-effort process snapshot once at
// construction so Log never blocks on environment discovery.
func snapshotEnvironment() map[string]string {
	env := map[string]string{
		"pid": strconv.Itoa(os.Getpid()),
	}
	if hostname, err := os.Hostname(); err == nil {
		env["hostname"] = hostname
	}
	return env
}

// WithActor returns a derived handle whose entries carry the given actor
// identity. The original handle is unchanged.
func (t *Trail) WithActor(actor Actor) *Trail {
	derived := *t
	derived.actor = &actor
	return &derived
}

// WithOrganization returns a derived handle whose entries carry the
// given organization context.
func (t *Trail) WithOrganization(org Organization) *Trail {
	derived := *t
	derived.org = &org
	return &derived
}

// Log appends an immutable entry. Only a missing action is an error;
// durable-write failures keep the entry in the local buffer, tagged
// FallbackStorage, and never propagate to the caller.
func (t *Trail) Log(ctx context.Context, rec Record) (*Entry, error) {
	if rec.Action == "" {
		return nil, ErrMissingAction
	}

	level := rec.Level
	if level == "" {
		level = LevelInfo
	}

	now := t.nowFunc()
	entry := &Entry{
		ID:        newEntryID(now),
		SessionID: rec.SessionID,
		Timestamp: now,
		Action:    rec.Action,
		Level:     level,

		Resource:   rec.Resource,
		ResourceID: rec.ResourceID,
		PatientID:  rec.PatientID,

		SensitiveDataAccessed: rec.SensitiveDataAccessed,
		DataMasked:            rec.DataMasked,
		EmergencyAccess:       rec.EmergencyAccess,
		BreakGlassReason:      rec.BreakGlassReason,
		ConsentGiven:          rec.ConsentGiven,

		ComplianceFlags: rec.ComplianceFlags,
		Details:         rec.Details,
		Environment:     t.env,
	}

	if t.actor != nil {
		entry.Actor = *t.actor
	}
	if t.org != nil {
		entry.Organization = *t.org
	}

	entry.Compliance = t.complianceMetadata(entry)

	if err := t.store.Append(ctx, entry); err != nil {
		entry.FallbackStorage = true
		metrics.AuditFallbackWrites.Inc()
		t.logger.Warn("durable audit write failed, entry kept in local buffer",
			zap.String("entry_id", entry.ID),
			zap.String("action", string(entry.Action)),
			zap.String("error", err.Error()))
	}

	t.buffer.Append(entry)
	metrics.AuditEntriesLogged.WithLabelValues(string(entry.Level)).Inc()

	if t.alerts != nil && (entry.Level == LevelCritical || entry.EmergencyAccess) {
		t.alerts.Publish(entry)
	}

	return entry, nil
}

// complianceMetadata derives the entry's compliance tags.
func (t *Trail) complianceMetadata(e *Entry) ComplianceMetadata {
	retentionDays := t.config.RetentionYears * 365
	if e.Level == LevelCritical {
		retentionDays *= 2
	}
	return ComplianceMetadata{
		HIPAACompliant: IsSensitiveAccessAction(e.Action) && e.SensitiveDataAccessed,
		GDPRCompliant:  IsConsentRelevantAction(e.Action) && e.ConsentGiven != nil,
		RetentionDays:  retentionDays,
		Immutable:      true,
	}
}

// newEntryID combines a nanosecond timestamp with a random component so
// ids stay unique under concurrent logging.
func newEntryID(now time.Time) string {
	return fmt.Sprintf("audit_%d_%s", now.UnixNano(), uuid.NewString()[:8])
}

// Query returns entries matching the filter in append order. When the
// durable store cannot serve the read, the local buffer answers instead;
// reads degrade, they never fail.
func (t *Trail) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	entries, err := t.store.Query(ctx, filter)
	if err == nil {
		return entries, nil
	}

	t.logger.Warn("durable audit query failed, serving from local buffer",
		zap.String("error", err.Error()))

	var out []*Entry
	for _, e := range t.buffer.Snapshot() {
		if filter.Matches(e) {
			out = append(out, e)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out, nil
}

// BufferLen reports how many entries the local buffer currently holds.
func (t *Trail) BufferLen() int {
	return t.buffer.Len()
}

// AlertHealth returns the alert publisher health snapshot, or a zero
// snapshot when alerting is disabled.
func (t *Trail) AlertHealth() AlertPublisherHealth {
	if t.alerts == nil {
		return AlertPublisherHealth{}
	}
	return t.alerts.Health()
}

// Close shuts down the alert publisher if one is attached.
func (t *Trail) Close() error {
	if t.alerts != nil {
		return t.alerts.Close()
	}
	return nil
}

// LogPatientAccess records a read of a patient's data.
func (t *Trail) LogPatientAccess(ctx context.Context, patientID, resource string, masked bool) (*Entry, error) {
	return t.Log(ctx, Record{
		Action:                ActionPatientAccessed,
		Level:                 LevelInfo,
		PatientID:             patientID,
		Resource:              resource,
		SensitiveDataAccessed: true,
		DataMasked:            masked,
	})
}

// LogEmergencyAccess records an emergency override access.
func (t *Trail) LogEmergencyAccess(ctx context.Context, patientID, reason string) (*Entry, error) {
	return t.Log(ctx, Record{
		Action:                ActionEmergencyAccess,
		Level:                 LevelCritical,
		PatientID:             patientID,
		SensitiveDataAccessed: true,
		EmergencyAccess:       true,
		Details:               map[string]interface{}{"reason": reason},
	})
}

// LogBreakGlassAccess records a break-glass access with its mandatory
// justification.
func (t *Trail) LogBreakGlassAccess(ctx context.Context, patientID, reason string) (*Entry, error) {
	return t.Log(ctx, Record{
		Action:                ActionBreakGlassAccess,
		Level:                 LevelCritical,
		PatientID:             patientID,
		SensitiveDataAccessed: true,
		EmergencyAccess:       true,
		BreakGlassReason:      reason,
		ComplianceFlags:       []string{"break_glass"},
	})
}

// LogDataExport records a GDPR-relevant data export.
func (t *Trail) LogDataExport(ctx context.Context, patientID, format string, consentGiven bool) (*Entry, error) {
	return t.Log(ctx, Record{
		Action:                ActionDataExported,
		Level:                 LevelInfo,
		PatientID:             patientID,
		SensitiveDataAccessed: true,
		ConsentGiven:          &consentGiven,
		ComplianceFlags:       []string{"gdpr"},
		Details:               map[string]interface{}{"format": format},
	})
}

// LogConsentChange records a consent lifecycle change.
func (t *Trail) LogConsentChange(ctx context.Context, action Action, patientID, consentID string, consentGiven bool) (*Entry, error) {
	return t.Log(ctx, Record{
		Action:       action,
		Level:        LevelInfo,
		PatientID:    patientID,
		ResourceID:   consentID,
		Resource:     "consent",
		ConsentGiven: &consentGiven,
	})
}
