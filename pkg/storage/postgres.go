// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/telekom/clinical-compliance/pkg/audit"
	"github.com/telekom/clinical-compliance/pkg/consent"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id         TEXT PRIMARY KEY,
	ts         TIMESTAMPTZ NOT NULL,
	action     TEXT NOT NULL,
	level      TEXT NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	patient_id TEXT NOT NULL DEFAULT '',
	entry      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries (ts);
CREATE INDEX IF NOT EXISTS idx_audit_entries_patient ON audit_entries (patient_id) WHERE patient_id <> '';
CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries (actor_id) WHERE actor_id <> '';
`

// PostgresAuditStore is the durable audit.Store. Entries are stored as
// JSONB documents with the filterable fields lifted into indexed
// columns. Rows are insert-only; there is no update or delete path.
type PostgresAuditStore struct {
	db *sql.DB
}

func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// EnsureSchema creates the audit tables and indexes if missing.
func (s *PostgresAuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) Append(ctx context.Context, e *audit.Entry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, ts, action, level, actor_id, patient_id, entry)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Timestamp, string(e.Action), string(e.Level), e.Actor.ID, e.PatientID, doc)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) Query(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.Level != "" {
		add("level = $%d", string(filter.Level))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.PatientID != "" {
		add("patient_id = $%d", filter.PatientID)
	}
	if !filter.From.IsZero() {
		add("ts >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("ts <= $%d", filter.To)
	}

	query := "SELECT entry FROM audit_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		var e audit.Entry
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return out, nil
}

const consentSchema = `
CREATE TABLE IF NOT EXISTS consents (
	id         TEXT PRIMARY KEY,
	patient_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consents_patient ON consents (patient_id);

CREATE TABLE IF NOT EXISTS privacy_preferences (
	patient_id TEXT PRIMARY KEY,
	doc        JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS emergency_requests (
	id         TEXT PRIMARY KEY,
	patient_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_emergency_requests_patient ON emergency_requests (patient_id);
`

// PostgresConsentStore is the durable consent.Store.
type PostgresConsentStore struct {
	db *sql.DB
}

func NewPostgresConsentStore(db *sql.DB) *PostgresConsentStore {
	return &PostgresConsentStore{db: db}
}

// EnsureSchema creates the consent tables and indexes if missing.
func (s *PostgresConsentStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, consentSchema); err != nil {
		return fmt.Errorf("failed to create consent schema: %w", err)
	}
	return nil
}

func (s *PostgresConsentStore) CreateConsent(ctx context.Context, c *consent.Consent) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal consent: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consents (id, patient_id, created_at, doc) VALUES ($1, $2, $3, $4)`,
		c.ID, c.PatientID, c.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("failed to insert consent: %w", err)
	}
	return nil
}

func (s *PostgresConsentStore) UpdateConsent(ctx context.Context, c *consent.Consent) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal consent: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE consents SET doc = $2 WHERE id = $1`, c.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to update consent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("consent %s: %w", c.ID, consent.ErrNotFound)
	}
	return nil
}

func (s *PostgresConsentStore) GetConsent(ctx context.Context, id string) (*consent.Consent, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM consents WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consent %s: %w", id, consent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	var c consent.Consent
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal consent: %w", err)
	}
	return &c, nil
}

func (s *PostgresConsentStore) ConsentsByPatient(ctx context.Context, patientID string) ([]*consent.Consent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM consents WHERE patient_id = $1 ORDER BY created_at ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	var out []*consent.Consent
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan consent: %w", err)
		}
		var c consent.Consent
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal consent: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresConsentStore) SavePreference(ctx context.Context, p *consent.PrivacyPreference) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal privacy preference: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO privacy_preferences (patient_id, doc) VALUES ($1, $2)
		 ON CONFLICT (patient_id) DO UPDATE SET doc = EXCLUDED.doc`,
		p.PatientID, doc)
	if err != nil {
		return fmt.Errorf("failed to save privacy preference: %w", err)
	}
	return nil
}

func (s *PostgresConsentStore) PreferenceByPatient(ctx context.Context, patientID string) (*consent.PrivacyPreference, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM privacy_preferences WHERE patient_id = $1`, patientID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preference for patient %s: %w", patientID, consent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get privacy preference: %w", err)
	}
	var p consent.PrivacyPreference
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal privacy preference: %w", err)
	}
	return &p, nil
}

func (s *PostgresConsentStore) CreateEmergencyRequest(ctx context.Context, r *consent.EmergencyAccessRequest) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal emergency request: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO emergency_requests (id, patient_id, created_at, doc) VALUES ($1, $2, $3, $4)`,
		r.ID, r.PatientID, r.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("failed to insert emergency request: %w", err)
	}
	return nil
}

func (s *PostgresConsentStore) UpdateEmergencyRequest(ctx context.Context, r *consent.EmergencyAccessRequest) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal emergency request: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE emergency_requests SET doc = $2 WHERE id = $1`, r.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to update emergency request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("emergency request %s: %w", r.ID, consent.ErrNotFound)
	}
	return nil
}

func (s *PostgresConsentStore) GetEmergencyRequest(ctx context.Context, id string) (*consent.EmergencyAccessRequest, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM emergency_requests WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("emergency request %s: %w", id, consent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get emergency request: %w", err)
	}
	var r consent.EmergencyAccessRequest
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal emergency request: %w", err)
	}
	return &r, nil
}

func (s *PostgresConsentStore) EmergencyRequestsByPatient(ctx context.Context, patientID string) ([]*consent.EmergencyAccessRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM emergency_requests WHERE patient_id = $1 ORDER BY created_at ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency requests: %w", err)
	}
	defer rows.Close()

	var out []*consent.EmergencyAccessRequest
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan emergency request: %w", err)
		}
		var r consent.EmergencyAccessRequest
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal emergency request: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DeletePatientData removes the patient's consents and privacy
// preference in one transaction. Emergency request rows stay; they
// document access that already happened.
func (s *PostgresConsentStore) DeletePatientData(ctx context.Context, patientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM consents WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("failed to delete consents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM privacy_preferences WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("failed to delete privacy preference: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete transaction: %w", err)
	}
	return nil
}
