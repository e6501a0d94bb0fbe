// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/telekom/clinical-compliance/pkg/metrics"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// exportRow is the fixed compliance-relevant field set emitted by Export.
type exportRow struct {
	ID                    string `json:"id"`
	Timestamp             string `json:"timestamp"`
	Action                string `json:"action"`
	Level                 string `json:"level"`
	ActorID               string `json:"actorId"`
	ActorRole             string `json:"actorRole"`
	PatientID             string `json:"patientId"`
	Resource              string `json:"resource"`
	SensitiveDataAccessed bool   `json:"sensitiveDataAccessed"`
	DataMasked            bool   `json:"dataMasked"`
	EmergencyAccess       bool   `json:"emergencyAccess"`
	ConsentGiven          string `json:"consentGiven"`
	HIPAACompliant        bool   `json:"hipaaCompliant"`
	GDPRCompliant         bool   `json:"gdprCompliant"`
	RetentionDays         int    `json:"retentionDays"`
	FallbackStorage       bool   `json:"fallbackStorage"`
}

var exportHeader = []string{
	"id", "timestamp", "action", "level", "actor_id", "actor_role",
	"patient_id", "resource", "sensitive_data_accessed", "data_masked",
	"emergency_access", "consent_given", "hipaa_compliant",
	"gdpr_compliant", "retention_days", "fallback_storage",
}

func toExportRow(e *Entry) exportRow {
	consentGiven := ""
	if e.ConsentGiven != nil {
		consentGiven = strconv.FormatBool(*e.ConsentGiven)
	}
	return exportRow{
		ID:                    e.ID,
		Timestamp:             e.Timestamp.Format(time.RFC3339Nano),
		Action:                string(e.Action),
		Level:                 string(e.Level),
		ActorID:               e.Actor.ID,
		ActorRole:             e.Actor.Role,
		PatientID:             e.PatientID,
		Resource:              e.Resource,
		SensitiveDataAccessed: e.SensitiveDataAccessed,
		DataMasked:            e.DataMasked,
		EmergencyAccess:       e.EmergencyAccess,
		ConsentGiven:          consentGiven,
		HIPAACompliant:        e.Compliance.HIPAACompliant,
		GDPRCompliant:         e.Compliance.GDPRCompliant,
		RetentionDays:         e.Compliance.RetentionDays,
		FallbackStorage:       e.FallbackStorage,
	}
}

// Export produces the matching entries as structured (JSON) or tabular
// (CSV) bytes for a compliance export consumer.
func (t *Trail) Export(ctx context.Context, filter Filter, format Format) ([]byte, error) {
	entries, err := t.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	rows := make([]exportRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toExportRow(e))
	}

	switch format {
	case FormatJSON, "":
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode audit export: %w", err)
		}
		metrics.AuditExports.WithLabelValues(string(FormatJSON)).Inc()
		return out, nil

	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(exportHeader); err != nil {
			return nil, fmt.Errorf("failed to write export header: %w", err)
		}
		for _, r := range rows {
			record := []string{
				r.ID, r.Timestamp, r.Action, r.Level, r.ActorID, r.ActorRole,
				r.PatientID, r.Resource,
				strconv.FormatBool(r.SensitiveDataAccessed),
				strconv.FormatBool(r.DataMasked),
				strconv.FormatBool(r.EmergencyAccess),
				r.ConsentGiven,
				strconv.FormatBool(r.HIPAACompliant),
				strconv.FormatBool(r.GDPRCompliant),
				strconv.Itoa(r.RetentionDays),
				strconv.FormatBool(r.FallbackStorage),
			}
			if err := w.Write(record); err != nil {
				return nil, fmt.Errorf("failed to write export row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("failed to flush export: %w", err)
		}
		metrics.AuditExports.WithLabelValues(string(FormatCSV)).Inc()
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unknown export format: %s", format)
	}
}
