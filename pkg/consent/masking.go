// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"strings"

	"github.com/telekom/clinical-compliance/pkg/audit"
)

// MaskingRules maps role -> dataType -> the fields redacted at the
// "limited" access level. Rules are lookup data and can be replaced per
// deployment through RegistryConfig.
type MaskingRules map[string]map[string][]string

var defaultMaskingRules = MaskingRules{
	"nurse": {
		"medical_records": {"ssn", "insuranceNumber", "billingAmount"},
		"mental_health":   {"diagnosis", "therapyNotes", "medications"},
		"lab_results":     {"geneticMarkers"},
	},
	"pharmacist": {
		"medical_records": {"ssn", "insuranceNumber", "diagnosis", "billingAmount"},
	},
	"lab_tech": {
		"medical_records": {"ssn", "insuranceNumber", "diagnosis", "medications", "billingAmount"},
	},
	"billing": {
		"medical_records": {"diagnosis", "medications", "therapyNotes", "labValues"},
		"lab_results":     {"labValues", "geneticMarkers"},
	},
	"receptionist": {
		"medical_records": {"ssn", "diagnosis", "medications", "therapyNotes", "labValues", "insuranceNumber", "billingAmount"},
	},
}

// ApplyDataMasking returns the record as the role may see it: nil when
// access is none, a redacted deep copy at limited access, the record
// unchanged otherwise. The source record is never mutated.
func (r *Registry) ApplyDataMasking(ctx context.Context, record map[string]interface{}, actor audit.Actor, patientID, dataType string) map[string]interface{} {
	if record == nil {
		return nil
	}

	level := r.CheckDataAccess(ctx, actor, patientID, dataType, "view")
	switch level {
	case AccessNone:
		return nil
	case AccessLimited:
		masked := maskRecord(record, r.maskedFields(actor.Role, dataType))
		_, _ = r.trail.WithActor(actor).Log(ctx, audit.Record{
			Action:                audit.ActionDataMaskingApplied,
			PatientID:             patientID,
			Resource:              dataType,
			SensitiveDataAccessed: true,
			DataMasked:            true,
		})
		return masked
	default:
		return record
	}
}

func (r *Registry) maskedFields(role, dataType string) []string {
	byDataType, ok := r.masking[role]
	if !ok {
		return nil
	}
	return byDataType[dataType]
}

// maskRecord deep-copies the record and redacts the named top-level
// fields.
func maskRecord(record map[string]interface{}, fields []string) map[string]interface{} {
	out := deepCopy(record)
	for _, field := range fields {
		v, ok := out[field]
		if !ok {
			continue
		}
		out[field] = maskValue(v)
	}
	return out
}

func maskValue(v interface{}) interface{} {
	switch s := v.(type) {
	case string:
		return maskString(s)
	default:
		// Numbers and anything else non-string redact fully.
		return "***"
	}
}

// maskString keeps the first and last two characters of strings longer
// than four characters; at four or fewer the visible characters would be
// the whole value, so those redact fully.
func maskString(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func deepCopy(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch nested := v.(type) {
		case map[string]interface{}:
			out[k] = deepCopy(nested)
		case []interface{}:
			cp := make([]interface{}, len(nested))
			copy(cp, nested)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
