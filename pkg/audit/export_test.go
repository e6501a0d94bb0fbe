// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportJSON(t *testing.T) {
	trail := newTestTrail(t, &memStore{})
	ctx := context.Background()

	asDoc := trail.WithActor(Actor{ID: "doc-1", Role: "doctor"})
	_, err := asDoc.LogPatientAccess(ctx, "pat-1", "lab_results", true)
	require.NoError(t, err)

	out, err := trail.Export(ctx, Filter{}, FormatJSON)
	require.NoError(t, err)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &rows))
	require.Len(t, rows, 1)

	assert.Equal(t, "patient.accessed", rows[0]["action"])
	assert.Equal(t, "doc-1", rows[0]["actorId"])
	assert.Equal(t, "doctor", rows[0]["actorRole"])
	assert.Equal(t, "pat-1", rows[0]["patientId"])
	assert.Equal(t, true, rows[0]["sensitiveDataAccessed"])
	assert.Equal(t, true, rows[0]["dataMasked"])
	assert.Equal(t, true, rows[0]["hipaaCompliant"])
	assert.EqualValues(t, 2190, rows[0]["retentionDays"])
}

func TestExportCSV(t *testing.T) {
	trail := newTestTrail(t, &memStore{})
	ctx := context.Background()

	_, err := trail.LogDataExport(ctx, "pat-1", "csv", true)
	require.NoError(t, err)
	_, err = trail.LogEmergencyAccess(ctx, "pat-2", "cardiac arrest")
	require.NoError(t, err)

	out, err := trail.Export(ctx, Filter{}, FormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header plus two rows")

	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "data.exported", records[1][2])
	assert.Equal(t, "true", records[1][11], "consent_given column")
	assert.Equal(t, "emergency.access", records[2][2])
	assert.Equal(t, "critical", records[2][3])
	assert.Equal(t, "true", records[2][10], "emergency_access column")
}

func TestExportEmptyAndUnknownFormat(t *testing.T) {
	trail := newTestTrail(t, &memStore{})
	ctx := context.Background()

	out, err := trail.Export(ctx, Filter{}, FormatJSON)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(out))

	// empty format defaults to JSON
	_, err = trail.Export(ctx, Filter{}, "")
	require.NoError(t, err)

	_, err = trail.Export(ctx, Filter{}, "xml")
	require.Error(t, err)
}

func TestExportHonorsFilter(t *testing.T) {
	trail := newTestTrail(t, &memStore{})
	ctx := context.Background()

	_, err := trail.LogPatientAccess(ctx, "pat-1", "notes", false)
	require.NoError(t, err)
	_, err = trail.LogPatientAccess(ctx, "pat-2", "notes", false)
	require.NoError(t, err)

	out, err := trail.Export(ctx, Filter{PatientID: "pat-2"}, FormatJSON)
	require.NoError(t, err)

	var rows []exportRow
	require.NoError(t, json.Unmarshal(out, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "pat-2", rows[0].PatientID)
}
