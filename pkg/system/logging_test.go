// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/audit"
)

func TestGetReqLoggerFallbackWhenContextNil(t *testing.T) {
	fallback := zap.NewNop().Sugar()
	require.Same(t, fallback, GetReqLogger(nil, fallback))
}

func TestGetReqLoggerFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	stored := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, stored)
	require.Same(t, stored, GetReqLogger(ctx, fallback))
}

func TestGetReqLoggerIgnoresInvalidTypes(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, "not-a-logger")
	require.Same(t, fallback, GetReqLogger(ctx, fallback))
}

func TestEnrichReqLoggerWithActorAddsFields(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Set("actor", audit.Actor{ID: "doc-1", Role: "doctor"})
	ctx.Set("organization", audit.Organization{ID: "org-1"})

	logger, recorded := NewObservedLogger(zap.DebugLevel)
	enriched := EnrichReqLoggerWithActor(ctx, logger.Sugar())
	enriched.Infow("final-log")

	entries := recorded.All()
	require.Len(t, entries, 1)

	infoCtx := entries[0].ContextMap()
	require.Equal(t, "doc-1", infoCtx["actorId"])
	require.Equal(t, "doctor", infoCtx["actorRole"])
	require.Equal(t, "org-1", infoCtx["orgId"])
}

func TestEnrichReqLoggerWithActorHandlesNil(t *testing.T) {
	sugar := zap.NewNop().Sugar()
	require.Same(t, sugar, EnrichReqLoggerWithActor(nil, sugar))
	require.Nil(t, EnrichReqLoggerWithActor(&gin.Context{}, nil))
}

func TestPatientFields(t *testing.T) {
	require.Equal(t, []interface{}{"patientId", "pat-1"}, PatientFields("pat-1", ""))
	require.Equal(t,
		[]interface{}{"patientId", "pat-1", "dataType", "lab_results"},
		PatientFields("pat-1", "lab_results"))
}
