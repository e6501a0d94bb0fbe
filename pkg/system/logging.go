// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/audit"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns a fallback sugared logger derived from the provided zap.Logger.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLoggerWithActor annotates the request-scoped logger with the acting
// identity available in the Gin context. Returns a new sugared logger with the
// additional fields attached.
func EnrichReqLoggerWithActor(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if v, ok := c.Get("actor"); ok {
		if actor, ok2 := v.(audit.Actor); ok2 && actor.ID != "" {
			reqLogger = reqLogger.With("actorId", actor.ID)
			if actor.Role != "" {
				reqLogger = reqLogger.With("actorRole", actor.Role)
			}
		}
	}
	if v, ok := c.Get("organization"); ok {
		if org, ok2 := v.(audit.Organization); ok2 && org.ID != "" {
			reqLogger = reqLogger.With("orgId", org.ID)
		}
	}
	return reqLogger
}

// PatientFields returns a variadic slice of key/value pairs suitable for passing
// to SugaredLogger.With or Infow/Errorw calls. If dataType is empty it will only
// include the "patientId" key; otherwise it includes both.
func PatientFields(patientID, dataType string) []interface{} {
	if dataType == "" {
		return []interface{}{"patientId", patientID}
	}
	return []interface{}{"patientId", patientID, "dataType", dataType}
}
