// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/audit"
)

func internalServerError(c *gin.Context, err error) {
	sendError(c, http.StatusInternalServerError, err)
}

func sendError(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{
		"error": err.Error(),
	})
}

// AuditController serves audit trail reads and compliance exports.
type AuditController struct {
	trail    *audit.Trail
	handlers []gin.HandlerFunc
	log      *zap.SugaredLogger
}

func NewAuditController(trail *audit.Trail, log *zap.SugaredLogger, handlers ...gin.HandlerFunc) *AuditController {
	return &AuditController{
		trail:    trail,
		handlers: handlers,
		log:      log.Named("audit-api"),
	}
}

func (a *AuditController) BasePath() string { return "audit" }

func (a *AuditController) Handlers() []gin.HandlerFunc { return a.handlers }

func (a *AuditController) Register(rg *gin.RouterGroup) error {
	rg.GET("/entries", a.queryEntries)
	rg.GET("/export", a.exportEntries)
	rg.GET("/health", a.alertHealth)
	return nil
}

func parseFilter(c *gin.Context) (audit.Filter, error) {
	filter := audit.Filter{
		Action:    audit.Action(c.Query("action")),
		Level:     audit.Level(c.Query("level")),
		ActorID:   c.Query("actorId"),
		PatientID: c.Query("patientId"),
	}

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid 'from' timestamp: %v", err)
		}
		filter.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid 'to' timestamp: %v", err)
		}
		filter.To = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid 'limit': %s", v)
		}
		filter.Limit = n
	}
	return filter, nil
}

func (a *AuditController) queryEntries(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	entries, err := a.trail.Query(c, filter)
	if err != nil {
		internalServerError(c, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (a *AuditController) exportEntries(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	format := audit.Format(c.DefaultQuery("format", string(audit.FormatJSON)))
	data, err := a.trail.Export(c, filter, format)
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	// exports are themselves audited
	_, _ = actorTrail(c, a.trail).Log(c, audit.Record{
		Action:                audit.ActionDataExported,
		PatientID:             filter.PatientID,
		Resource:              "audit_export",
		SensitiveDataAccessed: true,
		Details:               map[string]interface{}{"format": string(format)},
	})

	switch format {
	case audit.FormatCSV:
		c.Header("Content-Disposition", `attachment; filename="audit_export.csv"`)
		c.Data(http.StatusOK, "text/csv", data)
	default:
		c.Data(http.StatusOK, "application/json", data)
	}
}

func (a *AuditController) alertHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"bufferedEntries": a.trail.BufferLen(),
		"alerts":          a.trail.AlertHealth(),
	})
}
