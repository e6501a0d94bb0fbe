// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/consent"
	"github.com/telekom/clinical-compliance/pkg/system"
)

// ConsentController serves consent lifecycle, access decisions and the
// GDPR export/delete operations.
type ConsentController struct {
	registry *consent.Registry
	handlers []gin.HandlerFunc
	log      *zap.SugaredLogger

	standardLimit []gin.HandlerFunc
	decisionLimit []gin.HandlerFunc
}

func NewConsentController(registry *consent.Registry, log *zap.SugaredLogger, handlers ...gin.HandlerFunc) *ConsentController {
	return &ConsentController{
		registry: registry,
		handlers: handlers,
		log:      log.Named("consent-api"),
	}
}

// WithRateLimits sets the middleware applied to the consent routes and
// a separate middleware for the access-decision route, which is hit on
// nearly every record read and needs much higher limits.
func (cc *ConsentController) WithRateLimits(standard, decision gin.HandlerFunc) *ConsentController {
	cc.standardLimit = []gin.HandlerFunc{standard}
	cc.decisionLimit = []gin.HandlerFunc{decision}
	return cc
}

func (cc *ConsentController) BasePath() string { return "consent" }

func (cc *ConsentController) Handlers() []gin.HandlerFunc { return cc.handlers }

func (cc *ConsentController) Register(rg *gin.RouterGroup) error {
	std := rg.Group("", cc.standardLimit...)
	std.POST("/", cc.createConsent)
	std.GET("/:id", cc.getConsent)
	std.PATCH("/:id", cc.updateConsent)
	std.POST("/:id/revoke", cc.revokeConsent)
	std.GET("/patient/:patientId", cc.listByPatient)

	std.PUT("/preferences/:patientId", cc.savePreference)
	std.GET("/preferences/:patientId", cc.getPreference)

	std.POST("/emergency", cc.requestEmergency)
	std.GET("/emergency/:id", cc.getEmergency)
	std.POST("/emergency/:id/approve", cc.approveEmergency)
	std.POST("/emergency/:id/deny", cc.denyEmergency)

	std.POST("/patient/:patientId/export", cc.exportPatientData)
	std.DELETE("/patient/:patientId", cc.deletePatientData)

	decision := rg.Group("", cc.decisionLimit...)
	decision.GET("/access-decision", cc.accessDecision)
	return nil
}

type createConsentRequest struct {
	PatientID   string     `json:"patientId" binding:"required"`
	Type        string     `json:"consentType" binding:"required"`
	Title       string     `json:"title"`
	Details     string     `json:"details"`
	WitnessName string     `json:"witnessName"`
	ExpiryDate  *time.Time `json:"expiryDate"`
	Conditions  []string   `json:"conditions"`
}

func (cc *ConsentController) createConsent(c *gin.Context) {
	var req createConsentRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}

	created, err := cc.registry.CreateConsent(c, consent.CreateConsentParams{
		PatientID:   req.PatientID,
		Type:        req.Type,
		Title:       req.Title,
		Details:     req.Details,
		ObtainedBy:  GetActor(c).ID,
		WitnessName: req.WitnessName,
		ExpiryDate:  req.ExpiryDate,
		Conditions:  req.Conditions,
	})
	if err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (cc *ConsentController) getConsent(c *gin.Context) {
	got, err := cc.registry.GetConsent(c, c.Param("id"))
	if err != nil {
		notFoundOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

type updateConsentRequest struct {
	Title      *string    `json:"title"`
	Details    *string    `json:"details"`
	ExpiryDate *time.Time `json:"expiryDate"`
	Conditions []string   `json:"conditions"`
}

func (cc *ConsentController) updateConsent(c *gin.Context) {
	var req updateConsentRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}

	updated, err := cc.registry.UpdateConsent(c, c.Param("id"), consent.UpdateConsentParams{
		Title:      req.Title,
		Details:    req.Details,
		ExpiryDate: req.ExpiryDate,
		Conditions: req.Conditions,
		UpdatedBy:  GetActor(c).ID,
	})
	if err != nil {
		notFoundOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type revokeConsentRequest struct {
	Reason string `json:"reason"`
}

func (cc *ConsentController) revokeConsent(c *gin.Context) {
	var req revokeConsentRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}

	revoked, err := cc.registry.RevokeConsent(c, c.Param("id"), req.Reason, GetActor(c).ID)
	if err != nil {
		notFoundOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, revoked)
}

func (cc *ConsentController) listByPatient(c *gin.Context) {
	consents, err := cc.registry.ConsentsByPatient(c, c.Param("patientId"))
	if err != nil {
		internalServerError(c, err)
		return
	}
	if consents == nil {
		consents = []*consent.Consent{}
	}
	c.JSON(http.StatusOK, consents)
}

type accessDecisionResponse struct {
	PatientID   string              `json:"patientId"`
	DataType    string              `json:"dataType"`
	AccessLevel consent.AccessLevel `json:"accessLevel"`
}

func (cc *ConsentController) accessDecision(c *gin.Context) {
	patientID := c.Query("patientId")
	dataType := c.Query("dataType")
	if patientID == "" || dataType == "" {
		sendError(c, http.StatusBadRequest, errors.New("patientId and dataType are required"))
		return
	}

	level := cc.registry.CheckDataAccess(c, GetActor(c), patientID, dataType, c.Query("action"))
	c.JSON(http.StatusOK, accessDecisionResponse{
		PatientID:   patientID,
		DataType:    dataType,
		AccessLevel: level,
	})
}

func (cc *ConsentController) savePreference(c *gin.Context) {
	var pref consent.PrivacyPreference
	if err := c.BindJSON(&pref); err != nil {
		return
	}
	pref.PatientID = c.Param("patientId")

	if err := cc.registry.SavePreference(c, &pref); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (cc *ConsentController) getPreference(c *gin.Context) {
	pref, err := cc.registry.PreferenceByPatient(c, c.Param("patientId"))
	if err != nil {
		notFoundOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

type emergencyAccessRequest struct {
	PatientID string `json:"patientId" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
	DataType  string `json:"dataType"`
	Urgency   string `json:"urgency"`
}

func (cc *ConsentController) requestEmergency(c *gin.Context) {
	var req emergencyAccessRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}

	created, err := cc.registry.RequestEmergencyAccess(c, consent.EmergencyAccessParams{
		RequesterID: GetActor(c).ID,
		PatientID:   req.PatientID,
		Reason:      req.Reason,
		DataType:    req.DataType,
		Urgency:     req.Urgency,
	})
	if err != nil {
		if created != nil {
			// The request is on file but the security alert could not
			// be raised; surface both to the caller.
			fields := append(system.PatientFields(req.PatientID, req.DataType),
				"requestId", created.ID, "error", err)
			system.GetReqLogger(c, cc.log).Errorw("emergency access alert failed", fields...)
			c.JSON(http.StatusCreated, gin.H{
				"request": created,
				"warning": err.Error(),
			})
			return
		}
		sendError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": created})
}

func (cc *ConsentController) getEmergency(c *gin.Context) {
	req, err := cc.registry.GetEmergencyRequest(c, c.Param("id"))
	if err != nil {
		notFoundOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type approveEmergencyRequest struct {
	ExpiresInHours int `json:"expiresInHours"`
}

func (cc *ConsentController) approveEmergency(c *gin.Context) {
	var req approveEmergencyRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}

	approved, err := cc.registry.ApproveEmergencyAccess(c, c.Param("id"), GetActor(c).ID, req.ExpiresInHours)
	if err != nil {
		notFoundOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, approved)
}

type denyEmergencyRequest struct {
	Reason string `json:"reason"`
}

func (cc *ConsentController) denyEmergency(c *gin.Context) {
	var req denyEmergencyRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}

	denied, err := cc.registry.DenyEmergencyAccess(c, c.Param("id"), GetActor(c).ID, req.Reason)
	if err != nil {
		notFoundOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, denied)
}

func (cc *ConsentController) exportPatientData(c *gin.Context) {
	export, err := cc.registry.ExportPatientData(c, c.Param("patientId"), GetActor(c).ID)
	if err != nil {
		if errors.Is(err, consent.ErrConsentRequired) {
			sendError(c, http.StatusForbidden, err)
			return
		}
		internalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

func (cc *ConsentController) deletePatientData(c *gin.Context) {
	reason := c.Query("reason")
	err := cc.registry.DeletePatientData(c, c.Param("patientId"), GetActor(c).ID, reason)
	if err != nil {
		if errors.Is(err, consent.ErrConsentRequired) {
			sendError(c, http.StatusForbidden, err)
			return
		}
		internalServerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func notFoundOrInternal(c *gin.Context, err error) {
	if errors.Is(err, consent.ErrNotFound) {
		sendError(c, http.StatusNotFound, err)
		return
	}
	internalServerError(c, err)
}
