// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/notify"
)

// NotificationController serves notification scheduling and status.
type NotificationController struct {
	dispatcher *notify.Dispatcher
	handlers   []gin.HandlerFunc
	log        *zap.SugaredLogger
}

func NewNotificationController(dispatcher *notify.Dispatcher, log *zap.SugaredLogger, handlers ...gin.HandlerFunc) *NotificationController {
	return &NotificationController{
		dispatcher: dispatcher,
		handlers:   handlers,
		log:        log.Named("notify-api"),
	}
}

func (n *NotificationController) BasePath() string { return "notifications" }

func (n *NotificationController) Handlers() []gin.HandlerFunc { return n.handlers }

func (n *NotificationController) Register(rg *gin.RouterGroup) error {
	rg.POST("/", n.schedule)
	rg.GET("/:id", n.status)
	rg.DELETE("/:id", n.cancel)
	return nil
}

type scheduleRequest struct {
	Type         string            `json:"type" binding:"required"`
	Priority     string            `json:"priority"`
	Channels     []string          `json:"channels" binding:"required"`
	Recipients   []string          `json:"recipients" binding:"required"`
	Data         map[string]string `json:"data"`
	ScheduledFor *time.Time        `json:"scheduledFor"`
}

func (n *NotificationController) schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.BindJSON(&req); err != nil {
		return
	}

	channels := make([]notify.Channel, 0, len(req.Channels))
	for _, ch := range req.Channels {
		channels = append(channels, notify.Channel(ch))
	}

	r := notify.Request{
		Type:       req.Type,
		Priority:   notify.Priority(req.Priority),
		Channels:   channels,
		Recipients: req.Recipients,
		Data:       req.Data,
	}
	if req.ScheduledFor != nil {
		r.ScheduledFor = *req.ScheduledFor
	}

	created, err := n.dispatcher.Schedule(c, r)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidRequest) {
			sendError(c, http.StatusBadRequest, err)
			return
		}
		sendError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (n *NotificationController) status(c *gin.Context) {
	got, err := n.dispatcher.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			sendError(c, http.StatusNotFound, err)
			return
		}
		internalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

func (n *NotificationController) cancel(c *gin.Context) {
	got, err := n.dispatcher.Cancel(c, c.Param("id"))
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			sendError(c, http.StatusNotFound, err)
			return
		}
		internalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}
