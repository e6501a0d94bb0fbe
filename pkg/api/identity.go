// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/audit"
	"github.com/telekom/clinical-compliance/pkg/system"
)

const (
	actorKey = "actor"
	orgKey   = "organization"
)

// Identity extracts the acting identity from the gateway-set headers.
// The API sits behind the platform gateway, which authenticates the
// caller and forwards the identity; requests without an actor id are
// rejected. A request-scoped logger carrying the identity is stored in
// the context for downstream handlers.
func Identity(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := audit.Actor{
			ID:    c.GetHeader("X-Actor-Id"),
			Name:  c.GetHeader("X-Actor-Name"),
			Email: c.GetHeader("X-Actor-Email"),
			Role:  c.GetHeader("X-Actor-Role"),
		}
		if actor.ID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing actor identity"})
			c.Abort()
			return
		}
		c.Set(actorKey, actor)

		if orgID := c.GetHeader("X-Org-Id"); orgID != "" {
			c.Set(orgKey, audit.Organization{
				ID:   orgID,
				Name: c.GetHeader("X-Org-Name"),
			})
		}

		c.Set(system.ReqLoggerKey, system.EnrichReqLoggerWithActor(c, log))

		c.Next()
	}
}

// GetActor returns the acting identity set by the Identity middleware.
func GetActor(c *gin.Context) audit.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(audit.Actor); ok {
			return actor
		}
	}
	return audit.Actor{}
}

// actorTrail derives an audit handle carrying the request's identity.
func actorTrail(c *gin.Context, trail *audit.Trail) *audit.Trail {
	t := trail.WithActor(GetActor(c))
	if v, ok := c.Get(orgKey); ok {
		if org, ok := v.(audit.Organization); ok {
			t = t.WithOrganization(org)
		}
	}
	return t
}
