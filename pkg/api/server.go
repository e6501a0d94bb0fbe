// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/clinical-compliance/pkg/config"
	"github.com/telekom/clinical-compliance/pkg/version"
)

// APIController is a mountable group of routes.
type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin    *gin.Engine
	http   *http.Server
	config config.Config
	log    *zap.Logger
}

func NewServer(log *zap.Logger, cfg config.Config, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)

	if len(cfg.Server.TrustedProxies) > 0 {
		_ = engine.SetTrustedProxies(cfg.Server.TrustedProxies)
	}

	if debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: []string{"http://localhost:5173", "127.0.0.1:8080"},
				AllowMethods: []string{"GET", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Authorization", "Content-Type",
					"X-Actor-Id", "X-Actor-Name", "X-Actor-Email", "X-Actor-Role",
					"X-Org-Id", "X-Org-Name"},
				MaxAge: 12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:    engine,
		config: cfg,
		log:    log,
	}

	engine.GET("api/healthz", s.healthz)
	engine.GET("api/version", s.getVersion)

	return s
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Listen serves until Shutdown is called. http.ErrServerClosed is
// swallowed; everything else is returned.
func (s *Server) Listen() error {
	s.http = &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("API server listening", zap.String("address", s.config.Server.ListenAddress))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Engine exposes the underlying router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.gin
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetBuildInfo())
}
