// Package api exposes the account commands to the host shell over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/launcher-accounts/accountd/internal/config"
	"github.com/launcher-accounts/accountd/internal/logging"
	"github.com/launcher-accounts/accountd/internal/manager"
	"github.com/launcher-accounts/accountd/internal/metrics"
	"github.com/launcher-accounts/accountd/internal/surface/relay"
	log "github.com/sirupsen/logrus"
)

// Server is the host command API.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	manager *manager.Manager
	relay   *relay.Manager
	access  *keyAccess
}

// NewServer builds the gin engine and registers every route. relay may be nil
// when the shell surface is not in use.
func NewServer(cfg *config.Config, mgr *manager.Manager, rel *relay.Manager) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	s := &Server{
		engine:  engine,
		manager: mgr,
		relay:   rel,
		access:  newKeyAccess(cfg.APIKeys),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		s.healthz(c)
	})
	s.engine.GET("/metrics", s.access.middleware(), gin.WrapH(metrics.Handler()))

	v0 := s.engine.Group("/v0", s.access.middleware())
	{
		auth := v0.Group("/auth")
		auth.POST("/login", s.login)
		auth.POST("/offline-login", s.offlineLogin)
		auth.GET("/users", s.listUsers)
		auth.DELETE("/users/:id", s.removeUser)
		auth.GET("/default-user", s.getDefaultUser)
		auth.PUT("/default-user", s.setDefaultUser)
		auth.GET("/account-type", s.accountType)
	}
	if s.relay != nil {
		s.engine.GET(s.relay.Path(), s.access.middleware(), gin.WrapH(s.relay.Handler()))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// UpdateConfig applies hot-reloadable settings.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.access.update(cfg.APIKeys)
	log.Debugf("api: reloaded %d api key(s)", len(cfg.APIKeys))
}

// Start serves until Stop is called; a graceful stop returns nil.
func (s *Server) Start() error {
	log.Infof("api server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.relay != nil {
		if err := s.relay.Stop(ctx); err != nil {
			log.WithError(err).Warn("api: stop surface relay")
		}
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server: shutdown: %w", err)
	}
	return nil
}
