package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cradlehq/cradle/pkg/config"
	"github.com/cradlehq/cradle/pkg/events"
	"github.com/cradlehq/cradle/pkg/log"
	"github.com/cradlehq/cradle/pkg/manager"
	"github.com/cradlehq/cradle/pkg/metrics"
	"github.com/cradlehq/cradle/pkg/storage"
	"github.com/cradlehq/cradle/pkg/types"
)

// Identity headers. The platform in front of cradle authenticates players
// and forwards who they are; cradle trusts these headers.
const (
	HeaderUser       = "X-Cradle-User"
	HeaderTeam       = "X-Cradle-Team"
	HeaderAdminToken = "X-Cradle-Admin-Token"
)

// Server exposes the lifecycle operations over HTTP
type Server struct {
	manager    *manager.Manager
	handle     *config.Handle
	store      storage.Store
	broker     *events.Broker
	adminToken string
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer creates the HTTP server. When adminToken is empty the admin
// routes are open; set it in any real deployment.
func NewServer(mgr *manager.Manager, handle *config.Handle, store storage.Store, broker *events.Broker, addr, adminToken string) *Server {
	s := &Server{
		manager:    mgr,
		handle:     handle,
		store:      store,
		broker:     broker,
		adminToken: adminToken,
		logger:     log.WithComponent("api"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/containers/api")
	api.POST("/request", s.request)
	api.POST("/renew", s.renew)
	api.POST("/reset", s.reset)
	api.POST("/stop", s.stop)
	api.GET("/running/:challenge_id", s.running)
	api.POST("/running", s.runningPost)

	admin := api.Group("/")
	admin.Use(s.requireAdmin())
	admin.POST("/kill", s.kill)
	admin.POST("/purge", s.purge)
	admin.GET("/images", s.images)
	admin.GET("/dashboard", s.dashboard)
	admin.GET("/settings", s.settings)
	admin.POST("/settings/update", s.updateSettings)
	admin.GET("/challenges", s.listChallenges)
	admin.POST("/challenges", s.applyChallenges)
	admin.DELETE("/challenges/:challenge_id", s.deleteChallenge)

	return router
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// observe records per-route request counts and latency
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// requireAdmin gates the admin routes behind the shared token
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminToken != "" && c.GetHeader(HeaderAdminToken) != s.adminToken {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

func scopeFrom(c *gin.Context) manager.Scope {
	return manager.Scope{
		UserID: c.GetHeader(HeaderUser),
		TeamID: c.GetHeader(HeaderTeam),
	}
}

// fail maps a lifecycle failure to its HTTP status and the plugin-style
// {"error": message} body
func (s *Server) fail(c *gin.Context, err error) {
	f, ok := manager.AsFailure(err)
	if !ok {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("unclassified error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An error has occurred"})
		return
	}

	status := http.StatusInternalServerError
	switch f.Kind {
	case manager.KindInvalidInput, manager.KindChallengeNotFound,
		manager.KindInstanceNotFound, manager.KindOtherInstanceActive:
		status = http.StatusBadRequest
	case manager.KindRuntimeUnavailable:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		s.logger.Error().Err(f.Err).Str("kind", string(f.Kind)).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": f.Message})
}

type challengeRequest struct {
	ChallengeID string `json:"chal_id" binding:"required"`
}

type killRequest struct {
	ContainerID string `json:"container_id" binding:"required"`
}

func (s *Server) request(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := s.manager.Request(c.Request.Context(), scopeFrom(c), req.ChallengeID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) renew(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := s.manager.Renew(c.Request.Context(), scopeFrom(c), req.ChallengeID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) reset(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := s.manager.Reset(c.Request.Context(), scopeFrom(c), req.ChallengeID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stop(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.manager.Stop(c.Request.Context(), scopeFrom(c), req.ChallengeID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) running(c *gin.Context) {
	res, err := s.manager.Status(c.Request.Context(), scopeFrom(c), c.Param("challenge_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) runningPost(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := s.manager.Status(c.Request.Context(), scopeFrom(c), req.ChallengeID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) kill(c *gin.Context) {
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.manager.AdminKill(c.Request.Context(), req.ContainerID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) purge(c *gin.Context) {
	report, err := s.manager.AdminPurge(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"destroyed": report.Destroyed,
		"failures":  report.Failures,
	})
}

func (s *Server) images(c *gin.Context) {
	images, err := s.manager.Images(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (s *Server) dashboard(c *gin.Context) {
	views, err := s.manager.ListInstances(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected": s.manager.Connected(c.Request.Context()),
		"instances": views,
	})
}

func (s *Server) settings(c *gin.Context) {
	c.JSON(http.StatusOK, s.handle.Snapshot().Values())
}

func (s *Server) updateSettings(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.handle.Apply(values); err != nil {
		var reconnect *config.ReconnectError
		if errors.As(err, &reconnect) {
			// Settings were saved; only the engine connection failed.
			s.broker.Publish(events.New(events.EventSettingsUpdated, "settings updated", map[string]string{
				"assignment": values[config.KeyAssignment],
				"endpoint":   values[config.KeyEndpoint],
			}))
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"warning": "Settings saved but the container engine is unreachable: " + reconnect.Err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.broker.Publish(events.New(events.EventSettingsUpdated, "settings updated", map[string]string{
		"assignment": values[config.KeyAssignment],
		"endpoint":   values[config.KeyEndpoint],
	}))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) listChallenges(c *gin.Context) {
	challenges, err := s.store.ListChallenges()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list challenges")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An error has occurred"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": challenges})
}

func (s *Server) applyChallenges(c *gin.Context) {
	var challenges []types.Challenge
	if err := c.ShouldBindJSON(&challenges); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	for _, ch := range challenges {
		if ch.ID == "" || ch.Image == "" || ch.Port <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Challenge requires id, image and a positive port"})
			return
		}
	}
	for i := range challenges {
		if err := s.store.PutChallenge(&challenges[i]); err != nil {
			s.logger.Error().Err(err).Str("challenge_id", challenges[i].ID).Msg("failed to save challenge")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "An error has occurred"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "applied": len(challenges)})
}

func (s *Server) deleteChallenge(c *gin.Context) {
	if err := s.store.DeleteChallenge(c.Param("challenge_id")); err != nil {
		s.logger.Error().Err(err).Msg("failed to delete challenge")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An error has occurred"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !s.manager.Connected(c.Request.Context()) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status})
}
