// Package api exposes the command surface and health probes over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"price-move-alerts/internal/commands"
)

// Server routes HTTP requests to the command handler.
type Server struct {
	router   *gin.Engine
	commands *commands.Handler
	health   *Health
	logger   zerolog.Logger
}

type startRequest struct {
	Token string `json:"token" binding:"required"`
}

type broadcastRequest struct {
	Message string `json:"message"`
}

// NewServer builds the gin engine.
func NewServer(cmds *commands.Handler, health *Health, logger zerolog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())

	s := &Server{
		router:   r,
		commands: cmds,
		health:   health,
		logger:   logger.With().Str("component", "api").Logger(),
	}
	r.Use(requestLogger(s.logger))
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	for _, path := range []string{"/health", "/healthz"} {
		s.router.GET(path, s.healthz)
	}
	for _, path := range []string{"/ready", "/readiness"} {
		s.router.GET(path, s.ready)
	}
	for _, path := range []string{"/live", "/liveness"} {
		s.router.GET(path, s.live)
	}

	v1 := s.router.Group("/v1")
	v1.Use(requireCaller())
	{
		v1.GET("/monitors", s.status)
		v1.POST("/monitors", s.start)
		v1.DELETE("/monitors", s.stopAll)
		v1.DELETE("/monitors/:token", s.stop)
		v1.GET("/stats", s.stats)
		v1.POST("/broadcast", s.broadcast)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, s.health.Snapshot())
}

func (s *Server) ready(c *gin.Context) {
	snap := s.health.Snapshot()
	if !s.health.Ready() {
		snap.Status = "starting"
		c.JSON(http.StatusServiceUnavailable, snap)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "token is required"})
		return
	}
	res, err := s.commands.Start(c.Request.Context(), c.GetString(callerKey), req.Token)
	if err != nil {
		if errors.Is(err, commands.ErrAlreadyMonitoring) && res.Monitor.Token != "" {
			s.fail(c, err, gin.H{"monitor": res.Monitor})
			return
		}
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) stop(c *gin.Context) {
	res, err := s.commands.Stop(c.Request.Context(), c.GetString(callerKey), c.Param("token"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stopAll(c *gin.Context) {
	n, err := s.commands.StopAll(c.Request.Context(), c.GetString(callerKey))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": n})
}

func (s *Server) status(c *gin.Context) {
	res, err := s.commands.Status(c.Request.Context(), c.GetString(callerKey))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stats(c *gin.Context) {
	res, err := s.commands.Stats(c.Request.Context(), c.GetString(callerKey))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "message is required"})
		return
	}
	res, err := s.commands.Broadcast(c.Request.Context(), c.GetString(callerKey), req.Message)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

// fail maps a command error to a status code and a user-facing message.
func (s *Server) fail(c *gin.Context, err error, extra gin.H) {
	status, code := classify(err)
	var rl *commands.RateLimitedError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(rl.Seconds()))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("command failed")
	}

	body := gin.H{"error": code, "message": commands.UserMessage(err)}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func classify(err error) (int, string) {
	var rl *commands.RateLimitedError
	var ml *commands.MonitorLimitError
	var it *commands.InvalidTokenError

	switch {
	case errors.Is(err, commands.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, commands.ErrAdminOnly):
		return http.StatusForbidden, "admin_only"
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.As(err, &ml):
		return http.StatusConflict, "monitor_limit"
	case errors.Is(err, commands.ErrAlreadyMonitoring):
		return http.StatusConflict, "already_monitoring"
	case errors.As(err, &it):
		return http.StatusBadRequest, "invalid_token"
	case errors.Is(err, commands.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, commands.ErrNotMonitoring), errors.Is(err, commands.ErrNoMonitors):
		return http.StatusNotFound, "not_monitoring"
	case errors.Is(err, commands.ErrTokenUnavailable):
		return http.StatusBadGateway, "price_unavailable"
	case errors.Is(err, commands.ErrNotConfirmed):
		return http.StatusInternalServerError, "not_persisted"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
