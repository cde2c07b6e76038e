// Package admind exposes a REST API and HTML status page for operating a
// bot.Manager remotely: inspect connections, send messages, join and
// part channels, connect and disconnect servers, and register new
// servers at runtime. The API is guarded by bearer tokens; admin actions
// can optionally be announced to an IRC target.
package admind

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/presbrey/ircbot/bot"
)

// Config holds the admin server's bind and auth settings.
type Config struct {
	// Addr is the API bind address, e.g. "127.0.0.1:8080".
	Addr string

	// BearerTokens guard the API. An empty list leaves it open.
	BearerTokens []string

	// MetricsAddr, when set, serves Prometheus metrics on its own
	// listener so scrapes never compete with the API.
	MetricsAddr string

	// AnnounceServer and AnnounceTarget name an IRC destination that
	// admin actions are reported to. Empty disables announcements.
	AnnounceServer string
	AnnounceTarget string

	// Logger receives admin output; nil means the standard logger.
	Logger *log.Logger
}

// Server is the admin REST API in front of one Manager.
type Server struct {
	manager *bot.Manager
	cfg     Config
	echo    *echo.Echo
	metrics *http.Server
	api     *apiMetrics
	logger  *log.Logger

	mu     sync.Mutex
	recent []recentMessage
}

// New wires the admin routes in front of m. Call Start to serve.
func New(m *bot.Manager, cfg Config) *Server {
	base := cfg.Logger
	if base == nil {
		base = log.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newValidator()
	e.Renderer = newTemplates()

	s := &Server{
		manager: m,
		cfg:     cfg,
		echo:    e,
		api:     newAPIMetrics(m.Metrics().Registry),
		logger:  log.New(base.Writer(), "[admind] ", base.Flags()),
	}
	e.Use(s.api.middleware())

	e.GET("/", s.handleStatusPage)

	api := e.Group("/api", s.auth)
	api.GET("/status", s.handleStatus)
	api.GET("/status/:name", s.handleStatusOne)
	api.POST("/send", s.handleSend)
	api.POST("/join", s.handleJoin)
	api.POST("/part", s.handlePart)
	api.POST("/connect", s.handleConnect)
	api.POST("/disconnect", s.handleDisconnect)
	api.POST("/servers", s.handleAddServer)
	api.POST("/quitmsg", s.handleQuitMessage)

	// Feed the status page's recent-activity pane
	m.RegisterCallbacks(bot.HandlerSet{Message: s.recordMessage})

	return s
}

// Start launches the metrics listener and serves the API. It blocks like
// echo's Start; run it in a goroutine and expect http.ErrServerClosed
// after Stop.
func (s *Server) Start() error {
	if len(s.cfg.BearerTokens) == 0 {
		s.logger.Printf("WARNING: no bearer tokens configured, API is open")
	}
	s.startMetrics()
	s.logger.Printf("Admin API listening on %s", s.cfg.Addr)
	return s.echo.Start(s.cfg.Addr)
}

// Stop closes the API and metrics listeners.
func (s *Server) Stop() error {
	s.logger.Printf("Stopping admin API")
	if s.metrics != nil {
		s.metrics.Close()
	}
	return s.echo.Close()
}

// auth guards a route group with the configured bearer tokens.
func (s *Server) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if len(s.cfg.BearerTokens) == 0 {
			return next(c)
		}
		if !s.authenticateRequest(c.Request()) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}
		return next(c)
	}
}

// authenticateRequest checks the Authorization header against the
// configured bearer tokens.
func (s *Server) authenticateRequest(req *http.Request) bool {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return false
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	for _, validToken := range s.cfg.BearerTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(validToken)) == 1 {
			return true
		}
	}
	return false
}

// Request bodies for the write endpoints.
type sendRequest struct {
	Server  string `json:"server" validate:"required"`
	Target  string `json:"target" validate:"required"`
	Message string `json:"message" validate:"required"`
	Notice  bool   `json:"notice"`
}

type joinRequest struct {
	Server  string `json:"server" validate:"required"`
	Channel string `json:"channel" validate:"required"`
	Key     string `json:"key"`
}

type partRequest struct {
	Server  string `json:"server" validate:"required"`
	Channel string `json:"channel" validate:"required"`
	Reason  string `json:"reason"`
}

type serversRequest struct {
	Servers []string `json:"servers"`
	Message string   `json:"message"`
}

type addServerRequest struct {
	Name     string   `json:"name"`
	Host     string   `json:"host" validate:"required"`
	Port     int      `json:"port" validate:"required,min=1,max=65535"`
	Channels []string `json:"channels" validate:"required,min=1"`
	Keys     []string `json:"keys"`
	TLS      bool     `json:"tls"`
}

type quitMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

// handleStatus reports every connection's status.
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Statuses())
}

// handleStatusOne reports one connection's status.
func (s *Server) handleStatusOne(c echo.Context) error {
	status, ok := s.manager.GetStatus(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Server not found")
	}
	return c.JSON(http.StatusOK, status)
}

// handleSend delivers a message or notice through one server.
func (s *Server) handleSend(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var delivered bool
	if req.Notice {
		delivered = s.manager.Notice(req.Server, req.Target, req.Message)
	} else {
		delivered = s.manager.Send(req.Server, req.Target, req.Message)
	}
	if !delivered {
		return echo.NewHTTPError(http.StatusNotFound, "Server not found")
	}

	s.announce(fmt.Sprintf("sent to %s on %s", req.Target, req.Server))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Message sent",
	})
}

// handleJoin joins a channel on one server.
func (s *Server) handleJoin(c echo.Context) error {
	var req joinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if !s.manager.JoinChannel(req.Server, req.Channel, req.Key) {
		return echo.NewHTTPError(http.StatusNotFound, "Server not found or invalid channel")
	}

	s.announce(fmt.Sprintf("joining %s on %s", req.Channel, req.Server))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Join requested",
	})
}

// handlePart leaves a channel on one server.
func (s *Server) handlePart(c echo.Context) error {
	var req partRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if !s.manager.PartChannel(req.Server, req.Channel, req.Reason) {
		return echo.NewHTTPError(http.StatusNotFound, "Server not found")
	}

	s.announce(fmt.Sprintf("leaving %s on %s", req.Channel, req.Server))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Part requested",
	})
}

// handleConnect starts the named connections, or all of them.
func (s *Server) handleConnect(c echo.Context) error {
	var req serversRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}

	started := s.manager.Connect(req.Servers...)
	if started {
		s.announce("connect requested")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"started": started,
	})
}

// handleDisconnect quits the named connections, or all of them.
func (s *Server) handleDisconnect(c echo.Context) error {
	var req serversRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}

	ended := s.manager.Disconnect(req.Message, req.Servers...)
	if ended {
		s.announce("disconnect requested")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"disconnected": ended,
	})
}

// handleAddServer registers and connects a new server at runtime.
func (s *Server) handleAddServer(c echo.Context) error {
	var req addServerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if !s.manager.AddServer(req.Name, req.Host, req.Port, req.Channels, req.Keys, req.TLS) {
		return echo.NewHTTPError(http.StatusBadRequest, "Server rejected")
	}

	s.announce(fmt.Sprintf("added server %s (%s:%d)", req.Name, req.Host, req.Port))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Server added",
	})
}

// handleQuitMessage changes the default quit message.
func (s *Server) handleQuitMessage(c echo.Context) error {
	var req quitMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	s.manager.SetQuitMessage(req.Message)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Quit message updated",
	})
}

// announce reports an admin action to the configured IRC target.
func (s *Server) announce(text string) {
	if s.cfg.AnnounceServer == "" || s.cfg.AnnounceTarget == "" {
		return
	}
	s.manager.Notice(s.cfg.AnnounceServer, s.cfg.AnnounceTarget, "[admin] "+text)
}
