// Package admin serves the local observation surface: health, metrics, the
// decoded chat log and a websocket feed of live events.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/peerchat/internal/auth"
	"github.com/danmuck/peerchat/internal/chat"
	"github.com/danmuck/peerchat/internal/observability"
)

const version = "0.1.0"

// Status is the live session snapshot reported by /health.
type Status struct {
	LocalPeer     string `json:"local_peer"`
	RemotePeer    string `json:"remote_peer"`
	SessionID     string `json:"session_id"`
	ReceiverState string `json:"receiver_state"`
	Received      uint64 `json:"received"`
}

type Config struct {
	ListenAddr string
	Token      string
	Node       string
}

type Server struct {
	cfg      Config
	router   *gin.Engine
	chatLog  *chat.ChatLog
	hub      *Hub
	status   func() Status
	appeared time.Time
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	srv *http.Server
	ln  net.Listener
}

func NewServer(cfg Config, chatLog *chat.ChatLog, status func() Status, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	observability.RegisterMetrics()
	if status == nil {
		status = func() Status { return Status{} }
	}
	s := &Server{
		cfg:      cfg,
		router:   gin.New(),
		chatLog:  chatLog,
		hub:      NewHub(),
		status:   status,
		appeared: time.Now(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.router.Use(gin.Recovery(), observability.AdminMiddleware(logger, cfg.Node))
	s.registerRoutes()
	return s
}

// Hub is the observer that feeds websocket subscribers.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"node":    s.cfg.Node,
			"version": version,
			"session": s.status(),
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guarded := s.router.Group("/", s.requireToken(auth.FromConfig(s.cfg.Token)))
	guarded.GET("/chat", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": s.chatLog.Entries()})
	})
	guarded.GET("/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": s.chatLog.Presence()})
	})
	guarded.GET("/ws", s.serveFeed)
}

func (s *Server) requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if err := v.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) serveFeed(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("admin.Server websocket upgrade failed")
		return
	}
	cl := s.hub.add(conn)
	// Read until the subscriber goes away; inbound frames are ignored.
	go func() {
		defer s.hub.remove(cl)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Start listens on cfg.ListenAddr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("admin.Server serve failed")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin.Server listening")
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
