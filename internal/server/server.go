// Package server exposes a running link over HTTP: probes, prometheus
// metrics, a stats snapshot, the active command table and a command route.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/znplink/internal/link"
	"github.com/danmuck/znplink/internal/observability"
	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/danmuck/znplink/internal/protocol/session"
	"github.com/danmuck/znplink/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Engine is the part of *link.Link the server drives.
type Engine interface {
	ID() string
	Registry() *schema.Registry
	LinkDown() <-chan struct{}
	Stats(ctx context.Context) (link.Stats, error)
	Request(ctx context.Context, req link.Request) (link.Response, error)
}

type Config struct {
	Addr        string
	CorsOrigins []string
	// ShutdownTimeout bounds Serve's graceful shutdown.
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg     Config
	engine  Engine
	router  *gin.Engine
	http    *http.Server
	started time.Time
}

func New(engine Engine, cfg Config) *Server {
	observability.RegisterMetrics()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger.With().Str("link", engine.ID()).Logger(), "/health", "/ready", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(engine.ID()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	s.http = &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the router, for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("server.Serve listening addr=%s link=%s", s.cfg.Addr, s.engine.ID())
		errc <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msgf("server.Serve stopped addr=%s", s.cfg.Addr)
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
			"link":   s.engine.ID(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		up := s.up()
		status := http.StatusOK
		if !up {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   up,
			"link":    s.engine.ID(),
			"version": s.engine.Registry().Version(),
		})
	})

	r.GET("/link", func(c *gin.Context) {
		stats, err := s.engine.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	r.GET("/schema", func(c *gin.Context) {
		reg := s.engine.Registry()
		c.JSON(http.StatusOK, gin.H{
			"version":  reg.Version(),
			"checksum": reg.Checksum(),
			"commands": DescribeCommands(reg),
		})
	})

	r.POST("/commands/:name", s.handleCommand)
}

func (s *Server) up() bool {
	select {
	case <-s.engine.LinkDown():
		return false
	default:
		return true
	}
}

type commandBody struct {
	Fields  map[string]string `json:"fields"`
	Timeout string            `json:"timeout"`
}

func (s *Server) handleCommand(c *gin.Context) {
	name := c.Param("name")
	d, err := s.engine.Registry().ByName(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var body commandBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	fields, err := protocol.ParseFields(d.Request, body.Fields)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var timeout time.Duration
	if strings.TrimSpace(body.Timeout) != "" {
		if timeout, err = time.ParseDuration(body.Timeout); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("timeout: %v", err)})
			return
		}
	}

	rsp, err := s.engine.Request(c.Request.Context(), link.Request{Command: d.Name, Fields: fields, Timeout: timeout})
	if err != nil {
		log.Warn().Msgf("server.handleCommand command=%s err=%v", d.Name, err)
		out := gin.H{"error": err.Error(), "attempts": rsp.Attempts}
		if rsp.Confirm.Known {
			out["confirm"] = NewMessageView(rsp.Confirm)
		}
		c.JSON(statusFor(err), out)
		return
	}
	out := gin.H{"command": d.Name, "attempts": rsp.Attempts}
	if rsp.Confirm.Known {
		out["confirm"] = NewMessageView(rsp.Confirm)
	}
	if rsp.Result.Known {
		out["result"] = NewMessageView(rsp.Result)
	}
	c.JSON(http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrEncoding):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCommandRejected):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrTooManyPending):
		return http.StatusTooManyRequests
	case errors.Is(err, link.ErrLinkDown), errors.Is(err, transport.ErrLinkLost):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
