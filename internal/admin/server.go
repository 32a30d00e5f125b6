// Package admin serves the read-only HTTP surface of igtlctl serve: liveness,
// readiness, prometheus metrics, connector state and the latest decoded devices.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/igtlctl/internal/auth"
	"github.com/danmuck/igtlctl/internal/connector"
	"github.com/danmuck/igtlctl/internal/consumer"
	"github.com/danmuck/igtlctl/internal/observability"
)

const Version = "0.1.0"

// StatusSource is implemented by *connector.Connector.
type StatusSource interface {
	Name() string
	Snapshot() connector.Status
}

// DeviceSource is implemented by *consumer.MemorySink.
type DeviceSource interface {
	Latest(source string) []consumer.Update
}

type Server struct {
	addr       string
	router     *gin.Engine
	connectors []StatusSource
	devices    DeviceSource
	validator  auth.Validator
	started    time.Time
}

func New(addr string, connectors []StatusSource, devices DeviceSource, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger.With().Str("component", "admin").Logger()))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		addr:       addr,
		router:     r,
		connectors: connectors,
		devices:    devices,
		started:    time.Now(),
	}
	s.registerRoutes()
	return s
}

// SetValidator requires a bearer token on the connector and device routes. Health,
// readiness and metrics stay open.
func (s *Server) SetValidator(v auth.Validator) {
	s.validator = v
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		states := make(map[string]string, len(s.connectors))
		ready := true
		for _, src := range s.connectors {
			st := src.Snapshot()
			states[st.Name] = st.State
			if st.State == connector.StateOff.String() {
				ready = false
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":      ready,
			"connectors": states,
		})
	})

	protected := s.router.Group("/", s.requireToken())

	protected.GET("/connectors", func(c *gin.Context) {
		out := make([]connector.Status, 0, len(s.connectors))
		for _, src := range s.connectors {
			out = append(out, src.Snapshot())
		}
		c.JSON(http.StatusOK, gin.H{"connectors": out})
	})

	protected.GET("/devices/:connector", func(c *gin.Context) {
		name := c.Param("connector")
		if !s.hasConnector(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connector not found"})
			return
		}
		var updates []consumer.Update
		if s.devices != nil {
			updates = s.devices.Latest(name)
		}
		out := make([]consumer.Summary, 0, len(updates))
		for _, u := range updates {
			out = append(out, u.Summary())
		}
		c.JSON(http.StatusOK, gin.H{
			"connector": name,
			"devices":   out,
		})
	})
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(s.validator, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) hasConnector(name string) bool {
	for _, src := range s.connectors {
		if src.Name() == name {
			return true
		}
	}
	return false
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
