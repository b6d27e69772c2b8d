package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/linkwire/linkd/internal/observability"
	"github.com/linkwire/linkd/internal/server"
)

// Server exposes the link server's health and registry state over HTTP.
type Server struct {
	addr     string
	link     *server.Server
	router   *gin.Engine
	appeared time.Time
}

func New(addr string, link *server.Server, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		addr:     addr,
		link:     link,
		router:   r,
		appeared: time.Now(),
	}
}

func (a *Server) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Server) RegisterRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.appeared).String(),
			"service": "linkd",
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   a.link.Addr() != "",
			"uptime":  time.Since(a.appeared).String(),
			"service": "linkd",
		})
	})

	a.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"listen_addr":    a.link.Addr(),
			"active_workers": a.link.ActiveWorkers(),
			"registry_size":  a.link.RegistrySize(),
			"workers":        a.link.Snapshot(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve runs the admin endpoint until ctx is cancelled.
func (a *Server) Serve(ctx context.Context) error {
	a.RegisterRoutes()
	srv := &http.Server{Addr: a.addr, Handler: a.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", a.addr).Msg("admin endpoint up")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
