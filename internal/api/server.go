// Package api exposes the matching core over HTTP. The routes map 1:1 to
// the core operations; the wire format carries no matching semantics of its
// own.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/engine"
	"github.com/enercoop/gridmatch/internal/settlement"
)

// Server wraps the gin HTTP server for the trading API.
type Server struct {
	logger *zap.Logger
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router and handler set.
func NewServer(logger *zap.Logger, eng *engine.Engine, proc *settlement.Processor, registry *prometheus.Registry, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &handlers{logger: logger.Named("api"), engine: eng, settlements: proc}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.submitOrder)
		v1.DELETE("/orders/:id", h.cancelOrder)
		v1.GET("/orders/:id", h.orderStatus)
		v1.POST("/ticks", h.priceTick)
		v1.GET("/sources/:id/depth", h.depth)
		v1.GET("/settlements/pending", h.pendingSettlements)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return &Server{
		logger: logger.Named("http"),
		router: router,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Router exposes the underlying router for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
