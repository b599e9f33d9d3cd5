// Package statusapi serves a read-only JSON view of sessions and approvals
// plus the listener's Prometheus metrics.
package statusapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// StartOpts holds configuration for the status server.
type StartOpts struct {
	DB      *gorm.DB
	Listen  string // host:port
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Ready, when set, receives the bound address once the server listens.
	Ready chan<- string
}

// Start launches the status server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("statusapi: db is required")
	}
	if opts.Listen == "" {
		return fmt.Errorf("statusapi: listen address is required")
	}
	log := logging.OrNop(opts.Logger).Named("statusapi")

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("statusapi: listen %s: %w", opts.Listen, err)
	}

	srv := &http.Server{
		Handler:           newRouter(opts.DB, opts.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	addr := ln.Addr().String()
	log.Info("status server listening", zap.String("addr", addr))
	if opts.Ready != nil {
		opts.Ready <- addr
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusapi: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with every route registered.
func newRouter(db *gorm.DB, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, db, m)
	return router
}
