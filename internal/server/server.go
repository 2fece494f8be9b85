// Package server exposes Crewline's HTTP surface: the per-integration
// ingestion URL, the verification and tracking queries, and the conversation
// endpoint for webhook-mode chat transports.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/crewline/internal/convo"
	"github.com/zulandar/crewline/internal/notify"
	"github.com/zulandar/crewline/internal/relay"
	"github.com/zulandar/crewline/internal/stats"
	"github.com/zulandar/crewline/internal/transport"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	DB        *gorm.DB
	Transport transport.Transport
	Port      int
	Out       io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("server: db is required")
	}
	if opts.Transport == nil {
		return fmt.Errorf("server: transport is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	router, err := NewRouter(opts.DB, opts.Transport)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Crewline listening on %s\n", addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewRouter wires the relay and conversation engine onto a Gin router.
func NewRouter(db *gorm.DB, tr transport.Transport) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	agg := stats.New(db)
	relaySvc := relay.New(db, tr, agg)
	engine, err := convo.NewEngine(convo.EngineOpts{
		DB:        db,
		Transport: tr,
		Stats:     agg,
		Notifier:  notify.NewDispatcher(tr),
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	registerRoutes(router, db, relaySvc, engine)
	return router, nil
}
