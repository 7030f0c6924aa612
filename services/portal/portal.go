// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/MeridianWorks/MeridianPortal/services/bi"
	"github.com/MeridianWorks/MeridianPortal/services/llm"
	"github.com/MeridianWorks/MeridianPortal/services/portal/config"
	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
	"github.com/MeridianWorks/MeridianPortal/services/portal/handlers"
	"github.com/MeridianWorks/MeridianPortal/services/portal/observability"
	"github.com/MeridianWorks/MeridianPortal/services/portal/routes"
	"github.com/MeridianWorks/MeridianPortal/services/portal/session"
	"github.com/MeridianWorks/MeridianPortal/services/search"
)

// shutdownTimeout bounds graceful HTTP shutdown on exit.
const shutdownTimeout = 10 * time.Second

// metricsOnce guards prometheus registration across multiple Service
// constructions in one process (tests).
var metricsOnce sync.Once

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the portal service.
//
// # Description
//
// Service abstracts the portal lifecycle, enabling testing and
// alternative implementations. Run blocks until the context is
// canceled or the server fails.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run should only be
// called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until ctx is canceled or
	// the server fails. Cancellation triggers graceful shutdown.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - cfg: Validated runtime configuration
//   - router: Gin HTTP engine with all routes registered
type service struct {
	cfg    *config.Config
	router *gin.Engine
}

// newService wires the portal from validated configuration and
// injected clients.
//
// # Description
//
// Construction order:
//  1. Register prometheus metrics (once per process)
//  2. Build the BI upstream clients from config
//  3. Build the chat, token, session, and health handlers
//  4. Mount routes behind CORS, otelgin, and the chat rate limit
//
// # Inputs
//
//   - cfg: Validated configuration. Must not be nil.
//   - llmClient: Streaming LLM client. Must not be nil.
//   - searchClient: Web search client. May be nil (tool disabled).
//   - store: Session store. Must not be nil.
//   - datasets: Dataset snapshot holder. Must not be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil when a required dependency is missing.
func newService(
	cfg *config.Config,
	llmClient llm.LLMClient,
	searchClient *search.Client,
	store session.Store,
	datasets *dataset.Store,
) (Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("newService: cfg must not be nil")
	}
	if llmClient == nil {
		return nil, fmt.Errorf("newService: llmClient must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("newService: store must not be nil")
	}
	if datasets == nil {
		return nil, fmt.Errorf("newService: datasets must not be nil")
	}

	metricsOnce.Do(func() {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	})

	identity := bi.NewIdentityClient(bi.IdentityConfig{
		AuthHost:     cfg.BIAuthHost,
		TenantID:     cfg.BITenantID,
		ClientID:     cfg.BIClientID,
		ClientSecret: cfg.BIClientSecret,
		Scope:        cfg.BITokenScope,
	})
	embed := bi.NewEmbedClient(bi.EmbedConfig{
		APIHost:     cfg.BIAPIHost,
		WorkspaceID: cfg.BIWorkspaceID,
		ReportID:    cfg.BIReportID,
	})

	chatHandler := handlers.NewChatHandler(llmClient, searchClient, store, datasets, handlers.ChatConfig{})
	tokenHandler := handlers.NewTokenHandler(identity, embed)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("meridian-portal"))
	routes.SetupRoutes(router, chatHandler, tokenHandler, store, datasets, cfg.ChatRateLimitRPS)

	return &service{cfg: cfg, router: router}, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting portal server", "port", s.cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down portal server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
