// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MeridianWorks/MeridianPortal/pkg/logging"
	"github.com/MeridianWorks/MeridianPortal/services/llm"
	"github.com/MeridianWorks/MeridianPortal/services/portal/config"
	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
	"github.com/MeridianWorks/MeridianPortal/services/portal/handlers"
	"github.com/MeridianWorks/MeridianPortal/services/portal/session"
	"github.com/MeridianWorks/MeridianPortal/services/portal/telemetry"
	"github.com/MeridianWorks/MeridianPortal/services/search"
)

func main() {
	// Dev convenience; a missing .env is not an error.
	_ = godotenv.Load()

	logging.Setup(logging.Config{Service: "meridian-portal"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("refusing to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("failed to initialize LLM client: %v", err)
	}

	searchClient, err := search.NewClient()
	if err != nil {
		log.Fatalf("failed to initialize search client: %v", err)
	}

	// Session store: in-memory by default, badger when configured.
	var sessionStore session.Store
	var badgerStore *session.BadgerStore
	switch cfg.SessionBackend {
	case config.SessionBackendBadger:
		badgerStore, err = session.NewBadgerStore(cfg.SessionDBPath)
		if err != nil {
			log.Fatalf("failed to open session database: %v", err)
		}
		defer badgerStore.Close()
		sessionStore = badgerStore
		slog.Info("Using badger session store", "path", cfg.SessionDBPath)
	default:
		sessionStore = session.NewMemoryStore()
		slog.Info("Using in-memory session store")
	}

	// Dataset: a missing or unreadable file yields an empty snapshot;
	// chat then answers out-of-scope until a reload succeeds.
	ds, err := dataset.Load(cfg.DatasetPath, cfg.MaxContextBytes)
	if err != nil {
		slog.Warn("Dataset load failed, starting with empty dataset",
			"path", cfg.DatasetPath,
			"error", err,
		)
		ds = dataset.Empty(cfg.DatasetPath)
	}
	datasetStore := dataset.NewStore(ds)
	slog.Info("Dataset loaded", "path", cfg.DatasetPath, "records", len(ds.Records))

	if err := telemetry.RegisterGauges(
		func() int { return len(datasetStore.Current().Records) },
		func() (int, error) {
			infos, err := sessionStore.List(context.Background())
			return len(infos), err
		},
	); err != nil {
		slog.Warn("Failed to register telemetry gauges", "error", err)
	}

	svc, err := newService(cfg, llmClient, searchClient, sessionStore, datasetStore)
	if err != nil {
		log.Fatalf("failed to wire portal service: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gctx)
	})

	if cfg.DatasetWatch {
		watcher, err := dataset.NewWatcher(cfg.DatasetPath, datasetStore, cfg.MaxContextBytes)
		if err != nil {
			log.Fatalf("failed to create dataset watcher: %v", err)
		}
		if err := watcher.Start(gctx); err != nil {
			log.Fatalf("failed to start dataset watcher: %v", err)
		}
		defer watcher.Stop()
	}

	if cfg.SessionTTL > 0 {
		sweeper := session.NewSweeper(sessionStore, cfg.SessionTTL, cfg.SessionSweepInterval, nil)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
		slog.Info("Session TTL sweeper enabled",
			"ttl", cfg.SessionTTL.String(),
			"interval", cfg.SessionSweepInterval.String(),
		)
	}

	if badgerStore != nil {
		g.Go(func() error {
			badgerStore.RunGC(gctx, cfg.SessionSweepInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("portal exited with error", "error", err)
	}

	handlers.PurgeAllSecureMemory()
	slog.Info("portal shut down cleanly")
}
