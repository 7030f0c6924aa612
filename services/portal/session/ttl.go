// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"log/slog"
	"time"
)

// Clock abstracts time.Now so sweeper tests can fast-forward.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// Sweeper removes sessions idle longer than the TTL.
//
// # Description
//
// Growth is unbounded by default; the sweeper is the opt-in bound.
// It lists sessions at each interval and deletes those whose last
// activity is older than now minus ttl. A zero ttl disables the
// sweeper entirely; callers should not construct one in that case.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	clock    Clock
}

// NewSweeper creates a sweeper. Panics on a nil store or non-positive
// ttl/interval; the caller gates construction on configuration.
func NewSweeper(store Store, ttl, interval time.Duration, clock Clock) *Sweeper {
	if store == nil {
		panic("session: Sweeper requires a store")
	}
	if ttl <= 0 || interval <= 0 {
		panic("session: Sweeper requires positive ttl and interval")
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Sweeper{store: store, ttl: ttl, interval: interval, clock: clock}
}

// Run sweeps until ctx is canceled. Blocks; run inside the service's
// errgroup.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Session TTL sweeper started", "ttl", s.ttl, "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass and returns the number of
// sessions removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	infos, err := s.store.List(ctx)
	if err != nil {
		slog.Error("Session sweep failed to list sessions", "error", err)
		return 0
	}

	cutoff := s.clock.Now().Add(-s.ttl)
	removed := 0
	for _, info := range infos {
		if info.LastActivity.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, info.SessionID); err != nil {
			slog.Error("Session sweep failed to delete session",
				"session_id", info.SessionID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Swept idle sessions", "removed", removed)
	}
	return removed
}
