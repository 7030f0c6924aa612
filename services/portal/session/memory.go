// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-process store. State is lost on
// restart; use the badger backend for durability.
type MemoryStore struct {
	mu       sync.RWMutex
	turns    map[string][]Turn
	activity map[string]time.Time
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns:    make(map[string][]Turn),
		activity: make(map[string]time.Time),
		now:      time.Now,
	}
}

// History implements Store. The returned slice is a copy; callers may
// not mutate stored state through it.
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.turns[sessionID]
	history := make([]Turn, len(stored))
	copy(history, stored)
	return history, nil
}

// AppendExchange implements Store. Both turns land under a single lock
// acquisition.
func (s *MemoryStore) AppendExchange(_ context.Context, sessionID, userText, assistantText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.turns[sessionID] = append(s.turns[sessionID],
		Turn{Role: RoleUser, Content: userText, CreatedAt: now},
		Turn{Role: RoleAssistant, Content: assistantText, CreatedAt: now},
	)
	s.activity[sessionID] = now
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.turns))
	for id, turns := range s.turns {
		infos = append(infos, Info{
			SessionID:    id,
			Turns:        len(turns),
			LastActivity: s.activity[id],
		})
	}
	return infos, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.turns[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.turns, sessionID)
	delete(s.activity, sessionID)
	return nil
}
