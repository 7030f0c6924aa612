// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Key prefixes. Turn lists live under session/, last-activity
// timestamps under activity/.
const (
	sessionKeyPrefix  = "session/"
	activityKeyPrefix = "activity/"
)

// BadgerStore is the durable session backend. Selected with
// SESSION_BACKEND=badger; survives restarts.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the session database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database. Call on shutdown.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC runs badger value-log garbage collection until ctx is done.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// History implements Store.
func (s *BadgerStore) History(_ context.Context, sessionID string) ([]Turn, error) {
	var history []Turn
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &history)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}
	if history == nil {
		history = []Turn{}
	}
	return history, nil
}

// AppendExchange implements Store. The read, append, and both writes
// run inside one transaction.
func (s *BadgerStore) AppendExchange(_ context.Context, sessionID, userText, assistantText string) error {
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		var turns []Turn
		item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &turns)
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		turns = append(turns,
			Turn{Role: RoleUser, Content: userText, CreatedAt: now},
			Turn{Role: RoleAssistant, Content: assistantText, CreatedAt: now},
		)
		encoded, err := json.Marshal(turns)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(sessionKeyPrefix+sessionID), encoded); err != nil {
			return err
		}
		return txn.Set([]byte(activityKeyPrefix+sessionID), []byte(now.Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("failed to append exchange: %w", err)
	}
	return nil
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context) ([]Info, error) {
	infos := make([]Info, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			sessionID := strings.TrimPrefix(string(item.Key()), sessionKeyPrefix)

			var turns []Turn
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &turns)
			}); err != nil {
				return err
			}

			info := Info{SessionID: sessionID, Turns: len(turns)}
			if actItem, err := txn.Get([]byte(activityKeyPrefix + sessionID)); err == nil {
				_ = actItem.Value(func(val []byte) error {
					if parsed, perr := time.Parse(time.RFC3339Nano, string(val)); perr == nil {
						info.LastActivity = parsed
					}
					return nil
				})
			}
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return infos, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(sessionKeyPrefix + sessionID)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(sessionKeyPrefix + sessionID)); err != nil {
			return err
		}
		return txn.Delete([]byte(activityKeyPrefix + sessionID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// badgerLogger routes badger's log output through slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	slog.Error(fmt.Sprintf(strings.TrimSpace(format), args...), "component", "badger")
}

func (badgerLogger) Warningf(format string, args ...any) {
	slog.Warn(fmt.Sprintf(strings.TrimSpace(format), args...), "component", "badger")
}

func (badgerLogger) Infof(format string, args ...any) {
	slog.Debug(fmt.Sprintf(strings.TrimSpace(format), args...), "component", "badger")
}

func (badgerLogger) Debugf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(strings.TrimSpace(format), args...), "component", "badger")
}
