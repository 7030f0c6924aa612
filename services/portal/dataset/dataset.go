// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset loads the portal's CSV project dataset and renders the
// flattened text block that grounds every chat prompt.
package dataset

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
)

// Required columns. A row missing any of them is discarded. Header
// matching is case-insensitive.
var requiredFields = []string{"id", "name", "category", "tasks"}

// Record is one dataset row. The typed fields are the required subset;
// Fields holds every CSV column verbatim.
type Record struct {
	ID       string
	Name     string
	Category string
	Tasks    string
	Fields   map[string]string
}

// Dataset is an immutable snapshot of the loaded data. Never mutated
// after publication; the watcher swaps whole snapshots.
type Dataset struct {
	Records  []Record
	Text     string
	LoadedAt time.Time
	Source   string
}

// Load reads and filters the CSV dataset at path.
//
// # Description
//
// The header row defines column names; variable-length records are
// tolerated. Rows missing (absent column or blank value) any of the
// required fields id, name, category, tasks are discarded. The
// flattened text is clamped to maxContextBytes on a record boundary.
//
// # Outputs
//
//   - *Dataset: Snapshot with the surviving records and flattened text.
//   - error: Non-nil when the file cannot be read or parsed. Callers
//     serve an empty dataset on failure rather than exiting.
func Load(path string, maxContextBytes int) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset file is empty: %s", path)
	}

	header := make([]string, len(rows[0]))
	for i, name := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(name))
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := Record{Fields: make(map[string]string, len(row))}
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			record.Fields[header[i]] = cell
		}

		if !hasRequiredFields(record.Fields) {
			continue
		}
		record.ID = strings.TrimSpace(record.Fields["id"])
		record.Name = strings.TrimSpace(record.Fields["name"])
		record.Category = strings.TrimSpace(record.Fields["category"])
		record.Tasks = strings.TrimSpace(record.Fields["tasks"])
		records = append(records, record)
	}

	text, err := clampText(Flatten(records), maxContextBytes)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Records:  records,
		Text:     text,
		LoadedAt: time.Now(),
		Source:   path,
	}, nil
}

// Empty returns the snapshot served when loading fails: zero records,
// empty text. Chat then falls back to the out-of-scope reply.
func Empty(path string) *Dataset {
	return &Dataset{LoadedAt: time.Now(), Source: path}
}

// Flatten renders records one per line in input order:
//
//	ID: <id> | Name: <name> | Category: <category> | Tasks: <tasks>
func Flatten(records []Record) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("ID: %s | Name: %s | Category: %s | Tasks: %s",
			r.ID, r.Name, r.Category, r.Tasks))
	}
	return strings.Join(lines, "\n")
}

func hasRequiredFields(fields map[string]string) bool {
	for _, name := range requiredFields {
		if strings.TrimSpace(fields[name]) == "" {
			return false
		}
	}
	return true
}

// clampText bounds the flattened text to maxContextBytes, cutting on a
// newline so the last record stays whole.
func clampText(text string, maxContextBytes int) (string, error) {
	if maxContextBytes <= 0 || len(text) <= maxContextBytes {
		return text, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(maxContextBytes),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators([]string{"\n"}),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return "", fmt.Errorf("failed to clamp dataset text: %w", err)
	}
	if len(chunks) == 0 {
		return "", nil
	}
	slog.Warn("Dataset text clamped to context budget",
		"original_bytes", len(text),
		"clamped_bytes", len(chunks[0]),
		"max_context_bytes", maxContextBytes)
	return chunks[0], nil
}

// =============================================================================
// Snapshot Store
// =============================================================================

// Store holds the current dataset snapshot. Replace swaps snapshots
// atomically so readers never observe a partial reload.
type Store struct {
	mu      sync.RWMutex
	current *Dataset
}

// NewStore creates a store seeded with the given snapshot.
func NewStore(initial *Dataset) *Store {
	if initial == nil {
		initial = Empty("")
	}
	return &Store{current: initial}
}

// Current returns the live snapshot.
func (s *Store) Current() *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace publishes a new snapshot.
func (s *Store) Replace(d *Dataset) {
	if d == nil {
		return
	}
	s.mu.Lock()
	s.current = d
	s.mu.Unlock()
}
