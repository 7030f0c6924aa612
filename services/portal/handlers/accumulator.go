// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the portal service.
//
// This file implements secure accumulation of streamed reply fragments.
// Fragments are stored in mlocked memory so replies never swap to disk,
// and are incrementally hashed for integrity verification.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// ReplyBufferSize is the size of the mlocked buffer for reply
	// accumulation. 512 KB holds the longest replies the model
	// produces with room to spare.
	ReplyBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	MinMlockLimitKB = 512
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// ReplyAccumulator collects streamed reply fragments for persistence.
//
// # Description
//
// The chat handler relays each fragment to the client and writes it
// here; at completion, Finalize yields the full reply (equal to the
// concatenation of every streamed fragment) and its SHA-256 hash for
// the session store.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
//
// # Limitations
//
//   - Buffer size is fixed (cannot grow dynamically)
//   - An accumulator cannot be reused after Finalize() or Destroy()
type ReplyAccumulator interface {
	// Write appends a fragment. Fragments are hashed as they arrive.
	Write(fragment string) error

	// Finalize returns the accumulated reply and its SHA-256 hash
	// (hex encoded), then wipes the buffer. Single use.
	Finalize() (reply string, hash string, err error)

	// Destroy wipes memory without returning data. Idempotent; use on
	// error paths.
	Destroy()

	// ID returns a unique identifier for logging.
	ID() string

	// CreatedAt returns when this accumulator was created.
	CreatedAt() time.Time
}

// secureReplyAccumulator stores fragments in a memguard LockedBuffer:
// mlocked against swapping, guard pages against overflow, wiped on
// destroy.
type secureReplyAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// heapReplyAccumulator is the fallback for systems without sufficient
// mlock limits. Same contract, ordinary Go memory; data may swap to
// disk. Requires MERIDIAN_INSECURE_MEMORY=true to be selected.
type heapReplyAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// NewReplyAccumulator creates an accumulator for one chat request.
//
// # Description
//
// Allocates an mlocked buffer of ReplyBufferSize bytes. When the mlock
// limit is insufficient, the constructor refuses unless
// MERIDIAN_INSECURE_MEMORY=true, in which case it degrades to the heap
// implementation with a warning.
//
// # Outputs
//
//   - ReplyAccumulator: Ready for use (secure or heap based on system).
//   - error: Non-nil if allocation failed and no fallback is allowed.
func NewReplyAccumulator() (ReplyAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		return handleInsufficientMlock()
	}

	return allocateSecureBuffer()
}

func newHeapReplyAccumulator() ReplyAccumulator {
	accID := uuid.New().String()
	slog.Warn("Created INSECURE reply accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)
	return &heapReplyAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, ReplyBufferSize),
		hasher:    sha256.New(),
	}
}

// =============================================================================
// secureReplyAccumulator Methods
// =============================================================================

func (a *secureReplyAccumulator) Write(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow - reply too large")
	}

	fragmentBytes := []byte(fragment)
	if a.offset+len(fragmentBytes) > ReplyBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(fragmentBytes), ReplyBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], fragmentBytes)
	a.offset += len(fragmentBytes)
	a.hasher.Write(fragmentBytes)
	return nil
}

func (a *secureReplyAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	reply := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized secure reply accumulator",
		"accumulator_id", a.id,
		"reply_length", len(reply),
		"hash", hashStr[:16]+"...",
	)
	return reply, hashStr, nil
}

func (a *secureReplyAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed secure reply accumulator", "accumulator_id", a.id)
}

func (a *secureReplyAccumulator) ID() string { return a.id }

func (a *secureReplyAccumulator) CreatedAt() time.Time { return a.createdAt }

func (a *secureReplyAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// heapReplyAccumulator Methods
// =============================================================================

func (a *heapReplyAccumulator) Write(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow - reply too large")
	}

	fragmentBytes := []byte(fragment)
	if len(a.data)+len(fragmentBytes) > ReplyBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(fragmentBytes), ReplyBufferSize-len(a.data))
	}

	a.data = append(a.data, fragmentBytes...)
	a.hasher.Write(fragmentBytes)
	return nil
}

func (a *heapReplyAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	reply := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized heap reply accumulator",
		"accumulator_id", a.id,
		"reply_length", len(reply),
	)
	return reply, hashStr, nil
}

func (a *heapReplyAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed heap reply accumulator", "accumulator_id", a.id)
}

func (a *heapReplyAccumulator) ID() string { return a.id }

func (a *heapReplyAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe zeros the slice (best effort; GC may hold copies).
func (a *heapReplyAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Package Initialization Functions
// =============================================================================

// initMemguard initializes memguard and checks mlock limits once.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit queries the kernel's mlock resource limit.
//
// # Outputs
//
//   - bool: True if the limit covers MinMlockLimitKB.
//   - int64: Current limit in kilobytes (-1 if unlimited).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

func logMlockStatus() {
	if mlockSufficient {
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"status", "sufficient",
		)
		return
	}
	if os.Getenv("MERIDIAN_INSECURE_MEMORY") == "true" {
		slog.Warn("SECURITY: Running with insecure memory - mlock limit insufficient",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", "MERIDIAN_INSECURE_MEMORY=true",
		)
	} else {
		slog.Error("mlock limit insufficient for secure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"help", "Raise the limit or set MERIDIAN_INSECURE_MEMORY=true",
		)
	}
}

func handleInsufficientMlock() (ReplyAccumulator, error) {
	if os.Getenv("MERIDIAN_INSECURE_MEMORY") == "true" {
		slog.Warn("Using heap reply accumulator due to mlock limits",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return newHeapReplyAccumulator(), nil
	}
	return nil, fmt.Errorf(
		"mlock limit insufficient: have %d KB, need %d KB. "+
			"Configure system limits or set MERIDIAN_INSECURE_MEMORY=true",
		currentMlockLimitKB, MinMlockLimitKB,
	)
}

func allocateSecureBuffer() (ReplyAccumulator, error) {
	buf := memguard.NewBuffer(ReplyBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", ReplyBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()
	slog.Debug("Created secure reply accumulator",
		"accumulator_id", accID,
		"buffer_size", ReplyBufferSize,
	)

	return &secureReplyAccumulator{
		id:        accID,
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Call during
// graceful shutdown; existing LockedBuffers are invalid afterwards.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
