// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

// StorageError wraps an underlying persistence I/O failure. Operations
// never silently drop data; anything the database refuses surfaces as
// one of these.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ROW TYPES
// =============================================================================

// Conversation is a thread of messages. Title is empty until derived;
// WorkspaceID is empty when the conversation is not grounded in a
// workspace; Embedding is nil until title generation produces one.
type Conversation struct {
	ID          string
	Title       string
	Model       string
	WorkspaceID string
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is one turn in a conversation. Append-only once persisted.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user", "assistant", "system"
	Content        string
	CreatedAt      time.Time
}

// Workspace groups ingested documents used to ground responses.
type Workspace struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// WorkspaceFile is one ingested document.
type WorkspaceFile struct {
	ID          string
	WorkspaceID string
	Name        string
	Path        string
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
}

// =============================================================================
// EMBEDDER CONTRACT
// =============================================================================

// Embedder produces vectors for semantic ranking. The store treats it
// as optional: a nil embedder (or one that fails) disables semantic
// paths and falls back to lexical ones.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// =============================================================================
// STORE
// =============================================================================

// Store is the process-local persistence handle. Safe for concurrent
// use: every mutation is a single statement or a short transaction,
// and the SQLite driver serializes writers.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

// Open opens (creating if needed) the database at path and applies the
// schema and migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, storageErr("create data dir", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open database", err)
	}

	// Single connection avoids SQLITE_BUSY between concurrent turns;
	// WAL keeps readers unblocked during writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DefaultPath returns the standard database location under dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "data", "serve.db")
}

// WithEmbedder wires an embedding engine into search and context
// ranking. Returns the store for chaining.
func (s *Store) WithEmbedder(e Embedder) *Store {
	s.embedder = e
	return s
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			return storageErr("apply pragma", err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		return storageErr("create schema", err)
	}

	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return storageErr("apply migration", err)
		}
	}
	return nil
}

// isDuplicateColumn matches the "column already exists" error class so
// additive migrations stay idempotent across revisions.
func isDuplicateColumn(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "already exists")
}

// =============================================================================
// EMBEDDING CODEC
// =============================================================================

// Vectors are stored as JSON blobs. Dimension stays fixed per engine,
// so cosine comparison across rows is always valid.

func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func decodeVector(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

// =============================================================================
// TIME CODEC
// =============================================================================

// Timestamps are stored as Unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
