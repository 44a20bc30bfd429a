// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides structured persistence for conversations,
// messages, workspaces, and workspace files, backed by SQLite.
//
// # Key Types
//
//   - Store: the database handle with all CRUD, search, and context
//     building operations
//   - Conversation, Message, Workspace, WorkspaceFile: the stored rows
//   - StorageError: wrapper for underlying I/O failures
//
// # Search and Context
//
// SearchConversations ranks by embedding similarity when an embedder
// is wired and stored vectors exist, falling back to substring match
// otherwise. RecentContext and WorkspaceContext build bounded textual
// digests for injection into model calls.
//
// # Schema Evolution
//
// Schema creation is idempotent and runs on every open. Additive
// migrations (new nullable columns) are individually fault-tolerant:
// a "duplicate column" failure means the column already exists and is
// ignored, so stores created by any prior revision converge to the
// current shape.
//
// # Storage Location
//
// The database lives at ~/.openclaw/data/serve.db in WAL mode.
package storage
