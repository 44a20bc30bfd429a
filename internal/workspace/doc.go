// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workspace ingests directory trees into workspace files and
// keeps them current as the filesystem changes.
//
// # Key Types
//
//   - Ingestor: walks a directory, filters to text files, stores
//     content and a rate-limited embedding over a bounded prefix
//   - Watcher: fsnotify-driven re-ingest of changed files and removal
//     of deleted ones, debounced
//
// Vendor and build directories (node_modules, .git, dist, ...) are
// skipped during both ingest and watching.
package workspace
