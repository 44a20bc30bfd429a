// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the serve core.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file replacement (temp + fsync + rename)
//   - TruncateRunes: rune-aware truncation with ellipsis
//
// These are used by the credential store, the config loader, and the
// persistence layer's context builders.
package util
