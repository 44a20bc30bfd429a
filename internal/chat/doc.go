// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates streaming conversation turns against the
// Copilot chat completions API.
//
// # Key Types
//
//   - Client: HTTP transport for streaming and one-shot completions
//   - Decoder: incremental SSE frame decoder, safe across arbitrary
//     chunk boundaries
//   - Orchestrator: runs a full turn (persist, ground, stream,
//     persist) and reports every outcome through callbacks
//   - Pacer: variable-rate delta delivery for display
//
// # Turn Lifecycle
//
// StreamChat persists the trailing user message before any network
// work, assembles the system-message stack (persona, workspace
// grounding, field-study document, cross-conversation memory),
// streams the completion, and persists the assistant message only
// after the stream completes cleanly. A canceled or failed stream
// never writes a partial assistant row.
package chat
