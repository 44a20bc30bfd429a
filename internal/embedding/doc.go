// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package embedding turns text into fixed-length normalized vectors
// using a local feature-extraction model served by Ollama.
//
// # Key Types
//
//   - Engine: HTTP client for the embeddings endpoint with lazy,
//     exactly-once model warmup shared across concurrent callers
//   - Cosine: similarity between two normalized vectors
//   - ChunkText: sliding-window splitter for long documents
//
// # Usage
//
//	eng := embedding.NewEngine(baseURL, "nomic-embed-text")
//	vec, err := eng.Embed(ctx, "some text")
//	sim := embedding.Cosine(vec, other)
package embedding
