// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"
)

// Defaults for the local embedding endpoint.
const (
	// DefaultBaseURL uses explicit IPv4 to avoid IPv6 resolution issues
	// on Windows.
	DefaultBaseURL = "http://127.0.0.1:11434"

	// DefaultModel is a small, fast feature-extraction model.
	DefaultModel = "nomic-embed-text"

	// DefaultTimeout covers the first-use model load, which is slow.
	DefaultTimeout = 120 * time.Second
)

// ErrUnavailable indicates the embedding backend cannot be reached or
// cannot serve the configured model. Callers treat this as "no semantic
// ranking available" and fall back to lexical paths.
var ErrUnavailable = errors.New("embedding engine unavailable")

// =============================================================================
// ENGINE
// =============================================================================

// Engine generates embeddings through a local Ollama instance.
//
// The first Embed call triggers a warmup request that loads the model
// into memory. Warmup runs exactly once per Engine even under
// concurrent first use; all waiting callers share its outcome.
type Engine struct {
	baseURL    string
	model      string
	httpClient *http.Client

	warmOnce sync.Once
	warmErr  error
}

// NewEngine creates an engine for the given Ollama base URL and model.
// Empty arguments fall back to the package defaults.
func NewEngine(baseURL, model string) *Engine {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Model returns the configured model name.
func (e *Engine) Model() string {
	return e.model
}

// embeddingRequest is the Ollama embeddings payload.
type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embeddingResponse is the Ollama embeddings result.
type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed produces an L2-normalized fixed-dimension vector for text.
// Safe for concurrent use.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	e.warmOnce.Do(func() {
		// The warmup is itself an embed call; it forces the expensive
		// model load so later calls are fast and so an unreachable
		// backend is detected up front. It runs on its own context so
		// a canceled first caller cannot poison the shared outcome.
		warmCtx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		_, e.warmErr = e.embed(warmCtx, "warmup")
	})
	if e.warmErr != nil {
		return nil, e.warmErr
	}
	return e.embed(ctx, text)
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, msg)
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrUnavailable)
	}

	return normalize(result.Embedding), nil
}

// normalize converts to float32 and scales to unit length. An all-zero
// vector is returned unchanged rather than divided by zero.
func normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(v))
	if norm == 0 {
		for i, x := range v {
			out[i] = float32(x)
		}
		return out
	}
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// =============================================================================
// SIMILARITY
// =============================================================================

// Cosine computes the cosine similarity between two vectors: the dot
// product over the product of norms. Returns 0 when the lengths differ
// or either vector is all-zero; callers should not feed degenerate
// vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// =============================================================================
// CHUNKING
// =============================================================================

// ChunkText splits text into fixed-size windows with overlap, for
// documents that exceed a single embeddable span. Pure function of its
// input; rune-based so multi-byte characters are never split.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap >= size {
		overlap = size - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
