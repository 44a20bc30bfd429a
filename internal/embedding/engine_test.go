// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCosine_Properties(t *testing.T) {
	v := []float32{0.3, -0.5, 0.8, 0.1}
	w := []float32{0.1, 0.9, -0.2, 0.4}

	// Self-similarity is 1 within floating-point tolerance.
	if got := Cosine(v, v); math.Abs(got-1.0) > 1e-6 {
		t.Errorf("Cosine(v, v) = %v, want 1", got)
	}

	// Symmetric.
	if a, b := Cosine(v, w), Cosine(w, v); math.Abs(a-b) > 1e-9 {
		t.Errorf("not symmetric: %v vs %v", a, b)
	}

	// Orthogonal vectors score 0.
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal similarity = %v, want 0", got)
	}

	// Opposite vectors score -1.
	if got := Cosine([]float32{1, 2}, []float32{-1, -2}); math.Abs(got+1) > 1e-6 {
		t.Errorf("opposite similarity = %v, want -1", got)
	}
}

func TestCosine_Degenerate(t *testing.T) {
	if got := Cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector similarity = %v, want 0", got)
	}
	if got := Cosine([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("length mismatch similarity = %v, want 0", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Errorf("empty similarity = %v, want 0", got)
	}
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty", "", 5, 1, nil},
		{"fits in one chunk", "abc", 5, 1, []string{"abc"}},
		{"no overlap", "abcdef", 3, 0, []string{"abc", "def"}},
		{"with overlap", "abcdef", 4, 2, []string{"abcd", "cdef"}},
		{"overlap ge size clamps", "abcd", 2, 5, []string{"ab", "bc", "cd"}},
		{"zero size", "abc", 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkText(tt.text, tt.size, tt.overlap)
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunkText_Restartable(t *testing.T) {
	text := strings.Repeat("serve core text ", 100)
	a := ChunkText(text, 500, 50)
	b := ChunkText(text, 500, 50)
	if len(a) != len(b) {
		t.Fatal("chunking is not deterministic")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("chunking is not deterministic")
		}
	}
}

func newTestEngine(t *testing.T, handler http.Handler) *Engine {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewEngine(server.URL, "test-embed")
}

func TestEmbed_Normalized(t *testing.T) {
	eng := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "test-embed" {
			t.Errorf("model = %q", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{3, 4}})
	}))

	vec, err := eng.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("dim = %d", len(vec))
	}

	// (3,4) normalizes to (0.6, 0.8).
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("vec = %v, want [0.6 0.8]", vec)
	}
	if got := Cosine(vec, vec); math.Abs(got-1) > 1e-6 {
		t.Errorf("self-similarity = %v", got)
	}
}

func TestEmbed_WarmupRunsOnce(t *testing.T) {
	var warmups atomic.Int32
	eng := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["prompt"] == "warmup" {
			warmups.Add(1)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 0}})
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.Embed(context.Background(), "concurrent"); err != nil {
				t.Errorf("Embed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := warmups.Load(); n != 1 {
		t.Errorf("warmup ran %d times, want 1", n)
	}
}

func TestEmbed_Unavailable(t *testing.T) {
	eng := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))

	_, err := eng.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
