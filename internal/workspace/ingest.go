// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/openclaw/serve/internal/embedding"
	"github.com/openclaw/serve/internal/storage"
	"github.com/openclaw/serve/internal/util"
)

// Ingest bounds.
const (
	// embedPrefixRunes is how much of a file's content feeds its
	// embedding.
	embedPrefixRunes = 2000

	// maxFileBytes skips files too large to be useful grounding.
	maxFileBytes = 512 * 1024

	// ChunkSize and ChunkOverlap are the standard splitting
	// parameters for callers that chunk before embedding.
	ChunkSize    = 500
	ChunkOverlap = 50

	// embedsPerSecond throttles embedding calls during bulk ingest so
	// a large tree cannot monopolize the local engine.
	embedsPerSecond = 5
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".next":        true,
	"target":       true,
	"dist":         true,
	"out":          true,
	"vendor":       true,
	"__pycache__":  true,
}

// textExtensions are the file types considered ingestable.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".py": true, ".rs": true, ".rb": true, ".java": true, ".kt": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cs": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".html": true, ".css": true, ".scss": true, ".svelte": true, ".vue": true,
	".sh": true, ".bash": true, ".sql": true, ".proto": true, ".xml": true,
}

// Ingestor walks directory trees into workspace files.
type Ingestor struct {
	store    *storage.Store
	embedder storage.Embedder
	limiter  *rate.Limiter
}

// NewIngestor creates an ingestor. embedder may be nil; files are then
// stored without embeddings and ranked retrieval degrades to the flat
// dump.
func NewIngestor(store *storage.Store, embedder storage.Embedder) *Ingestor {
	return &Ingestor{
		store:    store,
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Limit(embedsPerSecond), 1),
	}
}

// IngestDirectory walks root and stores every ingestable file under
// workspaceID. Returns how many files were stored. Unreadable entries
// are skipped, not fatal; ctx cancellation aborts the walk.
func (ing *Ingestor) IngestDirectory(ctx context.Context, workspaceID, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !Ingestable(path) {
			return nil
		}
		if _, err := ing.IngestFile(ctx, workspaceID, path); err != nil {
			log.Printf("workspace: skipping %s: %v", path, err)
			return nil
		}
		count++
		return nil
	})
	return count, err
}

// IngestFile reads, embeds, and stores a single file.
func (ing *Ingestor) IngestFile(ctx context.Context, workspaceID, path string) (*storage.WorkspaceFile, error) {
	content, err := ReadTextFile(path)
	if err != nil {
		return nil, err
	}
	vec := ing.embedPrefix(ctx, content)
	return ing.store.AddWorkspaceFile(workspaceID, filepath.Base(path), path, content, vec)
}

// embedPrefix produces the file's embedding, throttled. Embedding
// failures degrade to an unembedded file rather than failing ingest.
func (ing *Ingestor) embedPrefix(ctx context.Context, content string) []float32 {
	if ing.embedder == nil || strings.TrimSpace(content) == "" {
		return nil
	}
	if err := ing.limiter.Wait(ctx); err != nil {
		return nil
	}
	vec, err := ing.embedder.Embed(ctx, util.TruncateRunesNoEllipsis(content, embedPrefixRunes))
	if err != nil {
		if !errors.Is(err, embedding.ErrUnavailable) {
			log.Printf("workspace: embedding failed: %v", err)
		}
		return nil
	}
	return vec
}

// Ingestable reports whether path has an ingestable text extension.
func Ingestable(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

// ReadTextFile reads a file, rejecting oversized ones.
func ReadTextFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxFileBytes {
		return "", errors.New("file too large to ingest")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
