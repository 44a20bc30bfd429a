// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/serve/internal/storage"
)

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls++
	return []float32{1, 0}, nil
}

func newWorkspaceStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestIngestDirectory_FiltersAndSkips(t *testing.T) {
	store := newWorkspaceStore(t)
	ws, err := store.CreateWorkspace("proj")
	require.NoError(t, err)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	writeFile(t, filepath.Join(root, "README.md"), "# readme")
	writeFile(t, filepath.Join(root, "photo.png"), "binary")
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"), "ignored")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ignored")
	writeFile(t, filepath.Join(root, "sub", "notes.txt"), "nested")

	embedder := &countingEmbedder{}
	ing := NewIngestor(store, embedder)

	count, err := ing.IngestDirectory(context.Background(), ws.ID, root)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, embedder.calls)

	files, err := store.ListWorkspaceFiles(ws.ID)
	require.NoError(t, err)
	names := map[string]*storage.WorkspaceFile{}
	for _, f := range files {
		names[f.Name] = f
	}
	require.Len(t, names, 3)
	assert.Contains(t, names, "main.go")
	assert.Contains(t, names, "README.md")
	assert.Contains(t, names, "notes.txt")
	assert.Equal(t, "package main", names["main.go"].Content)
	assert.Equal(t, []float32{1, 0}, names["main.go"].Embedding)
	assert.Equal(t, filepath.Join(root, "sub", "notes.txt"), names["notes.txt"].Path)
}

func TestIngestDirectory_NilEmbedderStoresUnembedded(t *testing.T) {
	store := newWorkspaceStore(t)
	ws, _ := store.CreateWorkspace("proj")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "alpha")

	count, err := NewIngestor(store, nil).IngestDirectory(context.Background(), ws.ID, root)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	files, _ := store.ListWorkspaceFiles(ws.ID)
	require.Len(t, files, 1)
	assert.Nil(t, files[0].Embedding)
}

func TestIngestFile_RejectsOversized(t *testing.T) {
	store := newWorkspaceStore(t)
	ws, _ := store.CreateWorkspace("proj")

	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, make([]byte, maxFileBytes+1), 0644))

	_, err := NewIngestor(store, nil).IngestFile(context.Background(), ws.ID, path)
	assert.Error(t, err)

	files, _ := store.ListWorkspaceFiles(ws.ID)
	assert.Empty(t, files)
}

func TestIngestable(t *testing.T) {
	assert.True(t, Ingestable("x/y/main.go"))
	assert.True(t, Ingestable("NOTES.MD"))
	assert.False(t, Ingestable("image.png"))
	assert.False(t, Ingestable("binary"))
}
