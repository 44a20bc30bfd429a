// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_RefreshesChangedFile(t *testing.T) {
	store := newWorkspaceStore(t)
	ws, _ := store.CreateWorkspace("live")

	root := t.TempDir()
	path := filepath.Join(root, "doc.md")
	writeFile(t, path, "first version")

	_, err := NewIngestor(store, nil).IngestFile(context.Background(), ws.ID, path)
	require.NoError(t, err)

	w, err := NewWatcher(store, nil)
	require.NoError(t, err)
	w.WithDebounce(50 * time.Millisecond)
	require.NoError(t, w.Watch(context.Background(), root))
	defer w.Stop()

	writeFile(t, path, "second version")

	require.Eventually(t, func() bool {
		files, err := store.ListWorkspaceFiles(ws.ID)
		return err == nil && len(files) == 1 && files[0].Content == "second version"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcher_RemovesDeletedFile(t *testing.T) {
	store := newWorkspaceStore(t)
	ws, _ := store.CreateWorkspace("live")

	root := t.TempDir()
	path := filepath.Join(root, "gone.txt")
	writeFile(t, path, "here for now")

	_, err := NewIngestor(store, nil).IngestFile(context.Background(), ws.ID, path)
	require.NoError(t, err)

	w, err := NewWatcher(store, nil)
	require.NoError(t, err)
	w.WithDebounce(50 * time.Millisecond)
	require.NoError(t, w.Watch(context.Background(), root))
	defer w.Stop()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		files, err := store.ListWorkspaceFiles(ws.ID)
		return err == nil && len(files) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcher_IgnoresNonIngestableWrites(t *testing.T) {
	store := newWorkspaceStore(t)
	ws, _ := store.CreateWorkspace("live")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data.bin"), "x")

	w, err := NewWatcher(store, nil)
	require.NoError(t, err)
	w.WithDebounce(20 * time.Millisecond)
	require.NoError(t, w.Watch(context.Background(), root))
	defer w.Stop()

	writeFile(t, filepath.Join(root, "data.bin"), "xy")

	time.Sleep(300 * time.Millisecond)
	files, err := store.ListWorkspaceFiles(ws.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}
