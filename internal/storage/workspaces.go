// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/serve/internal/embedding"
	"github.com/openclaw/serve/internal/util"
)

// Workspace context bounds.
const (
	// workspaceDumpFiles is how many files the unranked dump includes.
	workspaceDumpFiles = 5

	// workspaceDumpRunes truncates each dumped file's content.
	workspaceDumpRunes = 2000

	// workspaceRankedFiles is how many ranked files a query returns.
	workspaceRankedFiles = 3
)

// =============================================================================
// WORKSPACE CRUD
// =============================================================================

// CreateWorkspace inserts a new named workspace.
func (s *Store) CreateWorkspace(name string) (*Workspace, error) {
	ws := &Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)`,
		ws.ID, ws.Name, toMillis(ws.CreatedAt))
	if err != nil {
		return nil, storageErr("create workspace", err)
	}
	return ws, nil
}

// GetWorkspace loads one workspace. Returns (nil, nil) when unknown.
func (s *Store) GetWorkspace(id string) (*Workspace, error) {
	var ws Workspace
	var createdAt int64
	err := s.db.QueryRow(
		`SELECT id, name, created_at FROM workspaces WHERE id = ?`, id).
		Scan(&ws.ID, &ws.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get workspace", err)
	}
	ws.CreatedAt = fromMillis(createdAt)
	return &ws, nil
}

// ListWorkspaces returns all workspaces, newest first.
func (s *Store) ListWorkspaces() ([]*Workspace, error) {
	rows, err := s.db.Query(
		`SELECT id, name, created_at FROM workspaces ORDER BY created_at DESC`)
	if err != nil {
		return nil, storageErr("list workspaces", err)
	}
	defer rows.Close()

	var wss []*Workspace
	for rows.Next() {
		var ws Workspace
		var createdAt int64
		if err := rows.Scan(&ws.ID, &ws.Name, &createdAt); err != nil {
			return nil, storageErr("list workspaces", err)
		}
		ws.CreatedAt = fromMillis(createdAt)
		wss = append(wss, &ws)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list workspaces", err)
	}
	return wss, nil
}

// DeleteWorkspace removes the workspace and its files. Conversations
// referencing it are detached, not deleted.
func (s *Store) DeleteWorkspace(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("delete workspace", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE conversations SET workspace_id = NULL WHERE workspace_id = ?`, id); err != nil {
		return storageErr("detach workspace conversations", err)
	}
	if _, err := tx.Exec(`DELETE FROM workspace_files WHERE workspace_id = ?`, id); err != nil {
		return storageErr("delete workspace files", err)
	}
	if _, err := tx.Exec(`DELETE FROM workspaces WHERE id = ?`, id); err != nil {
		return storageErr("delete workspace", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("delete workspace", err)
	}
	return nil
}

// =============================================================================
// WORKSPACE FILE CRUD
// =============================================================================

// AddWorkspaceFile inserts an ingested document. embedding may be nil
// (filled in later by the ingestor, or never for unembeddable files).
func (s *Store) AddWorkspaceFile(workspaceID, name, path, content string, vec []float32) (*WorkspaceFile, error) {
	f := &WorkspaceFile{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		Path:        path,
		Content:     content,
		Embedding:   vec,
		CreatedAt:   time.Now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO workspace_files (id, workspace_id, name, path, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.WorkspaceID, f.Name, nullable(f.Path), f.Content, encodeVector(vec), toMillis(f.CreatedAt))
	if err != nil {
		return nil, storageErr("add workspace file", err)
	}
	return f, nil
}

// ListWorkspaceFiles returns a workspace's files, oldest first.
func (s *Store) ListWorkspaceFiles(workspaceID string) ([]*WorkspaceFile, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, name, path, content, embedding, created_at
		 FROM workspace_files WHERE workspace_id = ?
		 ORDER BY created_at ASC, rowid ASC`, workspaceID)
	if err != nil {
		return nil, storageErr("list workspace files", err)
	}
	defer rows.Close()

	var files []*WorkspaceFile
	for rows.Next() {
		f, err := scanWorkspaceFile(rows)
		if err != nil {
			return nil, storageErr("list workspace files", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list workspace files", err)
	}
	return files, nil
}

// UpdateWorkspaceFileByPath refreshes the content and embedding of the
// file ingested from path. Used by the watcher on file changes.
func (s *Store) UpdateWorkspaceFileByPath(path, content string, vec []float32) error {
	_, err := s.db.Exec(
		`UPDATE workspace_files SET content = ?, embedding = ? WHERE path = ?`,
		content, encodeVector(vec), path)
	if err != nil {
		return storageErr("update workspace file", err)
	}
	return nil
}

// DeleteWorkspaceFileByPath removes the file ingested from path.
func (s *Store) DeleteWorkspaceFileByPath(path string) error {
	_, err := s.db.Exec(`DELETE FROM workspace_files WHERE path = ?`, path)
	if err != nil {
		return storageErr("delete workspace file", err)
	}
	return nil
}

// DeleteWorkspaceFile removes one file by id.
func (s *Store) DeleteWorkspaceFile(id string) error {
	_, err := s.db.Exec(`DELETE FROM workspace_files WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete workspace file", err)
	}
	return nil
}

// =============================================================================
// WORKSPACE CONTEXT
// =============================================================================

// WorkspaceContext builds the grounding text for a workspace.
//
// Without a query it concatenates up to five files, each truncated, as
// a flat dump. With a query it ranks embedded files by similarity to
// the query and returns the top three full contents annotated with a
// similarity percentage, falling back to the dump when no file carries
// an embedding.
func (s *Store) WorkspaceContext(ctx context.Context, workspaceID, query string) (string, error) {
	files, err := s.ListWorkspaceFiles(workspaceID)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}

	if query != "" && s.embedder != nil {
		ranked, err := s.rankedFileContext(ctx, files, query)
		if err == nil && ranked != "" {
			return ranked, nil
		}
		if err != nil && !errors.Is(err, embedding.ErrUnavailable) {
			return "", err
		}
		if err != nil {
			log.Printf("storage: ranked workspace context unavailable: %v", err)
		}
	}

	return flatFileContext(files), nil
}

// rankedFileContext returns "" when no file has an embedding.
func (s *Store) rankedFileContext(ctx context.Context, files []*WorkspaceFile, query string) (string, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}

	type scored struct {
		file  *WorkspaceFile
		score float64
	}
	var ranked []scored
	for _, f := range files {
		if f.Embedding == nil {
			continue
		}
		ranked = append(ranked, scored{f, embedding.Cosine(queryVec, f.Embedding)})
	}
	if len(ranked) == 0 {
		return "", nil
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > workspaceRankedFiles {
		ranked = ranked[:workspaceRankedFiles]
	}

	var sb strings.Builder
	for i, r := range ranked {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s — %.0f%% match]\n%s", r.file.Name, r.score*100, r.file.Content)
	}
	return sb.String(), nil
}

func flatFileContext(files []*WorkspaceFile) string {
	if len(files) > workspaceDumpFiles {
		files = files[:workspaceDumpFiles]
	}

	var sb strings.Builder
	for i, f := range files {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", f.Name, util.TruncateRunes(f.Content, workspaceDumpRunes))
	}
	return sb.String()
}

func scanWorkspaceFile(row rowScanner) (*WorkspaceFile, error) {
	var f WorkspaceFile
	var path sql.NullString
	var embeddingBlob []byte
	var createdAt int64

	if err := row.Scan(&f.ID, &f.WorkspaceID, &f.Name, &path, &f.Content, &embeddingBlob, &createdAt); err != nil {
		return nil, err
	}
	f.Path = path.String
	f.Embedding = decodeVector(embeddingBlob)
	f.CreatedAt = fromMillis(createdAt)
	return &f, nil
}
