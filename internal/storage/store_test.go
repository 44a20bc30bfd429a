// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/serve/internal/embedding"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeEmbedder maps known strings to fixed vectors so similarity is
// deterministic in tests.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func TestOpen_IdempotentSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.CreateConversation("gpt-4o", "")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Re-opening re-runs schema and migrations without damage.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	convs, err := s2.ListConversations()
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestConversationCRUD(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("gpt-4o", "")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Empty(t, conv.Title)

	loaded, err := s.GetConversation(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, conv.ID, loaded.ID)
	assert.Equal(t, "gpt-4o", loaded.Model)

	missing, err := s.GetConversation("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpdateConversationTitle(conv.ID, "Renamed"))
	loaded, _ = s.GetConversation(conv.ID)
	assert.Equal(t, "Renamed", loaded.Title)

	require.NoError(t, s.UpdateConversationEmbedding(conv.ID, []float32{0.1, 0.2}))
	loaded, _ = s.GetConversation(conv.ID)
	assert.Equal(t, []float32{0.1, 0.2}, loaded.Embedding)
}

func TestCreateMessage_BumpsUpdatedAtAndAutoTitles(t *testing.T) {
	s := newTestStore(t)

	conv, err := s.CreateConversation("gpt-4o", "")
	require.NoError(t, err)
	before, _ := s.GetConversation(conv.ID)

	_, err = s.CreateMessage(conv.ID, "user", "Hello")
	require.NoError(t, err)

	loaded, _ := s.GetConversation(conv.ID)
	assert.Equal(t, "Hello", loaded.Title, "short first message becomes the title verbatim")
	assert.False(t, loaded.UpdatedAt.Before(before.UpdatedAt))

	// A later user message does not overwrite the title.
	_, err = s.CreateMessage(conv.ID, "user", "Second message")
	require.NoError(t, err)
	loaded, _ = s.GetConversation(conv.ID)
	assert.Equal(t, "Hello", loaded.Title)
}

func TestAutoTitle_TruncatesLongFirstMessage(t *testing.T) {
	s := newTestStore(t)

	conv, _ := s.CreateConversation("gpt-4o", "")
	long := strings.Repeat("x", 80)
	_, err := s.CreateMessage(conv.ID, "user", long)
	require.NoError(t, err)

	loaded, _ := s.GetConversation(conv.ID)
	assert.Equal(t, strings.Repeat("x", 50)+"...", loaded.Title)
}

func TestGetMessages_OrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)

	conv, _ := s.CreateConversation("gpt-4o", "")
	for i := 0; i < 5; i++ {
		_, err := s.CreateMessage(conv.ID, "user", fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}

	msgs, err := s.GetMessages(conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.Content)
	}
}

func TestDeleteConversation_CascadesMessages(t *testing.T) {
	s := newTestStore(t)

	conv, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(conv.ID, "user", "hello")
	s.CreateMessage(conv.ID, "assistant", "hi")

	require.NoError(t, s.DeleteConversation(conv.ID))

	loaded, err := s.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	msgs, err := s.GetMessages(conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDeleteWorkspace_DetachesConversations(t *testing.T) {
	s := newTestStore(t)

	ws, err := s.CreateWorkspace("project")
	require.NoError(t, err)
	_, err = s.AddWorkspaceFile(ws.ID, "notes.md", "/tmp/notes.md", "content", nil)
	require.NoError(t, err)

	conv, err := s.CreateConversation("gpt-4o", ws.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteWorkspace(ws.ID))

	// Conversation survives, detached.
	loaded, err := s.GetConversation(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Empty(t, loaded.WorkspaceID)

	// Files cascade.
	files, err := s.ListWorkspaceFiles(ws.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSearchConversations_SubstringFallback(t *testing.T) {
	s := newTestStore(t)

	c1, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(c1.ID, "user", "let's refactor the parser")
	c2, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(c2.ID, "user", "weather is nice")

	// No embedder wired: substring path.
	results, err := s.SearchConversations(context.Background(), "refactor")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, c1.ID, results[0].ID)

	// Title matches too.
	require.NoError(t, s.UpdateConversationTitle(c2.ID, "refactor plans"))
	results, err = s.SearchConversations(context.Background(), "refactor")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// Blank query returns nothing.
	results, err = s.SearchConversations(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchConversations_SemanticRanking(t *testing.T) {
	s := newTestStore(t)
	s.WithEmbedder(&fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0, 0},
	}})

	near, _ := s.CreateConversation("gpt-4o", "")
	require.NoError(t, s.UpdateConversationEmbedding(near.ID, []float32{0.9, 0.1, 0}))
	mid, _ := s.CreateConversation("gpt-4o", "")
	require.NoError(t, s.UpdateConversationEmbedding(mid.ID, []float32{0.6, 0.8, 0}))
	far, _ := s.CreateConversation("gpt-4o", "")
	require.NoError(t, s.UpdateConversationEmbedding(far.ID, []float32{0, 0, 1}))

	results, err := s.SearchConversations(context.Background(), "query")
	require.NoError(t, err)
	require.Len(t, results, 2, "below-threshold conversation excluded")
	assert.Equal(t, near.ID, results[0].ID, "highest similarity first")
	assert.Equal(t, mid.ID, results[1].ID)
}

func TestSearchConversations_EngineUnavailableFallsBack(t *testing.T) {
	s := newTestStore(t)
	s.WithEmbedder(&fakeEmbedder{err: fmt.Errorf("%w: down", embedding.ErrUnavailable)})

	c, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(c.ID, "user", "refactor everything")

	results, err := s.SearchConversations(context.Background(), "refactor")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchConversations_NoEmbeddingsFallsBack(t *testing.T) {
	s := newTestStore(t)
	s.WithEmbedder(&fakeEmbedder{})

	c, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(c.ID, "user", "refactor everything")

	// Embedder works but no conversation has a stored vector.
	results, err := s.SearchConversations(context.Background(), "refactor")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRecentContext_ExcludesActiveAndTruncates(t *testing.T) {
	s := newTestStore(t)

	active, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(active.ID, "user", "active conversation text")

	other, _ := s.CreateConversation("gpt-4o", "")
	long := strings.Repeat("a", 200)
	s.CreateMessage(other.ID, "user", long)
	s.CreateMessage(other.ID, "assistant", "short reply")

	ctx, err := s.RecentContext(active.ID, "")
	require.NoError(t, err)

	assert.NotContains(t, ctx, "active conversation text")
	assert.Contains(t, ctx, "They: "+strings.Repeat("a", 150)+"...")
	assert.Contains(t, ctx, "You: short reply")
	assert.Contains(t, ctx, "[", "header present")
}

func TestRecentContext_ThematicMatch(t *testing.T) {
	s := newTestStore(t)

	active, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(active.ID, "user", "current input")

	themed, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(themed.ID, "user", "deep discussion about parsers and compilers")

	recent, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(recent.ID, "user", "unrelated small talk")

	// Hint shares the long token "compilers" with the themed conversation.
	ctx, err := s.RecentContext(active.ID, "tell me more about compilers")
	require.NoError(t, err)
	assert.Contains(t, ctx, "parsers and compilers")

	// Short-token-only hint falls back to most recent conversations.
	ctx, err = s.RecentContext(active.ID, "hey you two")
	require.NoError(t, err)
	assert.NotEmpty(t, ctx)
}

func TestRecentContext_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	ctx, err := s.RecentContext("", "")
	require.NoError(t, err)
	assert.Empty(t, ctx)
}

func TestRecentContext_MessageSliceBounds(t *testing.T) {
	s := newTestStore(t)

	conv, _ := s.CreateConversation("gpt-4o", "")
	for i := 0; i < 7; i++ {
		s.CreateMessage(conv.ID, "user", fmt.Sprintf("turn-%d", i))
	}

	ctx, err := s.RecentContext("other-id", "")
	require.NoError(t, err)

	// Only the 4 most recent turns, oldest-first within the slice.
	assert.NotContains(t, ctx, "turn-2")
	assert.Contains(t, ctx, "turn-3")
	assert.Contains(t, ctx, "turn-6")
	assert.Less(t, strings.Index(ctx, "turn-3"), strings.Index(ctx, "turn-6"))
}

func TestWorkspaceContext(t *testing.T) {
	s := newTestStore(t)

	ws, _ := s.CreateWorkspace("docs")
	long := strings.Repeat("b", 3000)
	s.AddWorkspaceFile(ws.ID, "big.txt", "", long, nil)
	s.AddWorkspaceFile(ws.ID, "small.txt", "", "tiny", nil)

	// No query: flat truncated dump.
	ctx, err := s.WorkspaceContext(context.Background(), ws.ID, "")
	require.NoError(t, err)
	assert.Contains(t, ctx, "[big.txt]")
	assert.Contains(t, ctx, "[small.txt]")
	assert.NotContains(t, ctx, strings.Repeat("b", 2001), "content truncated")

	// Empty workspace yields empty context.
	empty, _ := s.CreateWorkspace("empty")
	ctx, err = s.WorkspaceContext(context.Background(), empty.ID, "")
	require.NoError(t, err)
	assert.Empty(t, ctx)
}

func TestWorkspaceContext_RankedByQuery(t *testing.T) {
	s := newTestStore(t)
	s.WithEmbedder(&fakeEmbedder{vectors: map[string][]float32{
		"find the parser": {1, 0, 0},
	}})

	ws, _ := s.CreateWorkspace("code")
	s.AddWorkspaceFile(ws.ID, "parser.go", "", "parser content", []float32{0.95, 0.05, 0})
	s.AddWorkspaceFile(ws.ID, "readme.md", "", "readme content", []float32{0, 1, 0})

	ctx, err := s.WorkspaceContext(context.Background(), ws.ID, "find the parser")
	require.NoError(t, err)

	assert.Contains(t, ctx, "parser content")
	assert.Contains(t, ctx, "% match")
	assert.Less(t, strings.Index(ctx, "parser.go"), strings.Index(ctx, "readme.md"),
		"best match first")
}

func TestWorkspaceContext_NoEmbeddingsFallsBackToDump(t *testing.T) {
	s := newTestStore(t)
	s.WithEmbedder(&fakeEmbedder{})

	ws, _ := s.CreateWorkspace("docs")
	s.AddWorkspaceFile(ws.ID, "a.txt", "", "alpha", nil)

	ctx, err := s.WorkspaceContext(context.Background(), ws.ID, "some query")
	require.NoError(t, err)
	assert.Contains(t, ctx, "[a.txt]")
	assert.Contains(t, ctx, "alpha")
}

func TestWorkspaceFileUpdateByPath(t *testing.T) {
	s := newTestStore(t)

	ws, _ := s.CreateWorkspace("live")
	s.AddWorkspaceFile(ws.ID, "f.txt", "/tmp/f.txt", "old", []float32{1, 0})

	require.NoError(t, s.UpdateWorkspaceFileByPath("/tmp/f.txt", "new", []float32{0, 1}))
	files, _ := s.ListWorkspaceFiles(ws.ID)
	require.Len(t, files, 1)
	assert.Equal(t, "new", files[0].Content)
	assert.Equal(t, []float32{0, 1}, files[0].Embedding)

	require.NoError(t, s.DeleteWorkspaceFileByPath("/tmp/f.txt"))
	files, _ = s.ListWorkspaceFiles(ws.ID)
	assert.Empty(t, files)
}

func TestSetConversationWorkspace(t *testing.T) {
	s := newTestStore(t)

	ws, _ := s.CreateWorkspace("notes")
	conv, _ := s.CreateConversation("gpt-4o", "")

	require.NoError(t, s.SetConversationWorkspace(conv.ID, ws.ID))
	loaded, _ := s.GetConversation(conv.ID)
	assert.Equal(t, ws.ID, loaded.WorkspaceID)

	// Empty workspace id detaches.
	require.NoError(t, s.SetConversationWorkspace(conv.ID, ""))
	loaded, _ = s.GetConversation(conv.ID)
	assert.Empty(t, loaded.WorkspaceID)
}

func TestDeleteWorkspaceFileByID(t *testing.T) {
	s := newTestStore(t)

	ws, _ := s.CreateWorkspace("live")
	keep, _ := s.AddWorkspaceFile(ws.ID, "keep.txt", "/tmp/keep.txt", "keep", nil)
	gone, _ := s.AddWorkspaceFile(ws.ID, "gone.txt", "/tmp/gone.txt", "gone", nil)

	require.NoError(t, s.DeleteWorkspaceFile(gone.ID))
	files, _ := s.ListWorkspaceFiles(ws.ID)
	require.Len(t, files, 1)
	assert.Equal(t, keep.ID, files[0].ID)
}

func TestExportMarkdown(t *testing.T) {
	s := newTestStore(t)

	conv, _ := s.CreateConversation("gpt-4o", "")
	s.CreateMessage(conv.ID, "user", "What is Go?")
	s.CreateMessage(conv.ID, "assistant", "A programming language.")

	md, err := s.ExportMarkdown(conv.ID)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(md, "# What is Go?\n"), "title header first")
	assert.Contains(t, md, "**You:** What is Go?")
	assert.Contains(t, md, "A programming language.\n\n---")

	// Unknown conversation exports empty, not an error.
	md, err = s.ExportMarkdown("missing")
	require.NoError(t, err)
	assert.Empty(t, md)
}
