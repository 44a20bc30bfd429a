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

// Search and context bounds.
const (
	// autoTitleRunes is how much of the first user message becomes the
	// provisional title.
	autoTitleRunes = 50

	// searchSimilarityThreshold filters semantic search results.
	searchSimilarityThreshold = 0.4

	// searchSemanticLimit caps embedding-ranked search results.
	searchSemanticLimit = 10

	// searchFallbackLimit caps substring-match search results.
	searchFallbackLimit = 20

	// contextConversations is how many conversations feed the memory digest.
	contextConversations = 3

	// contextMessagesPerConversation bounds each conversation's slice.
	contextMessagesPerConversation = 4

	// contextMessageRunes truncates each quoted line.
	contextMessageRunes = 150
)

// =============================================================================
// CONVERSATION CRUD
// =============================================================================

// CreateConversation inserts a new conversation with a client-generated
// id. workspaceID may be empty.
func (s *Store) CreateConversation(model, workspaceID string) (*Conversation, error) {
	now := time.Now()
	conv := &Conversation{
		ID:          uuid.NewString(),
		Model:       model,
		WorkspaceID: workspaceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, model, workspace_id, created_at, updated_at)
		 VALUES (?, NULL, ?, ?, ?, ?)`,
		conv.ID, conv.Model, nullable(workspaceID), toMillis(now), toMillis(now),
	)
	if err != nil {
		return nil, storageErr("create conversation", err)
	}
	return conv, nil
}

// GetConversation loads one conversation. Returns (nil, nil) when the
// id is unknown.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, title, model, workspace_id, embedding, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get conversation", err)
	}
	return conv, nil
}

// ListConversations returns all conversations, most recently updated
// first.
func (s *Store) ListConversations() ([]*Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, title, model, workspace_id, embedding, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, storageErr("list conversations", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", err)
	}
	return convs, nil
}

// UpdateConversationTitle sets the title and bumps updated_at.
func (s *Store) UpdateConversationTitle(id, title string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, toMillis(time.Now()), id)
	if err != nil {
		return storageErr("update conversation title", err)
	}
	return nil
}

// UpdateConversationEmbedding stores the semantic vector derived from
// title plus seed text.
func (s *Store) UpdateConversationEmbedding(id string, vec []float32) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET embedding = ? WHERE id = ?`,
		encodeVector(vec), id)
	if err != nil {
		return storageErr("update conversation embedding", err)
	}
	return nil
}

// SetConversationWorkspace links or (with empty id) detaches the
// conversation's workspace.
func (s *Store) SetConversationWorkspace(id, workspaceID string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET workspace_id = ? WHERE id = ?`,
		nullable(workspaceID), id)
	if err != nil {
		return storageErr("set conversation workspace", err)
	}
	return nil
}

// DeleteConversation removes the conversation and all of its messages.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("delete conversation", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return storageErr("delete conversation messages", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return storageErr("delete conversation", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("delete conversation", err)
	}
	return nil
}

// =============================================================================
// MESSAGE CRUD
// =============================================================================

// CreateMessage appends a message, bumps the conversation's updated_at,
// and auto-titles the conversation from its first user message.
func (s *Store) CreateMessage(conversationID, role, content string) (*Message, error) {
	now := time.Now()
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, conversationID, role, content, toMillis(now))
	if err != nil {
		return nil, storageErr("create message", err)
	}

	if _, err := s.db.Exec(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		toMillis(now), conversationID); err != nil {
		return nil, storageErr("touch conversation", err)
	}

	if role == "user" {
		if err := s.autoTitle(conversationID, content); err != nil {
			// Titling is best-effort side work; the message is already
			// durably stored.
			log.Printf("storage: auto-title failed: %v", err)
		}
	}

	return msg, nil
}

// autoTitle sets a provisional title from the first user message when
// the conversation is still untitled.
func (s *Store) autoTitle(conversationID, content string) error {
	conv, err := s.GetConversation(conversationID)
	if err != nil || conv == nil || conv.Title != "" {
		return err
	}
	return s.UpdateConversationTitle(conversationID, util.TruncateRunes(content, autoTitleRunes))
}

// GetMessages returns a conversation's messages, oldest first.
func (s *Store) GetMessages(conversationID string) ([]*Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, storageErr("get messages", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, storageErr("get messages", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get messages", err)
	}
	return msgs, nil
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchConversations finds conversations relevant to query.
//
// Primary path: embed the query and rank stored conversation embeddings
// by cosine similarity, keeping scores above the threshold, best first.
// The fallback to substring match fires when the embedding engine is
// unavailable or no conversation carries an embedding yet; a storage
// read failure propagates instead of masquerading as "no matches".
func (s *Store) SearchConversations(ctx context.Context, query string) ([]*Conversation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if s.embedder != nil {
		results, err := s.searchSemantic(ctx, query)
		switch {
		case err == nil && results != nil:
			return results, nil
		case err == nil:
			// No stored embeddings to rank against.
		case errors.Is(err, embedding.ErrUnavailable):
			log.Printf("storage: semantic search unavailable, using substring match: %v", err)
		default:
			return nil, err
		}
	}

	return s.searchSubstring(query)
}

// searchSemantic returns (nil, nil) when no conversation has a stored
// embedding, signaling the caller to use the lexical fallback.
func (s *Store) searchSemantic(ctx context.Context, query string) ([]*Conversation, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	convs, err := s.ListConversations()
	if err != nil {
		return nil, err
	}

	type scored struct {
		conv  *Conversation
		score float64
	}
	var ranked []scored
	embedded := false
	for _, conv := range convs {
		if conv.Embedding == nil {
			continue
		}
		embedded = true
		if score := embedding.Cosine(queryVec, conv.Embedding); score >= searchSimilarityThreshold {
			ranked = append(ranked, scored{conv, score})
		}
	}
	if !embedded {
		return nil, nil
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > searchSemanticLimit {
		ranked = ranked[:searchSemanticLimit]
	}

	results := make([]*Conversation, len(ranked))
	for i, r := range ranked {
		results[i] = r.conv
	}
	return results, nil
}

func (s *Store) searchSubstring(query string) ([]*Conversation, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT DISTINCT c.id, c.title, c.model, c.workspace_id, c.embedding, c.created_at, c.updated_at
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE c.title LIKE ? OR m.content LIKE ?
		 ORDER BY c.updated_at DESC
		 LIMIT ?`,
		pattern, pattern, searchFallbackLimit)
	if err != nil {
		return nil, storageErr("search conversations", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, storageErr("search conversations", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search conversations", err)
	}
	return convs, nil
}

// =============================================================================
// MEMORY CONTEXT
// =============================================================================

// RecentContext builds a bounded digest of past conversations for
// injection into the next model call.
//
// With an input hint, long tokens from the hint drive a thematic match
// first; when nothing matches (or no hint is given) the most recently
// updated conversations are used. The active conversation is always
// excluded. Returns "" when no conversations qualify.
func (s *Store) RecentContext(excludeConversationID, inputHint string) (string, error) {
	var convs []*Conversation
	var err error

	if inputHint != "" {
		convs, err = s.thematicConversations(excludeConversationID, inputHint)
		if err != nil {
			return "", err
		}
	}
	if len(convs) == 0 {
		convs, err = s.recentConversations(excludeConversationID)
		if err != nil {
			return "", err
		}
	}
	if len(convs) == 0 {
		return "", nil
	}

	var digests []string
	for _, conv := range convs {
		digest, err := s.conversationDigest(conv)
		if err != nil {
			return "", err
		}
		if digest != "" {
			digests = append(digests, digest)
		}
	}
	return strings.Join(digests, "\n\n"), nil
}

// thematicConversations finds conversations whose messages mention any
// long token from the hint.
func (s *Store) thematicConversations(excludeID, hint string) ([]*Conversation, error) {
	tokens := longTokens(hint, 5)
	if len(tokens) == 0 {
		return nil, nil
	}

	clauses := make([]string, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for i, tok := range tokens {
		clauses[i] = "m.content LIKE ?"
		args = append(args, "%"+tok+"%")
	}
	args = append(args, excludeID)

	query := fmt.Sprintf(
		`SELECT DISTINCT c.id, c.title, c.model, c.workspace_id, c.embedding, c.created_at, c.updated_at
		 FROM conversations c
		 JOIN messages m ON m.conversation_id = c.id
		 WHERE (%s) AND c.id != ?
		 ORDER BY c.updated_at DESC
		 LIMIT %d`,
		strings.Join(clauses, " OR "), contextConversations)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("thematic context", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, storageErr("thematic context", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *Store) recentConversations(excludeID string) ([]*Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, title, model, workspace_id, embedding, created_at, updated_at
		 FROM conversations WHERE id != ?
		 ORDER BY updated_at DESC
		 LIMIT ?`,
		excludeID, contextConversations)
	if err != nil {
		return nil, storageErr("recent context", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, storageErr("recent context", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// conversationDigest renders one conversation's slice of the memory
// context: a header naming the conversation, then its most recent
// messages oldest-first, each truncated and labeled by speaker.
func (s *Store) conversationDigest(conv *Conversation) (string, error) {
	rows, err := s.db.Query(
		`SELECT role, content FROM messages
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		conv.ID, contextMessagesPerConversation)
	if err != nil {
		return "", storageErr("context digest", err)
	}
	defer rows.Close()

	type turn struct{ role, content string }
	var turns []turn
	for rows.Next() {
		var t turn
		if err := rows.Scan(&t.role, &t.content); err != nil {
			return "", storageErr("context digest", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return "", storageErr("context digest", err)
	}
	if len(turns) == 0 {
		return "", nil
	}

	title := conv.Title
	if title == "" {
		title = "Untitled"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s — %s]", title, conv.UpdatedAt.Format("2006-01-02 15:04"))
	for i := len(turns) - 1; i >= 0; i-- {
		speaker := "You"
		if turns[i].role == "user" {
			speaker = "They"
		}
		sb.WriteString("\n")
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(util.TruncateRunes(turns[i].content, contextMessageRunes))
	}
	return sb.String(), nil
}

// longTokens extracts up to max tokens longer than five characters.
func longTokens(text string, max int) []string {
	var tokens []string
	for _, field := range strings.Fields(text) {
		trimmed := strings.Trim(field, ".,!?;:\"'()[]{}")
		if len([]rune(trimmed)) > 5 {
			tokens = append(tokens, trimmed)
			if len(tokens) == max {
				break
			}
		}
	}
	return tokens
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders a conversation as markdown: title, creation
// time, then the message sequence with bold-prefixed user turns and
// assistant turns as plain paragraphs separated by rules.
func (s *Store) ExportMarkdown(conversationID string) (string, error) {
	conv, err := s.GetConversation(conversationID)
	if err != nil {
		return "", err
	}
	if conv == nil {
		return "", nil
	}

	msgs, err := s.GetMessages(conversationID)
	if err != nil {
		return "", err
	}

	title := conv.Title
	if title == "" {
		title = "Untitled Conversation"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", title)
	fmt.Fprintf(&sb, "*%s*\n\n---\n\n", conv.CreatedAt.Format("2006-01-02 15:04"))

	for _, m := range msgs {
		if m.Role == "user" {
			fmt.Fprintf(&sb, "**You:** %s\n\n", m.Content)
		} else {
			fmt.Fprintf(&sb, "%s\n\n---\n\n", m.Content)
		}
	}
	return sb.String(), nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

// rowScanner abstracts sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var title, workspaceID sql.NullString
	var embeddingBlob []byte
	var createdAt, updatedAt int64

	if err := row.Scan(&conv.ID, &title, &conv.Model, &workspaceID, &embeddingBlob, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.Title = title.String
	conv.WorkspaceID = workspaceID.String
	conv.Embedding = decodeVector(embeddingBlob)
	conv.CreatedAt = fromMillis(createdAt)
	conv.UpdatedAt = fromMillis(updatedAt)
	return &conv, nil
}

// nullable maps "" to NULL for optional foreign keys.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
