// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/openclaw/serve/internal/auth"
	"github.com/openclaw/serve/internal/persona"
	"github.com/openclaw/serve/internal/storage"
	"github.com/openclaw/serve/internal/util"
)

// Grounding bounds.
const (
	// fieldStudyRunes truncates an injected field-study document.
	fieldStudyRunes = 8000

	// titleHistoryMessages bounds how much history feeds title
	// generation.
	titleHistoryMessages = 6

	// streamReadBuffer is the read size for the SSE body loop.
	streamReadBuffer = 4096
)

// memoryInstruction frames retrieved cross-conversation fragments for
// the model: use them implicitly or not at all.
const memoryInstruction = `MEMORY — fragments from this person's recent conversations with you. Use them to notice patterns, track threads, and refer back naturally. Never announce that you remember or that memory was retrieved; weave it in only where it genuinely connects, and ignore all of it when nothing does.`

const titleInstruction = `Generate a concise 3-5 word title for this conversation. No quotes, no punctuation, just the title. Capture the essence, not the surface topic.`

// =============================================================================
// TURN TYPES
// =============================================================================

// TurnRequest describes one conversation turn.
type TurnRequest struct {
	// History is the ordered message history including the new user
	// message last.
	History []Message

	// Model is the inference model id; "" selects the default.
	Model string

	// ConversationID is the persistence target. "" runs the turn
	// without persisting either side.
	ConversationID string

	// PersonaID selects the system voice; unknown ids fall back to
	// the default persona.
	PersonaID string

	// FieldStudy is an optional grounding document injected verbatim
	// (bounded) as a system message.
	FieldStudy string

	// WorkspaceID requests workspace grounding when non-empty.
	WorkspaceID string
}

// Callbacks receive every outcome of a turn. OnToken fires per delta
// in arrival order; exactly one of OnDone or OnError fires afterward.
type Callbacks struct {
	OnToken func(delta string)
	OnDone  func(full string)
	OnError func(err error)
}

// HeaderSource produces the authenticated header set for upstream
// calls.
type HeaderSource interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs conversation turns end to end: persistence,
// grounding, streaming, and title generation.
type Orchestrator struct {
	store    *storage.Store
	headers  HeaderSource
	client   *Client
	embedder storage.Embedder
}

// NewOrchestrator wires the turn pipeline together. embedder may be
// nil; title embedding is then skipped.
func NewOrchestrator(store *storage.Store, headers HeaderSource, client *Client, embedder storage.Embedder) *Orchestrator {
	return &Orchestrator{
		store:    store,
		headers:  headers,
		client:   client,
		embedder: embedder,
	}
}

// StreamChat runs one turn. All outcomes flow through cb; the method
// itself never panics and returns nothing. Canceling ctx aborts the
// stream; an aborted turn persists no assistant message.
func (o *Orchestrator) StreamChat(ctx context.Context, req TurnRequest, cb Callbacks) {
	fail := func(err error) {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}

	// The user's message is durable before any network work, so a
	// failed turn still leaves their side of the exchange.
	userInput := ""
	if n := len(req.History); n > 0 && req.History[n-1].Role == "user" {
		userInput = req.History[n-1].Content
		if req.ConversationID != "" {
			if _, err := o.store.CreateMessage(req.ConversationID, "user", userInput); err != nil {
				fail(err)
				return
			}
		}
	}

	headers, err := o.headers.AuthHeaders(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrAuthRequired) {
			fail(ErrUnauthorized)
		} else {
			fail(err)
		}
		return
	}

	system, err := o.systemStack(ctx, req, userInput)
	if err != nil {
		fail(err)
		return
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	body, err := o.client.Stream(ctx, headers, completionRequest{
		Model:       model,
		Messages:    append(system, req.History...),
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		fail(err)
		return
	}
	defer body.Close()

	full, err := o.consumeStream(ctx, body, cb)
	if err != nil {
		fail(err)
		return
	}

	if req.ConversationID != "" && full != "" {
		if _, err := o.store.CreateMessage(req.ConversationID, "assistant", full); err != nil {
			fail(err)
			return
		}
	}
	if cb.OnDone != nil {
		cb.OnDone(full)
	}
}

// systemStack assembles the ordered system messages for a turn:
// persona, workspace grounding, field-study document, memory.
func (o *Orchestrator) systemStack(ctx context.Context, req TurnRequest, userInput string) ([]Message, error) {
	system := []Message{{Role: "system", Content: persona.Get(req.PersonaID).SystemPrompt}}

	if req.WorkspaceID != "" {
		wsContext, err := o.store.WorkspaceContext(ctx, req.WorkspaceID, userInput)
		if err != nil {
			return nil, err
		}
		if wsContext != "" {
			system = append(system, Message{
				Role:    "system",
				Content: "WORKSPACE — relevant files from their active workspace:\n\n" + wsContext,
			})
		}
	}

	if req.FieldStudy != "" {
		system = append(system, Message{
			Role:    "system",
			Content: "FIELD STUDY — a document they are working from:\n\n" + util.TruncateRunes(req.FieldStudy, fieldStudyRunes),
		})
	}

	memory, err := o.store.RecentContext(req.ConversationID, userInput)
	if err != nil {
		// Memory is side grounding; a failed lookup never costs the turn.
		log.Printf("chat: memory context failed: %v", err)
		memory = ""
	}
	if memory != "" {
		system = append(system, Message{
			Role:    "system",
			Content: memoryInstruction + "\n\n" + memory,
		})
	}

	return system, nil
}

// consumeStream drains the SSE body, forwarding deltas in order.
func (o *Orchestrator) consumeStream(ctx context.Context, body io.Reader, cb Callbacks) (string, error) {
	var decoder Decoder
	var full strings.Builder
	buf := make([]byte, streamReadBuffer)

	emit := func(deltas []string) {
		for _, delta := range deltas {
			full.WriteString(delta)
			if cb.OnToken != nil {
				cb.OnToken(delta)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			emit(decoder.Feed(buf[:n]))
		}
		if err == io.EOF {
			emit(decoder.Finish())
			return full.String(), nil
		}
		if err != nil {
			// Cancellation surfaces as a body read error.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("stream read failed: %w", err)
		}
	}
}

// =============================================================================
// TITLE GENERATION
// =============================================================================

// GenerateTitle asks the model for a 3-5 word conversation title.
// Returns "" on any failure; titling is never worth surfacing an
// error for.
func (o *Orchestrator) GenerateTitle(ctx context.Context, history []Message, model string) string {
	headers, err := o.headers.AuthHeaders(ctx)
	if err != nil {
		return ""
	}

	if len(history) > titleHistoryMessages {
		history = history[:titleHistoryMessages]
	}
	if model == "" {
		model = DefaultModel
	}

	content, err := o.client.Complete(ctx, headers, completionRequest{
		Model:       model,
		Messages:    append([]Message{{Role: "system", Content: titleInstruction}}, history...),
		Temperature: titleTemperature,
		MaxTokens:   titleMaxTokens,
	})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(content)
}

// FinishTitling derives and stores a model-generated title plus a
// semantic embedding over title and seed text. Run after the first
// full exchange; every failure is logged and absorbed.
func (o *Orchestrator) FinishTitling(ctx context.Context, conversationID, userSeed string, history []Message, model string) {
	if conversationID == "" {
		return
	}

	title := o.GenerateTitle(ctx, history, model)
	if title != "" {
		if err := o.store.UpdateConversationTitle(conversationID, title); err != nil {
			log.Printf("chat: title update failed: %v", err)
		}
	}

	if o.embedder == nil {
		return
	}
	seed := strings.TrimSpace(title + "\n" + util.TruncateRunes(userSeed, fieldStudyRunes))
	vec, err := o.embedder.Embed(ctx, seed)
	if err != nil {
		log.Printf("chat: title embedding failed: %v", err)
		return
	}
	if err := o.store.UpdateConversationEmbedding(conversationID, vec); err != nil {
		log.Printf("chat: embedding update failed: %v", err)
	}
}
