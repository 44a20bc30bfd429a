// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui is the terminal front end: a Bubble Tea program wrapping
// the auth device flow and the streaming chat orchestrator.
package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/openclaw/serve/internal/auth"
	"github.com/openclaw/serve/internal/chat"
	"github.com/openclaw/serve/internal/config"
	"github.com/openclaw/serve/internal/persona"
	"github.com/openclaw/serve/internal/storage"
)

// =============================================================================
// STATE
// =============================================================================

// State is the top-level mode of the program.
type State int

const (
	StateAuth      State = iota // Device flow in progress
	StateReady                  // Waiting for input
	StateStreaming              // Receiving a response
)

// turn is one rendered exchange side.
type turn struct {
	role    string
	content string
}

// =============================================================================
// MESSAGES
// =============================================================================

type deviceCodeMsg struct {
	device *auth.DeviceAuthorization
	err    error
}

type pollTickMsg struct{}

type pollResultMsg struct {
	result auth.PollResult
	err    error
}

type streamTokenMsg string

type streamDoneMsg string

type streamErrMsg struct{ err error }

// =============================================================================
// APP MODEL
// =============================================================================

// App is the Bubble Tea model for the whole program.
type App struct {
	cfg   *config.Config
	store *storage.Store
	authn *auth.Authenticator
	orch  *chat.Orchestrator

	state  State
	width  int
	height int
	ready  bool

	// Auth flow
	device    *auth.DeviceAuthorization
	pollDelay time.Duration
	authErr   string

	// Conversation
	conversationID string
	modelID        string
	personaID      string
	workspaceID    string
	turns          []turn
	streamingText  strings.Builder
	titled         bool

	// Streaming plumbing: orchestrator callbacks run on their own
	// goroutine and deliver through events; the pacer sits between
	// arrival and display. The buffer absorbs pacing bursts; should
	// the program loop ever stall past it, the send blocks the
	// pacer's drain goroutine, not the orchestrator's read loop.
	events     chan tea.Msg
	pacer      *chat.Pacer
	cancelTurn context.CancelFunc

	// Components
	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	errText string
}

// NewApp wires the program model.
func NewApp(cfg *config.Config, store *storage.Store, authn *auth.Authenticator, orch *chat.Orchestrator) *App {
	input := textinput.New()
	input.Placeholder = "Say something..."
	input.CharLimit = 0
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &App{
		cfg:       cfg,
		store:     store,
		authn:     authn,
		orch:      orch,
		modelID:   cfg.DefaultModel,
		personaID: cfg.DefaultPersona,
		pollDelay: auth.InitialPollDelay,
		events:    make(chan tea.Msg, 64),
		input:     input,
		spin:      sp,
	}
}

// Init starts either the device flow or an authenticated session.
func (a *App) Init() tea.Cmd {
	if a.authn.IsAuthenticated() {
		a.state = StateReady
		return textinput.Blink
	}
	a.state = StateAuth
	return tea.Batch(a.startDeviceFlow(), a.spin.Tick)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (a *App) startDeviceFlow() tea.Cmd {
	return func() tea.Msg {
		device, err := a.authn.StartDeviceFlow(context.Background())
		return deviceCodeMsg{device: device, err: err}
	}
}

func (a *App) schedulePoll() tea.Cmd {
	return tea.Tick(a.pollDelay, func(time.Time) tea.Msg { return pollTickMsg{} })
}

func (a *App) poll() tea.Cmd {
	return func() tea.Msg {
		result, err := a.authn.CheckTokenStatus(context.Background())
		return pollResultMsg{result: result, err: err}
	}
}

// awaitEvent pumps one message from the streaming goroutine into the
// program loop.
func (a *App) awaitEvent() tea.Cmd {
	return func() tea.Msg { return <-a.events }
}

// startTurn launches the orchestrator for the typed input.
func (a *App) startTurn(input string) tea.Cmd {
	history := make([]chat.Message, 0, len(a.turns)+1)
	for _, t := range a.turns {
		// Artifact turns are display-only; they are already part of
		// the assistant turn they were extracted from.
		if t.role == "artifact" {
			continue
		}
		history = append(history, chat.Message{Role: t.role, Content: t.content})
	}
	history = append(history, chat.Message{Role: "user", Content: input})

	ctx, cancel := context.WithCancel(context.Background())
	a.cancelTurn = cancel

	a.pacer = chat.NewPacer(func(delta string) {
		a.events <- streamTokenMsg(delta)
	})
	pacer := a.pacer

	go a.orch.StreamChat(ctx, chat.TurnRequest{
		History:        history,
		Model:          a.modelID,
		ConversationID: a.conversationID,
		PersonaID:      a.personaID,
		WorkspaceID:    a.workspaceID,
	}, chat.Callbacks{
		OnToken: pacer.Push,
		OnDone: func(full string) {
			pacer.Flush()
			a.events <- streamDoneMsg(full)
		},
		OnError: func(err error) {
			pacer.Stop()
			a.events <- streamErrMsg{err: err}
		},
	})

	return tea.Batch(a.awaitEvent(), a.spin.Tick)
}

// finishTitling runs the post-first-exchange titling in the
// background; it never reports into the UI.
func (a *App) finishTitling(seed string, full string) {
	history := []chat.Message{
		{Role: "user", Content: seed},
		{Role: "assistant", Content: full},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.orch.FinishTitling(ctx, a.conversationID, seed, history, a.modelID)
}

// =============================================================================
// UPDATE
// =============================================================================

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case deviceCodeMsg:
		if msg.err != nil {
			a.authErr = msg.err.Error()
			return a, nil
		}
		a.device = msg.device
		a.pollDelay = auth.InitialPollDelay
		if msg.device.Interval > 0 {
			a.pollDelay = time.Duration(msg.device.Interval) * time.Second
		}
		return a, a.schedulePoll()

	case pollTickMsg:
		return a, a.poll()

	case pollResultMsg:
		return a.handlePollResult(msg)

	case streamTokenMsg:
		a.streamingText.WriteString(string(msg))
		a.refreshViewport()
		return a, a.awaitEvent()

	case streamDoneMsg:
		return a.handleStreamDone(string(msg))

	case streamErrMsg:
		a.state = StateReady
		a.streamingText.Reset()
		a.errText = msg.err.Error()
		a.refreshViewport()
		return a, nil

	case spinner.TickMsg:
		if a.state != StateStreaming && a.state != StateAuth {
			return a, nil
		}
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if a.cancelTurn != nil {
			a.cancelTurn()
		}
		return a, tea.Quit

	case "esc":
		if a.state == StateStreaming && a.cancelTurn != nil {
			a.cancelTurn()
		}
		return a, nil

	case "enter":
		if a.state != StateReady {
			break
		}
		text := strings.TrimSpace(a.input.Value())
		if text == "" {
			return a, nil
		}
		return a.submit(text)
	}

	if a.state == StateAuth {
		return a, nil
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) submit(text string) (tea.Model, tea.Cmd) {
	if a.conversationID == "" {
		conv, err := a.store.CreateConversation(a.modelID, a.workspaceID)
		if err != nil {
			a.errText = err.Error()
			return a, nil
		}
		a.conversationID = conv.ID
		a.titled = false
	}

	a.errText = ""
	a.turns = append(a.turns, turn{role: "user", content: text})
	a.input.Reset()
	a.state = StateStreaming
	a.streamingText.Reset()
	a.refreshViewport()
	return a, a.startTurn(text)
}

func (a *App) handlePollResult(msg pollResultMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.authErr = msg.err.Error()
		return a, nil
	}
	switch msg.result.State {
	case auth.PollSuccess:
		a.state = StateReady
		a.device = nil
		a.authErr = ""
		return a, textinput.Blink
	case auth.PollSlowDown:
		a.pollDelay += auth.SlowDownIncrement
		return a, a.schedulePoll()
	case auth.PollPending:
		return a, a.schedulePoll()
	case auth.PollExpired:
		a.device = nil
		a.authErr = "Device code expired, requesting a new one..."
		return a, a.startDeviceFlow()
	default:
		a.authErr = msg.result.Message
		return a, nil
	}
}

func (a *App) handleStreamDone(full string) (tea.Model, tea.Cmd) {
	a.state = StateReady
	a.streamingText.Reset()
	if full != "" {
		// Artifacts render as their own block beneath the prose.
		if artifact, remainder := chat.ExtractArtifact(full); artifact != nil {
			a.turns = append(a.turns, turn{role: "assistant", content: remainder})
			a.turns = append(a.turns, turn{role: "artifact", content: artifact.Title + "\n" + artifact.Body})
		} else {
			a.turns = append(a.turns, turn{role: "assistant", content: full})
		}
	}
	a.refreshViewport()

	if !a.titled && a.conversationID != "" {
		a.titled = true
		seed := ""
		for _, t := range a.turns {
			if t.role == "user" {
				seed = t.content
				break
			}
		}
		go a.finishTitling(seed, full)
	}
	return a, nil
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height

	headerHeight := 1
	footerHeight := 3
	vpHeight := height - headerHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !a.ready {
		a.viewport = viewport.New(width, vpHeight)
		a.ready = true
	} else {
		a.viewport.Width = width
		a.viewport.Height = vpHeight
	}
	a.input.Width = width - 4
	a.refreshViewport()
}

// ActivePersona returns the persona currently in effect.
func (a *App) ActivePersona() persona.Persona {
	return persona.Get(a.personaID)
}
