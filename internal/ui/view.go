// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func (a *App) View() string {
	if !a.ready {
		return "loading..."
	}
	if a.state == StateAuth {
		return a.authView()
	}

	var b strings.Builder
	b.WriteString(a.headerView())
	b.WriteString("\n")
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	b.WriteString(a.footerView())
	return b.String()
}

// =============================================================================
// AUTH VIEW
// =============================================================================

func (a *App) authView() string {
	var body string
	switch {
	case a.authErr != "":
		body = styleError.Render(a.authErr)
	case a.device == nil:
		body = "Contacting GitHub..."
	default:
		body = fmt.Sprintf(
			"Sign in with GitHub Copilot\n\nVisit  %s\nEnter  %s\n\nWaiting for authorization %s",
			a.device.VerificationURI,
			styleUserCode.Render(a.device.UserCode),
			a.spin.View(),
		)
	}
	box := styleAuthBox.Render(body)
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, box)
}

// =============================================================================
// CHAT VIEW
// =============================================================================

func (a *App) headerView() string {
	p := a.ActivePersona()
	title := fmt.Sprintf("%s · %s", p.Name, a.modelID)
	// Keep the header on one line whatever the terminal width.
	return styleHeader.Render(runewidth.Truncate(title, a.width-2, "…"))
}

func (a *App) footerView() string {
	status := "enter to send · esc to cancel · ctrl+c to quit"
	if a.state == StateStreaming {
		status = a.spin.View() + " thinking..."
	}
	if a.errText != "" {
		status = styleError.Render(a.errText)
	}
	return a.input.View() + "\n" + styleStatus.Render(status)
}

// refreshViewport re-renders the transcript and keeps the view pinned
// to the bottom.
func (a *App) refreshViewport() {
	if !a.ready {
		return
	}
	a.viewport.SetContent(a.transcript())
	a.viewport.GotoBottom()
}

func (a *App) transcript() string {
	var b strings.Builder
	for _, t := range a.turns {
		b.WriteString(a.renderTurn(t))
		b.WriteString("\n")
	}
	if a.state == StateStreaming {
		b.WriteString(styleAssistantLabel.Render(a.ActivePersona().Name))
		b.WriteString("\n")
		b.WriteString(a.streamingText.String())
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) renderTurn(t turn) string {
	switch t.role {
	case "user":
		return styleUserLabel.Render("You") + "\n" + t.content + "\n"
	case "artifact":
		title, body, _ := strings.Cut(t.content, "\n")
		return styleAuthBox.Render(styleAssistantLabel.Render(title) + "\n" + body) + "\n"
	default:
		return styleAssistantLabel.Render(a.ActivePersona().Name) + "\n" + a.renderMarkdown(t.content) + "\n"
	}
}

// renderMarkdown renders assistant prose with glamour, falling back to
// the raw text when rendering fails.
func (a *App) renderMarkdown(content string) string {
	width := a.viewport.Width - 2
	if width < 20 {
		width = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
