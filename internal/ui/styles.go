// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import "github.com/charmbracelet/lipgloss"

// Palette. Deliberately muted; the conversation is the interface.
var (
	colorAccent = lipgloss.Color("99")
	colorDim    = lipgloss.Color("240")
	colorUser   = lipgloss.Color("39")
	colorError  = lipgloss.Color("196")

	styleHeader = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Padding(0, 1)

	styleStatus = lipgloss.NewStyle().
			Foreground(colorDim).
			Padding(0, 1)

	styleUserLabel = lipgloss.NewStyle().
			Foreground(colorUser).
			Bold(true)

	styleAssistantLabel = lipgloss.NewStyle().
				Foreground(colorAccent).
				Bold(true)

	styleError = lipgloss.NewStyle().
			Foreground(colorError)

	styleAuthBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(1, 3)

	styleUserCode = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Underline(true)
)
