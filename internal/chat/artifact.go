// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "strings"

// Artifact is a structured block the model embeds in a response using
// a fenced ```artifact convention: the first line inside the fence is
// the title, the rest is the body.
type Artifact struct {
	Title string
	Body  string
}

const (
	artifactOpen  = "```artifact"
	artifactClose = "```"
)

// ExtractArtifact parses the first artifact block out of a response.
// Returns the artifact (nil when absent or unterminated) and the
// response text with the block removed. An unterminated block leaves
// the response untouched rather than guessing at its extent.
func ExtractArtifact(response string) (*Artifact, string) {
	start := strings.Index(response, artifactOpen)
	if start == -1 {
		return nil, response
	}
	afterOpen := start + len(artifactOpen)

	// The opening fence must end its line.
	lineEnd := strings.Index(response[afterOpen:], "\n")
	if lineEnd == -1 || strings.TrimSpace(response[afterOpen:afterOpen+lineEnd]) != "" {
		return nil, response
	}
	inner := afterOpen + lineEnd + 1

	// The closing fence must also start a line, so a ``` inside the
	// body cannot terminate the block early.
	var end int
	if strings.HasPrefix(response[inner:], artifactClose) {
		end = 0
	} else {
		idx := strings.Index(response[inner:], "\n"+artifactClose)
		if idx == -1 {
			return nil, response
		}
		end = idx + 1
	}
	block := response[inner : inner+end]

	title, body, _ := strings.Cut(block, "\n")
	artifact := &Artifact{
		Title: strings.TrimSpace(title),
		Body:  strings.TrimRight(body, "\n"),
	}

	remainder := response[:start] + response[inner+end+len(artifactClose):]
	remainder = strings.TrimLeft(remainder, "\n")
	remainder = strings.ReplaceAll(remainder, "\n\n\n", "\n\n")
	return artifact, strings.TrimRight(remainder, "\n")
}
