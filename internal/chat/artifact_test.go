// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractArtifact_Present(t *testing.T) {
	response := "Here is the plan.\n\n```artifact\nMigration Plan\nstep one\nstep two\n```\n\nLet me know."

	artifact, remainder := ExtractArtifact(response)
	require.NotNil(t, artifact)
	assert.Equal(t, "Migration Plan", artifact.Title)
	assert.Equal(t, "step one\nstep two", artifact.Body)
	assert.Contains(t, remainder, "Here is the plan.")
	assert.Contains(t, remainder, "Let me know.")
	assert.NotContains(t, remainder, "```artifact")
}

func TestExtractArtifact_Absent(t *testing.T) {
	response := "Just prose, with an ordinary ```go\ncode block\n``` inside."
	artifact, remainder := ExtractArtifact(response)
	assert.Nil(t, artifact)
	assert.Equal(t, response, remainder)
}

func TestExtractArtifact_Unterminated(t *testing.T) {
	response := "Intro\n```artifact\nTitle\nbody with no closing fence"
	artifact, remainder := ExtractArtifact(response)
	assert.Nil(t, artifact)
	assert.Equal(t, response, remainder)
}

func TestExtractArtifact_TitleOnly(t *testing.T) {
	artifact, _ := ExtractArtifact("```artifact\nJust A Title\n```")
	require.NotNil(t, artifact)
	assert.Equal(t, "Just A Title", artifact.Title)
	assert.Empty(t, artifact.Body)
}

func TestExtractArtifact_BodyContainingFenceMidLine(t *testing.T) {
	response := "```artifact\nSnippets\nuse ``` to fence code\n```"
	artifact, _ := ExtractArtifact(response)
	require.NotNil(t, artifact)
	assert.Equal(t, "use ``` to fence code", artifact.Body)
}

func TestExtractArtifact_TrailingTextAfterOpenRejected(t *testing.T) {
	response := "```artifact extra words\nTitle\n```"
	artifact, remainder := ExtractArtifact(response)
	assert.Nil(t, artifact)
	assert.Equal(t, response, remainder)
}
