// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_KnownID(t *testing.T) {
	p := Get("oracle")
	assert.Equal(t, "oracle", p.ID)
	assert.Equal(t, "ORACLE", p.Name)
	assert.NotEmpty(t, p.SystemPrompt)
}

func TestGet_UnknownFallsBackToDefault(t *testing.T) {
	for _, id := range []string{"", "nope", "SERVE"} {
		p := Get(id)
		assert.Equal(t, DefaultID, p.ID, "id %q", id)
	}
}

func TestBuiltin_DefaultFirstAndDistinct(t *testing.T) {
	all := Builtin()
	assert.Equal(t, DefaultID, all[0].ID)

	seen := map[string]bool{}
	for _, p := range all {
		assert.False(t, seen[p.ID], "duplicate id %q", p.ID)
		seen[p.ID] = true
		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.Description)
		assert.NotEmpty(t, p.SystemPrompt)
	}
}
