// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/json"
	"strings"
)

// STREAMING: Robust SSE parsing with error handling

// streamChunk is one streamed completion delta.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder incrementally decodes `data: ` framed SSE chunks into
// content deltas. Network reads split frames at arbitrary byte
// offsets, so the trailing incomplete line of every chunk is buffered
// and prepended to the next one; the delta sequence is therefore
// identical regardless of how the byte stream was chunked.
//
// Malformed JSON payloads are skipped without aborting the stream,
// and the `[DONE]` terminator is ignored.
type Decoder struct {
	buf string
}

// Feed consumes one chunk of raw bytes and returns the content deltas
// completed by it, in arrival order.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf += string(chunk)

	lines := strings.Split(d.buf, "\n")
	d.buf = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var deltas []string
	for _, line := range lines {
		if delta, ok := decodeLine(line); ok {
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// Finish decodes whatever remains in the buffer after the stream
// ends. A well-formed stream leaves nothing, but a final frame
// without a trailing newline is still honored.
func (d *Decoder) Finish() []string {
	line := d.buf
	d.buf = ""
	if delta, ok := decodeLine(line); ok {
		return []string{delta}
	}
	return nil
}

func decodeLine(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, "data: ") {
		return "", false
	}
	data := line[len("data: "):]
	if data == "[DONE]" {
		return "", false
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Partial or corrupted frames are expected at chunk
		// boundaries; skip rather than abort.
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}
