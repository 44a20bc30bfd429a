// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Default pacing delays, keyed on a delta's trailing character.
const (
	defaultDelay   = 15 * time.Millisecond
	sentenceDelay  = 150 * time.Millisecond
	paragraphDelay = 300 * time.Millisecond
)

// Pacer delivers queued deltas one at a time at a variable rate:
// longer pauses after paragraph breaks and sentence-ending
// punctuation, shorter otherwise. Delivery order always matches
// arrival order.
//
// Flush drains everything still queued as a single atomic emission so
// a pending timer can never truncate the final text. Emissions are
// serialized but run outside the queue lock: a slow consumer stalls
// pacing, never Push. The emit function must not call back into the
// Pacer.
type Pacer struct {
	mu      sync.Mutex
	queue   []string
	timer   *time.Timer
	running bool
	stopped bool

	// emitMu serializes emissions and orders Flush after any
	// in-flight step. Always acquired before mu, never under it.
	emitMu sync.Mutex
	emit   func(delta string)

	paragraph time.Duration
	sentence  time.Duration
	fallback  time.Duration
}

// NewPacer creates a pacer delivering through emit.
func NewPacer(emit func(delta string)) *Pacer {
	return &Pacer{
		emit:      emit,
		paragraph: paragraphDelay,
		sentence:  sentenceDelay,
		fallback:  defaultDelay,
	}
}

// WithDelays overrides the pacing delays. Returns the pacer for
// chaining.
func (p *Pacer) WithDelays(paragraph, sentence, fallback time.Duration) *Pacer {
	p.paragraph = paragraph
	p.sentence = sentence
	p.fallback = fallback
	return p
}

// Push enqueues one delta. An idle pacer starts draining right away;
// Push itself never waits on the consumer.
func (p *Pacer) Push(delta string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.queue = append(p.queue, delta)
	if !p.running {
		p.running = true
		p.timer = time.AfterFunc(0, p.step)
	}
}

// step emits the head of the queue, then schedules the next step
// keyed on what was just emitted. The pacer stays "running" through
// that delay even when the queue is momentarily empty, so rapid-fire
// pushes are still paced apart.
func (p *Pacer) step() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.stopped || len(p.queue) == 0 {
		p.running = false
		p.mu.Unlock()
		return
	}
	delta := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()

	p.emit(delta)

	p.mu.Lock()
	if p.stopped {
		p.running = false
	} else {
		p.timer = time.AfterFunc(p.delayFor(delta), p.step)
	}
	p.mu.Unlock()
}

// Flush emits everything still queued as one delta and cancels the
// pending timer. Waits out any emission already in flight so the
// remainder lands last.
func (p *Pacer) Flush() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.running = false
	if p.stopped || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	rest := strings.Join(p.queue, "")
	p.queue = nil
	p.mu.Unlock()

	p.emit(rest)
}

// Stop cancels the pending timer and drops anything queued. An
// emission already in flight still lands; nothing follows it.
func (p *Pacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.queue = nil
	p.running = false
}

func (p *Pacer) delayFor(delta string) time.Duration {
	if delta == "" {
		return p.fallback
	}
	if strings.HasSuffix(delta, "\n\n") || strings.HasSuffix(delta, "\n") {
		return p.paragraph
	}
	switch last, _ := utf8.DecodeLastRuneInString(delta); last {
	case '.', '!', '?':
		return p.sentence
	}
	return p.fallback
}
