// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emissionLog collects emitted deltas thread-safely.
type emissionLog struct {
	mu     sync.Mutex
	deltas []string
}

func (l *emissionLog) emit(delta string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deltas = append(l.deltas, delta)
}

func (l *emissionLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.deltas...)
}

func TestPacer_PreservesArrivalOrder(t *testing.T) {
	log := &emissionLog{}
	p := NewPacer(log.emit).WithDelays(time.Millisecond, time.Millisecond, time.Millisecond)
	defer p.Stop()

	for _, d := range []string{"a", "b.", "c\n\n", "d"} {
		p.Push(d)
	}

	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b.", "c\n\n", "d"}, log.snapshot())
}

func TestPacer_FlushDrainsAtomically(t *testing.T) {
	log := &emissionLog{}
	// Delays long enough that nothing past the first delta drains on
	// its own before the flush.
	p := NewPacer(log.emit).WithDelays(time.Hour, time.Hour, time.Hour)
	defer p.Stop()

	p.Push("one ")
	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 1
	}, time.Second, time.Millisecond, "first delta of an idle pacer drains right away")

	p.Push("two ")
	p.Push("three")

	p.Flush()
	assert.Equal(t, []string{"one ", "two three"}, log.snapshot(),
		"flush emits the remainder as one delta")

	// Flushing an empty pacer emits nothing.
	p.Flush()
	assert.Len(t, log.snapshot(), 2)
}

func TestPacer_StopDropsQueueAndSilences(t *testing.T) {
	log := &emissionLog{}
	p := NewPacer(log.emit).WithDelays(time.Millisecond, time.Millisecond, time.Millisecond)

	p.Push("kept")
	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 1
	}, time.Second, time.Millisecond)

	p.Stop()
	p.Push("dropped")
	p.Flush()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"kept"}, log.snapshot())
}

func TestPacer_RapidPushesArePacedApart(t *testing.T) {
	log := &emissionLog{}
	var times []time.Time
	p := NewPacer(func(delta string) {
		times = append(times, time.Now()) // emissions are serialized
		log.emit(delta)
	}).WithDelays(30*time.Millisecond, 30*time.Millisecond, 30*time.Millisecond)
	defer p.Stop()

	p.Push("first")
	// Arrives while the pacer is cooling down from the first emit.
	time.Sleep(2 * time.Millisecond)
	p.Push("second")

	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	gap := times[1].Sub(times[0])
	assert.GreaterOrEqual(t, gap, 25*time.Millisecond,
		"second delta waits out the pacing delay")
}

func TestPacer_SlowConsumerDoesNotBlockPush(t *testing.T) {
	release := make(chan struct{})
	log := &emissionLog{}
	p := NewPacer(func(delta string) {
		<-release
		log.emit(delta)
	}).WithDelays(time.Millisecond, time.Millisecond, time.Millisecond)
	defer p.Stop()

	pushed := make(chan struct{})
	go func() {
		for _, d := range []string{"a", "b", "c"} {
			p.Push(d)
		}
		close(pushed)
	}()

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Push blocked behind a stalled consumer")
	}

	close(release)
	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, log.snapshot())
}

func TestPacer_DelayKeyedOnTrailingCharacter(t *testing.T) {
	p := NewPacer(func(string) {})
	defer p.Stop()

	assert.Equal(t, p.paragraph, p.delayFor("end of thought\n\n"))
	assert.Equal(t, p.paragraph, p.delayFor("line\n"))
	assert.Equal(t, p.sentence, p.delayFor("A sentence."))
	assert.Equal(t, p.sentence, p.delayFor("Really!"))
	assert.Equal(t, p.sentence, p.delayFor("Oh?"))
	assert.Equal(t, p.fallback, p.delayFor("mid-thought"))
	assert.Equal(t, p.fallback, p.delayFor(""))
}
