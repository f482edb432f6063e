// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package ring implements the bounded byte ring buffer (C2, §4.2) used
// between the audio pipeline's producer and consumer tasks. It generalizes
// the buffer-plus-mutex discipline the teacher uses for its protobuf
// message buffers (channel_base.baseStreamer's inputAudioBuffer /
// outputAudioBuffer, each behind its own sync.Mutex) to the timeout-bounded
// blocking push/pop contract spec.md §4.2 requires: the teacher's buffers
// never block — a full buffer there just stops accumulating until the
// threshold check next runs — whereas this one must let a caller wait up
// to a deadline for room or data.
package ring

import (
	"bytes"
	"sync"
	"time"
)

// Buffer is a bounded, byte-granular ring buffer safe for one producer and
// one consumer running concurrently (§4.2: "must be safe for one producer
// and one consumer concurrently; multiple producers/consumers serialize
// through an internal lock").
type Buffer struct {
	mu       sync.Mutex
	capacity int
	data     bytes.Buffer

	// notEmpty/notFull are replaced (closed, then re-made) every time the
	// corresponding condition becomes true, so waiters parked on a select
	// against the old channel wake up exactly once per state change and
	// can still honor a timeout via time.After.
	notEmpty chan struct{}
	notFull  chan struct{}
}

// New constructs a Buffer with the given byte capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		capacity: capacity,
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
	}
}

// Capacity returns the configured byte capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Len returns the number of bytes currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.Len()
}

// Push writes as much of p as fits within timeout, blocking while the
// buffer is full. It returns the number of bytes actually written; a
// partial write (including zero) means the timeout elapsed before the
// remainder found room, per §4.2's "may be partial on timeout with
// multi-chunk writes".
func (b *Buffer) Push(p []byte, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	written := 0

	for written < len(p) {
		b.mu.Lock()
		free := b.capacity - b.data.Len()
		if free <= 0 {
			waitCh := b.notFull
			b.mu.Unlock()
			if !waitFor(waitCh, deadline) {
				return written
			}
			continue
		}

		n := len(p) - written
		if n > free {
			n = free
		}
		b.data.Write(p[written : written+n])
		written += n
		b.signalNotEmptyLocked()
		b.mu.Unlock()
	}
	return written
}

// PopUpTo returns up to max bytes, blocking up to timeout if the buffer is
// currently empty. It returns nil/0 only on timeout (§4.2).
func (b *Buffer) PopUpTo(max int, timeout time.Duration) []byte {
	if max <= 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)

	for {
		b.mu.Lock()
		if b.data.Len() == 0 {
			waitCh := b.notEmpty
			b.mu.Unlock()
			if !waitFor(waitCh, deadline) {
				return nil
			}
			continue
		}

		n := b.data.Len()
		if n > max {
			n = max
		}
		out := make([]byte, n)
		b.data.Read(out)
		b.signalNotFullLocked()
		b.mu.Unlock()
		return out
	}
}

// Reset atomically empties the buffer, unblocking any writer waiting for
// room (§4.2: "reset empties all content atomically").
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.data.Reset()
	b.signalNotFullLocked()
	b.mu.Unlock()
}

// signalNotEmptyLocked wakes any PopUpTo waiters. Caller holds mu.
func (b *Buffer) signalNotEmptyLocked() {
	old := b.notEmpty
	b.notEmpty = make(chan struct{})
	close(old)
}

// signalNotFullLocked wakes any Push waiters. Caller holds mu.
func (b *Buffer) signalNotFullLocked() {
	old := b.notFull
	b.notFull = make(chan struct{})
	close(old)
}

// waitFor blocks on ch until it fires or deadline passes, returning false
// on timeout.
func waitFor(ch <-chan struct{}, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
