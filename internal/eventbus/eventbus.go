// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package eventbus implements the bounded FIFO event queue (C9, §4.9)
// that decouples event producers (UI, network, Realtime Client callbacks)
// from the Session State Machine consumer.
//
// The source's EventMsg carries a fixed-size variant payload
// (int32/uint32/float/raw-4-bytes/pointer) because it runs on an embedded
// target with no garbage collector; in Go, a GC-managed interface{}
// payload is the idiomatic equivalent of "pointer-sized" (§9's
// "Raw pointer fields in events... implementers with ownership must copy
// into owned values" is exactly satisfied by Go's value/GC semantics
// here) and is recorded as an Open Question decision in DESIGN.md rather
// than hand-rolling a byte-packed union no Go caller would thank us for.
//
// No source in the retrieved pack implements a generic bounded event
// queue (the teacher's channels carry typed protobuf messages end to
// end); this is a buffered-channel FIFO, the same not-drop-silently
// semantics as internal/ring but for whole events instead of bytes.
package eventbus

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrTimeout = errors.New("eventbus: timeout")

// Msg is one bounded-queue entry (§4.9: "EventMsg{kind, timestamp,
// payload}"). Kind is caller-defined (the Session State Machine uses its
// own Event taxonomy as Payload; Kind lets a consumer dispatch without a
// type switch when it only cares about the tag). ID correlates a Msg across
// logs from the producer that posted it through to the consumer that
// eventually handles it; Post/PostFromISR fill it in when the caller leaves
// it blank.
type Msg struct {
	Kind      uint32
	Timestamp int64 // unix millis
	ID        string
	Payload   any
}

// Bus is a bounded FIFO of Msg values (default depth 20, §4.9). Safe for
// many concurrent producers and one consumer (the Session State Machine);
// multiple consumers would each compete for the same Receive, which is
// supported but not how this system uses it (§4.8: "one task, consumes
// events").
type Bus struct {
	ch chan Msg
}

// New constructs a Bus with the given capacity.
func New(depth int) *Bus {
	if depth <= 0 {
		depth = 20
	}
	return &Bus{ch: make(chan Msg, depth)}
}

// Post enqueues msg, blocking up to timeout if the bus is full. Returns
// ErrTimeout if the queue is still full when timeout elapses — events are
// never dropped silently on a normal Post (§4.9).
func (b *Bus) Post(msg Msg, timeout time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	select {
	case b.ch <- msg:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b.ch <- msg:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// PostFromISR enqueues msg without ever blocking, for producers running in
// an interrupt/callback-like context (§4.9: "must never block"). It
// returns false if the queue is full, matching §4.9's guidance that such
// producers yield to a higher-priority waiter rather than stall; the
// caller is expected to log/count the drop since a non-blocking post has
// no timeout to retry against.
func (b *Bus) PostFromISR(msg Msg) bool {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	select {
	case b.ch <- msg:
		return true
	default:
		return false
	}
}

// Receive blocks up to timeout for the next Msg in FIFO order, returning
// ok=false on timeout (§4.8: "consuming Events... with a 100ms receive
// timeout so it can poll periodically without blocking forever").
func (b *Bus) Receive(timeout time.Duration) (Msg, bool) {
	if timeout <= 0 {
		select {
		case m := <-b.ch:
			return m, true
		default:
			return Msg{}, false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-b.ch:
		return m, true
	case <-timer.C:
		return Msg{}, false
	}
}

// Len returns the number of currently queued messages.
func (b *Bus) Len() int {
	return len(b.ch)
}
