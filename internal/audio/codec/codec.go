// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package codec defines the blocking microphone/speaker device contract
// (C1, §4.1). The concrete device (ALSA, CoreAudio, a SIP media leg, ...)
// is an external collaborator per spec.md §6 — this package only fixes the
// interface every pipeline depends on, plus a loopback test double.
package codec

import (
	"errors"
	"sync"

	"github.com/rapidaai/voicecore/internal/audio"
)

var (
	ErrOpenFailed  = errors.New("codec: open failed")
	ErrReadFailed  = errors.New("codec: read failed")
	ErrWriteFailed = errors.New("codec: write failed")
	ErrAlreadyOpen = errors.New("codec: already open")
	ErrNotOpen     = errors.New("codec: not open")
)

// Device is the uniform blocking read/write contract C5 drives. A single
// Read returns exactly one frame's worth of PCM16 mono samples; if the
// underlying hardware is multi-channel, the implementation must down-mix
// by keeping channel 0 before returning.
type Device interface {
	// Open acquires the device at the given format. A second Open without
	// an intervening Close fails with ErrAlreadyOpen.
	Open(format audio.Format) error
	// Read blocks until exactly one frame (format.FrameBytes()) of PCM16
	// is available, writing into buf (len(buf) must be >= FrameBytes) and
	// returning the number of bytes written.
	Read(buf []byte) (int, error)
	// Write accepts any byte count that is a multiple of 2 (one PCM16
	// sample) and blocks until accepted by the device.
	Write(buf []byte) (int, error)
	SetOutVolume(percent int) error
	SetOutMute(mute bool) error
	SetInGain(db float64) error
	Close() error
}

// LoopbackDevice is an in-memory Device used by tests and by any deployment
// that wants to drive the pipeline from byte buffers instead of real
// hardware. Written playback bytes are appended to Played(); Read blocks
// until a caller-fed capture frame is available, mirroring real hardware's
// blocking read (§4.5: "frame cadence is paced by the codec's blocking
// read") instead of erroring on an empty queue.
type LoopbackDevice struct {
	mu       sync.Mutex
	open     bool
	format   audio.Format
	capture  chan []byte   // queued frames to be returned by Read, in order
	stopCh   chan struct{} // closed by Close to unblock a pending Read; replaced on each Open
	played   []byte
	volume   int
	muted    bool
	inGainDb float64
}

// NewLoopbackDevice constructs an unopened loopback device.
func NewLoopbackDevice() *LoopbackDevice {
	return &LoopbackDevice{volume: 100, capture: make(chan []byte, 256), stopCh: make(chan struct{})}
}

func (d *LoopbackDevice) Open(format audio.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return ErrAlreadyOpen
	}
	d.format = format
	d.open = true
	d.stopCh = make(chan struct{})
	return nil
}

// Close marks the device closed and unblocks any Read currently waiting
// for a capture frame, so a recorder task parked in Read returns promptly
// instead of hanging past the caller's stop request.
func (d *LoopbackDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		close(d.stopCh)
	}
	d.open = false
	return nil
}

// FeedCapture enqueues one frame (exactly FrameBytes long) to be returned
// by a future Read call, in FIFO order. Safe to call before or after Open.
func (d *LoopbackDevice) FeedCapture(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.capture <- cp
}

// Read blocks until a frame fed via FeedCapture is available or the device
// is closed.
func (d *LoopbackDevice) Read(buf []byte) (int, error) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return 0, ErrNotOpen
	}
	stopCh := d.stopCh
	d.mu.Unlock()

	select {
	case frame := <-d.capture:
		return copy(buf, frame), nil
	case <-stopCh:
		return 0, ErrReadFailed
	}
}

func (d *LoopbackDevice) Write(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, ErrNotOpen
	}
	if len(buf)%2 != 0 {
		return 0, ErrWriteFailed
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	d.played = append(d.played, out...)
	return len(buf), nil
}

// Played returns everything written to the device so far.
func (d *LoopbackDevice) Played() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(d.played))
	copy(cp, d.played)
	return cp
}

func (d *LoopbackDevice) SetOutVolume(percent int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = percent
	return nil
}

func (d *LoopbackDevice) SetOutMute(mute bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = mute
	return nil
}

func (d *LoopbackDevice) SetInGain(db float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inGainDb = db
	return nil
}
