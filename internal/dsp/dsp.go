// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package dsp implements the per-frame signal conditioning stages (C3,
// §4.3): a first-order high-pass filter, a simple linear acoustic echo
// canceller, and a threshold-based noise suppressor. These are
// deliberately simple, linear-time approximations (spec.md §1 Non-goals:
// "high-fidelity DSP") — not spectral subtraction, not adaptive filtering.
//
// No source in the retrieved pack implements raw per-sample frame DSP (the
// teacher's "transformer" packages normalize provider wire formats, not
// PCM frames); this package follows spec.md §4.3's formulas directly, in
// the stateful-struct-with-mutex-free-per-task-state shape the teacher
// uses for other per-connection state (channel_base.baseStreamer).
package dsp

import "sync"

// Config selects which stages are enabled for a Chain and their
// aggressiveness, mirroring PipelineConfig (§3).
type Config struct {
	AEC     bool
	AECMode int // 0..2
	NS      bool
	NSLevel int // 0..3
}

// Chain holds the per-pipeline-instance filter state. A Chain is not safe
// for concurrent Process calls (only one recorder task ever calls
// Process); FeedAECRef is safe to call concurrently with Process since the
// reference frame is guarded by its own lock (§4.3: "stored under a short
// lock; a copy is taken, not a pointer").
type Chain struct {
	cfg Config

	// High-pass filter state: (x[-1], y[-1]), reset to 0 on pipeline start.
	// Kept as int64 — §4.3 edge behavior requires all-integer arithmetic,
	// no NaNs.
	prevX int64
	prevY int64

	refMu sync.Mutex
	ref   []int16 // nil until a reference frame has been fed
}

// New constructs a Chain with fresh filter state.
func New(cfg Config) *Chain {
	return &Chain{cfg: cfg}
}

// Reset clears the high-pass filter state. Called on pipeline (re)start.
func (c *Chain) Reset() {
	c.prevX = 0
	c.prevY = 0
}

// FeedAECRef supplies the current playback reference frame. The reference
// must be the same length as future frames passed to Process. A copy is
// stored; the caller's slice may be reused immediately after this returns.
func (c *Chain) FeedAECRef(ref []int16) {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	c.ref = append(c.ref[:0:0], ref...)
}

// ClearAECRef drops the stored reference so a stale one is never reused
// across an unrelated gap (e.g. after stop/start).
func (c *Chain) ClearAECRef() {
	c.refMu.Lock()
	c.ref = nil
	c.refMu.Unlock()
}

// Process runs HPF -> AEC -> NS, in that fixed order (§8 property 1), on
// frame in place.
func (c *Chain) Process(frame []int16) {
	c.highPass(frame)
	if c.cfg.AEC {
		c.aec(frame)
	}
	if c.cfg.NS {
		noiseSuppress(frame, c.cfg.NSLevel)
	}
}

// highPass applies y[n] = 0.98*y[n-1] + (x[n] - x[n-1]) and writes the
// saturated int16 result back into frame, always (§4.3: "always applied
// after capture, before AEC/NS/VAD"). 0.98 is realized as the integer
// ratio 98/100, per §4.3's "all integer arithmetic" edge behavior.
func (c *Chain) highPass(frame []int16) {
	x, y := c.prevX, c.prevY
	for i, s := range frame {
		xn := int64(s)
		yn := (98*y)/100 + (xn - x)
		frame[i] = clipI64(yn)
		x, y = xn, yn
	}
	c.prevX, c.prevY = x, y
}

// aec subtracts a gained copy of the stored reference frame from mic
// samples. If no reference is available, AEC is a no-op for this frame
// (§4.3). gain = (50+20*mode)/100 is applied as an integer numerator over
// a denominator of 100.
func (c *Chain) aec(frame []int16) {
	c.refMu.Lock()
	ref := c.ref
	c.refMu.Unlock()
	if ref == nil || len(ref) != len(frame) {
		return
	}
	gainNum := int64(50 + 20*c.cfg.AECMode)
	for i := range frame {
		out := int64(frame[i]) - (gainNum*int64(ref[i]))/100
		frame[i] = clipI64(out)
	}
}

// noiseSuppress attenuates low-energy samples by 4x: not spectral
// subtraction, a deliberate attenuation (§4.3).
func noiseSuppress(frame []int16, level int) {
	t := int32(500 + 200*level)
	for i, s := range frame {
		v := int32(s)
		if abs32(v) < t {
			frame[i] = int16(v / 4)
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// clipI64 saturates an int64 sample to the int16 range.
func clipI64(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
