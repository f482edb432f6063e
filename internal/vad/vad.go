// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package vad implements the energy-based voice-activity state machine
// with hysteresis (C4, §4.4). No source in the retrieved pack implements
// this exact RMS-threshold state machine — the teacher links
// silero-vad-go, a neural VAD, for its own (cloud-side, post-decode) voice
// activity needs — so this package follows spec.md §4.4's transition
// table directly, in the small single-purpose-struct shape the teacher
// uses for its other per-connection trackers (e.g. channel/base's session
// trackers).
package vad

import (
	"math"

	"github.com/rapidaai/voicecore/internal/audio"
)

// Config configures the energy threshold and hysteresis window.
// Mode is the 0..3 aggressiveness knob carried through PipelineConfig
// (spec.md §3); this package takes Threshold/SilenceMS as its actual
// tunables and keeps Mode only for observability — see DESIGN.md's Open
// Question decisions for why Mode does not itself scale the threshold.
type Config struct {
	Threshold int64 // RMS energy threshold, default 100
	SilenceMS int64 // hysteresis window before VoiceEnd, default 500
	Mode      int
}

// DefaultConfig returns spec.md §3's documented defaults.
func DefaultConfig() Config {
	return Config{Threshold: 100, SilenceMS: 500}
}

// EdgeListener is invoked synchronously, from within Process, exactly
// once per Silence->VoiceStart or Voice->VoiceEnd transition (§4.4:
// "Subscribers observe the edge synchronously from the processing
// context").
type EdgeListener func(edge audio.VadState)

// Detector is the per-pipeline-instance VAD state machine. Not safe for
// concurrent Process calls; only the recorder task ever drives one.
type Detector struct {
	cfg   Config
	state audio.VadState

	hasSilenceStart bool
	silenceStartMS  int64

	onEdge EdgeListener
}

// New constructs a Detector starting in Silence.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg, state: audio.Silence}
}

// OnEdge registers the edge subscriber. Replaces any previous listener.
func (d *Detector) OnEdge(fn EdgeListener) {
	d.onEdge = fn
}

// State returns the current VAD state.
func (d *Detector) State() audio.VadState {
	return d.state
}

// Reset returns the detector to Silence with no pending hysteresis,
// called on pipeline (re)start.
func (d *Detector) Reset() {
	d.state = audio.Silence
	d.hasSilenceStart = false
	d.silenceStartMS = 0
}

// Energy computes the RMS energy of frame, sum-of-squares accumulated in
// int64 to avoid overflow (§4.4).
func Energy(frame []int16) int64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSq int64
	for _, s := range frame {
		v := int64(s)
		sumSq += v * v
	}
	mean := float64(sumSq) / float64(len(frame))
	return int64(math.Sqrt(mean))
}

// Level maps an energy estimate to the 0..100 scale (§4.4: level =
// min(100, energy/100)).
func Level(energy int64) int {
	l := energy / 100
	if l > 100 {
		l = 100
	}
	return int(l)
}

// Process advances the state machine by one frame at the given tick (a
// monotonically increasing millisecond counter — the frame's capture
// tick) and returns the resulting state and 0..100 level. Reports an edge
// synchronously via the registered listener exactly once per qualifying
// transition (§4.4).
func (d *Detector) Process(frame []int16, tickMS int64) (audio.VadState, int) {
	energy := Energy(frame)
	level := Level(energy)
	voiced := energy > d.cfg.Threshold

	switch d.state {
	case audio.Silence:
		if voiced {
			d.state = audio.VoiceStart
			d.hasSilenceStart = false
			d.emit(audio.VoiceStart)
		}

	case audio.VoiceStart:
		// Always advances to Voice after exactly one frame (§4.4).
		d.state = audio.Voice

	case audio.Voice:
		if voiced {
			d.hasSilenceStart = false
		} else {
			if !d.hasSilenceStart {
				d.hasSilenceStart = true
				// Baseline one frame duration earlier than this frame's own
				// tick, so an unbroken run of N silent frames crosses
				// SilenceMS exactly when N*FrameMillis >= SilenceMS (§8 S5:
				// 9 consecutive 60ms frames == 540ms trips VoiceEnd, 1 does
				// not) rather than requiring N+1 frames.
				d.silenceStartMS = tickMS - int64(audio.FrameMillis)
			} else if tickMS-d.silenceStartMS >= d.cfg.SilenceMS {
				d.state = audio.VoiceEnd
				d.emit(audio.VoiceEnd)
			}
		}

	case audio.VoiceEnd:
		d.state = audio.Silence
		d.hasSilenceStart = false
	}

	return d.state, level
}

func (d *Detector) emit(edge audio.VadState) {
	if d.onEdge != nil {
		d.onEdge(edge)
	}
}
