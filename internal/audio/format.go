// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio holds the process-wide audio data model shared by the
// capture, DSP, VAD, and playback stages: the fixed PCM16 frame format and
// the VAD state enumeration.
package audio

import "fmt"

// FrameMillis is the fixed frame duration every DSP stage operates on.
const FrameMillis = 60

// Format describes the PCM16 format in effect for an entire process
// lifetime (§3: "AudioFormat (process-wide constant, chosen at init)").
// Bits per sample is always 16; channels is always 1 on the path that
// reaches DSP (capture down-mixes any extra hardware channel first).
type Format struct {
	SampleRate int // Hz, typically 8000 or 16000
}

// NewFormat validates and constructs a Format.
func NewFormat(sampleRate int) (Format, error) {
	if sampleRate <= 0 {
		return Format{}, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	return Format{SampleRate: sampleRate}, nil
}

// FrameSamples returns FRAME_SAMPLES = SAMPLE_RATE * FRAME_MS / 1000.
func (f Format) FrameSamples() int {
	return f.SampleRate * FrameMillis / 1000
}

// FrameBytes returns FRAME_BYTES = FRAME_SAMPLES * 2 (16-bit samples).
func (f Format) FrameBytes() int {
	return f.FrameSamples() * 2
}

// BytesPerSecond returns the PCM16 mono byte rate for this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * 2
}

// VadState is the voice-activity state observed on a frame boundary (§3/§4.4).
type VadState int

const (
	Silence VadState = iota
	VoiceStart
	Voice
	VoiceEnd
)

func (s VadState) String() string {
	switch s {
	case Silence:
		return "silence"
	case VoiceStart:
		return "voice_start"
	case Voice:
		return "voice"
	case VoiceEnd:
		return "voice_end"
	default:
		return "unknown"
	}
}

// Frame is a fixed-size, by-value capture of one 60ms block of audio
// crossing the capture -> delivery boundary. Frames are copied, never
// shared (§3 invariant).
type Frame struct {
	Data  []byte // length == Size, capacity == format.FrameBytes()
	Size  int    // <= FrameBytes
	Vad   VadState
	Level int   // 0..100 energy estimate
	Tick  int64 // monotonic tick timestamp
}

// Clone returns a deep copy of the frame's sample data, so a consumer that
// retains a Frame beyond the delivery call is safe even though the
// pipeline reuses its internal scratch buffer.
func (fr Frame) Clone() Frame {
	data := make([]byte, len(fr.Data))
	copy(data, fr.Data)
	return Frame{Data: data, Size: fr.Size, Vad: fr.Vad, Level: fr.Level, Tick: fr.Tick}
}
