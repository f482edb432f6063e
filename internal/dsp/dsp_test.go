// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHighPass_FollowsFormula(t *testing.T) {
	c := New(Config{})
	frame := []int16{100, 100, 100}
	c.Process(frame)

	// y0 = 0.98*0 + (100-0) = 100
	// y1 = 0.98*100 + (100-100) = 98
	// y2 = 0.98*98 + (100-100) = 96 (96.04 truncated)
	assert.Equal(t, int16(100), frame[0])
	assert.Equal(t, int16(98), frame[1])
	assert.Equal(t, int16(96), frame[2])
}

func TestHighPass_StateCarriesAcrossFrames(t *testing.T) {
	c := New(Config{})
	first := []int16{100}
	c.Process(first)
	assert.Equal(t, int16(100), first[0])

	second := []int16{100}
	c.Process(second)
	// y = 0.98*100 + (100-100) = 98
	assert.Equal(t, int16(98), second[0])
}

func TestReset_ClearsFilterState(t *testing.T) {
	c := New(Config{})
	c.Process([]int16{100})
	c.Reset()

	frame := []int16{100}
	c.Process(frame)
	assert.Equal(t, int16(100), frame[0], "after reset the filter should behave as if starting cold")
}

func TestAEC_SkippedWithoutReference(t *testing.T) {
	c := New(Config{AEC: true, AECMode: 1})
	frame := []int16{0, 0, 0}
	c.Process(frame)
	assert.Equal(t, []int16{0, 0, 0}, frame)
}

func TestAEC_SubtractsGainedReference(t *testing.T) {
	c := New(Config{AEC: true, AECMode: 0}) // gain = 0.5
	c.FeedAECRef([]int16{1000, 1000})

	frame := []int16{1000, 1000}
	c.aec(frame) // isolate AEC from the HPF stage for an exact check
	assert.Equal(t, int16(500), frame[0])
	assert.Equal(t, int16(500), frame[1])
}

func TestAEC_ReferenceLengthMismatchIsNoOp(t *testing.T) {
	c := New(Config{AEC: true, AECMode: 2})
	c.FeedAECRef([]int16{1, 2, 3})

	frame := []int16{1000, 1000}
	c.aec(frame)
	assert.Equal(t, []int16{1000, 1000}, frame)
}

func TestClearAECRef_DropsStoredReference(t *testing.T) {
	c := New(Config{AEC: true})
	c.FeedAECRef([]int16{1000})
	c.ClearAECRef()

	frame := []int16{1000}
	c.aec(frame)
	assert.Equal(t, int16(1000), frame[0], "with no reference AEC must be a no-op")
}

func TestNoiseSuppress_AttenuatesBelowThreshold(t *testing.T) {
	frame := []int16{100, 5000}
	noiseSuppress(frame, 0) // t = 500
	assert.Equal(t, int16(25), frame[0], "100 < 500 so it is divided by 4")
	assert.Equal(t, int16(5000), frame[1], "5000 >= 500 so it passes through")
}

func TestNoiseSuppress_HigherLevelRaisesThreshold(t *testing.T) {
	frame := []int16{900}
	noiseSuppress(frame, 3) // t = 500 + 600 = 1100
	assert.Equal(t, int16(225), frame[0])
}

func TestClipI64_Saturates(t *testing.T) {
	assert.Equal(t, int16(32767), clipI64(40000))
	assert.Equal(t, int16(-32768), clipI64(-40000))
	assert.Equal(t, int16(123), clipI64(123))
}

func TestProcess_OrderIsHighPassThenAecThenNs(t *testing.T) {
	c := New(Config{AEC: true, AECMode: 0, NS: true, NSLevel: 0})
	c.FeedAECRef([]int16{0})

	frame := []int16{100}
	c.Process(frame)
	// HPF: y0 = 100 -> AEC (ref 0, gain .5): 100-0=100 -> NS (t=500): 100<500 => 25
	assert.Equal(t, int16(25), frame[0])
}
