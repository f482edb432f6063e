// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/audio"
)

// TestBase64RoundTrip pins §8 property 4.
func TestBase64RoundTrip(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0x00},
		[]byte("hello world"),
		{0xFF, 0xFE, 0xFD, 0x01, 0x02, 0x03},
	}
	for _, in := range inputs {
		encoded := Base64Encode(in)
		decoded, err := Base64Decode(encoded)
		require.NoError(t, err)
		if len(in) == 0 {
			assert.Empty(t, decoded)
		} else {
			assert.Equal(t, in, decoded)
		}
	}
}

func TestBuildSessionUpdate_OmitsTurnDetectionAndEmptyFields(t *testing.T) {
	raw, err := BuildSessionUpdate(SessionConfig{
		Voice:             "alloy",
		InputAudioFormat:  RawAudioFormat("g711_ulaw", 8000),
		OutputAudioFormat: RawAudioFormat("g711_ulaw", 8000),
	})
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"type":"session.update"`)
	assert.Contains(t, s, `"voice":"alloy"`)
	assert.Contains(t, s, `"sample_rate":8000`)
	assert.NotContains(t, s, "turn_detection")
	assert.NotContains(t, s, "bot_id")
}

func TestBuildInputAudioAppend(t *testing.T) {
	raw, err := BuildInputAudioAppend([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"input_audio_buffer.append"`)
	assert.Contains(t, string(raw), `"audio":"`+Base64Encode([]byte{0x01, 0x02, 0x03})+`"`)
}

func TestBuildControlMessages(t *testing.T) {
	for _, tc := range []struct {
		build func() ([]byte, error)
		want  string
	}{
		{BuildInputAudioCommit, "input_audio_buffer.commit"},
		{BuildInputAudioComplete, "input_audio_buffer.complete"},
		{BuildResponseCreate, "response.create"},
		{BuildResponseCancel, "response.cancel"},
	} {
		raw, err := tc.build()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"`+tc.want+`"}`, string(raw))
	}
}

func TestParseEvent_SessionCreated(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"session.created","session":{"id":"sess_123"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, EventSessionCreated, ev.Kind)
	assert.Equal(t, "sess_123", ev.SessionID)
}

// TestParseEvent_ErrorTolerance pins §8 S6: both the flat legacy
// event_type shape and the type+data shape parse to the same ServiceError.
func TestParseEvent_ErrorTolerance(t *testing.T) {
	legacy, err := ParseEvent([]byte(`{"event_type":"error","code":4000,"msg":"x"}`), "")
	require.NoError(t, err)
	assert.Equal(t, EventServiceError, legacy.Kind)
	assert.Equal(t, 4000, legacy.ErrorCode)
	assert.Equal(t, "x", legacy.ErrorMsg)

	nested, err := ParseEvent([]byte(`{"type":"error","data":{"code":4000,"message":"x"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, EventServiceError, nested.Kind)
	assert.Equal(t, 4000, nested.ErrorCode)
	assert.Equal(t, "x", nested.ErrorMsg)
}

func TestParseEvent_AudioDelta_CarrierVariants(t *testing.T) {
	wireBytes := []byte{0x01, 0x02, 0x03, 0x04}
	b64 := Base64Encode(wireBytes)
	want := UlawToPCM16(wireBytes)

	deltaShape, err := ParseEvent([]byte(`{"type":"response.audio.delta","delta":"` + b64 + `"}`), "")
	require.NoError(t, err)
	assert.Equal(t, EventAudioDelta, deltaShape.Kind)
	assert.Equal(t, want, deltaShape.AudioPCM)

	audioShape, err := ParseEvent([]byte(`{"type":"response.audio.delta","audio":"` + b64 + `"}`), "")
	require.NoError(t, err)
	assert.Equal(t, want, audioShape.AudioPCM)

	nestedShape, err := ParseEvent([]byte(`{"type":"response.audio.delta","data":{"audio":"` + b64 + `"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, want, nestedShape.AudioPCM)
}

// TestParseEvent_AudioDelta_PCM16WireFormat pins the pcm16-variant decode
// path (§4.6: "variants that use PCM16 on the wire") against the
// ulaw-variant default exercised above.
func TestParseEvent_AudioDelta_PCM16WireFormat(t *testing.T) {
	samples := []int16{100, -100, 32000, -32000}
	wireBytes := make([]byte, len(samples)*2)
	audio.Int16ToBytes(samples, wireBytes)
	b64 := Base64Encode(wireBytes)

	ev, err := ParseEvent([]byte(`{"type":"response.audio.delta","audio":"`+b64+`"}`), "pcm16")
	require.NoError(t, err)
	assert.Equal(t, samples, ev.AudioPCM)
}

func TestParseEvent_TranscriptDelta_CarrierVariants(t *testing.T) {
	deltaShape, err := ParseEvent([]byte(`{"type":"response.audio_transcript.delta","delta":"hi"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "hi", deltaShape.Transcript)

	transcriptShape, err := ParseEvent([]byte(`{"type":"response.audio_transcript.delta","transcript":"hi"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "hi", transcriptShape.Transcript)
}

func TestParseEvent_SimpleKinds(t *testing.T) {
	for _, tc := range []struct {
		typ  string
		want EventKind
	}{
		{"session.updated", EventSessionUpdated},
		{"input_audio_buffer.speech_started", EventSpeechStarted},
		{"input_audio_buffer.speech_stopped", EventSpeechStopped},
		{"input_audio_buffer.committed", EventCommitted},
		{"response.created", EventResponseCreated},
		{"response.audio.done", EventAudioDone},
		{"response.done", EventResponseDone},
		{"something.unrecognized", EventUnknown},
	} {
		ev, err := ParseEvent([]byte(`{"type":"` + tc.typ + `"}`), "")
		require.NoError(t, err)
		assert.Equal(t, tc.want, ev.Kind, tc.typ)
	}
}

func TestParseEvent_MissingType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"foo":"bar"}`), "")
	assert.ErrorIs(t, err, ErrFieldMissing)
}

func TestParseEvent_MalformedJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`), "")
	assert.ErrorIs(t, err, ErrParseFailed)
}
