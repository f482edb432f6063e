// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rapidaai/voicecore/internal/audio"
)

var (
	ErrParseFailed     = errors.New("protocol: parse failed")
	ErrFieldMissing    = errors.New("protocol: required field missing")
	ErrBufferTooSmall  = errors.New("protocol: buffer too small")
)

// AudioFormatDesc is the input/output audio format descriptor carried in
// session.update (§4.6): `{"type":"raw","format":"g711_ulaw",
// "sample_rate":8000,"channels":1}`.
type AudioFormatDesc struct {
	Type       string `json:"type"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// RawAudioFormat builds the descriptor for a wire format/sample rate pair.
func RawAudioFormat(format string, sampleRate int) AudioFormatDesc {
	return AudioFormatDesc{Type: "raw", Format: format, SampleRate: sampleRate, Channels: 1}
}

// SessionConfig is the "session" object of an outgoing session.update
// message (§4.6). BotID/UserID/Voice are omitted from the wire payload
// when empty; TurnDetection is never emitted (§4.6: "no turn_detection
// when the client drives commit/response manually").
type SessionConfig struct {
	BotID              string
	UserID             string
	Voice              string
	InputAudioFormat   AudioFormatDesc
	OutputAudioFormat  AudioFormatDesc
}

type sessionUpdateWire struct {
	Type    string            `json:"type"`
	Session sessionObjectWire `json:"session"`
}

type sessionObjectWire struct {
	BotID             string          `json:"bot_id,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
	Voice             string          `json:"voice,omitempty"`
	InputAudioFormat  AudioFormatDesc `json:"input_audio_format"`
	OutputAudioFormat AudioFormatDesc `json:"output_audio_format"`
}

// BuildSessionUpdate marshals a session.update control message (§6).
func BuildSessionUpdate(cfg SessionConfig) ([]byte, error) {
	msg := sessionUpdateWire{
		Type: "session.update",
		Session: sessionObjectWire{
			BotID:             cfg.BotID,
			UserID:            cfg.UserID,
			Voice:             cfg.Voice,
			InputAudioFormat:  cfg.InputAudioFormat,
			OutputAudioFormat: cfg.OutputAudioFormat,
		},
	}
	return json.Marshal(msg)
}

type audioAppendWire struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// BuildInputAudioAppend wraps Base64-encoded wire bytes in an
// input_audio_buffer.append message (§6).
func BuildInputAudioAppend(wireBytes []byte) ([]byte, error) {
	msg := audioAppendWire{Type: "input_audio_buffer.append", Audio: Base64Encode(wireBytes)}
	return json.Marshal(msg)
}

type typeOnlyWire struct {
	Type string `json:"type"`
}

// BuildInputAudioCommit builds the manual-backend commit message.
func BuildInputAudioCommit() ([]byte, error) {
	return json.Marshal(typeOnlyWire{Type: "input_audio_buffer.commit"})
}

// BuildInputAudioComplete builds the auto-backend complete message.
func BuildInputAudioComplete() ([]byte, error) {
	return json.Marshal(typeOnlyWire{Type: "input_audio_buffer.complete"})
}

// BuildResponseCreate builds the response.create message.
func BuildResponseCreate() ([]byte, error) {
	return json.Marshal(typeOnlyWire{Type: "response.create"})
}

// BuildResponseCancel builds the response.cancel message.
func BuildResponseCancel() ([]byte, error) {
	return json.Marshal(typeOnlyWire{Type: "response.cancel"})
}

// Base64Encode is RFC 4648 standard Base64, no line wrapping (§4.6/§8
// property 4). Kept on the standard library: encoding/base64 already is
// the ecosystem-standard implementation of this exact RFC, and no example
// in the pack reaches for a third-party Base64 replacement.
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode is the inverse of Base64Encode.
func Base64Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	return b, nil
}

// EventKind tags a parsed downlink event (§6).
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSessionCreated
	EventSessionUpdated
	EventSpeechStarted
	EventSpeechStopped
	EventCommitted
	EventResponseCreated
	EventAudioDelta
	EventTranscriptDelta
	EventAudioDone
	EventResponseDone
	EventServiceError
)

// Event is the tagged union of downlink events the Realtime Client
// dispatches (§4.7/§6). Only the fields relevant to Kind are populated.
// AudioPCM and Transcript are owned copies, not borrows (§3 invariant on
// server-event lifetime).
type Event struct {
	Kind       EventKind
	SessionID  string
	AudioPCM   []int16
	Transcript string
	ErrorCode  int
	ErrorMsg   string
}

// wireEvent is the superset of every shape §6 requires parsers to accept:
// both "type" and legacy "event_type" at the top level, both flat fields
// and a nested "data" object, and both "delta"/"audio" and
// "delta"/"transcript" carrier field names.
type wireEvent struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Session   *wireSession    `json:"session"`
	Delta     string          `json:"delta"`
	Audio     string          `json:"audio"`
	Transcript string         `json:"transcript"`
	Code      int             `json:"code"`
	Msg       string          `json:"msg"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

type wireSession struct {
	ID string `json:"id"`
}

type wireErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireAudioData struct {
	Delta      string `json:"delta"`
	Audio      string `json:"audio"`
	Transcript string `json:"transcript"`
}

// ParseEvent decodes one downlink text frame into an Event, tolerant of
// both "type"/"event_type" and flat/"data" shapes (§6, §8 S6).
// wireFormat selects how response.audio.delta payloads are decoded to
// PCM16: "pcm16" reads the bytes directly, anything else (including "")
// is treated as G.711 mu-law, the default wire format (§4.6/§6).
func ParseEvent(raw []byte, wireFormat string) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	kind := eventType(w)
	if kind == "" {
		return Event{}, fmt.Errorf("%w: missing type/event_type", ErrFieldMissing)
	}

	ev := Event{}
	switch kind {
	case "session.created":
		ev.Kind = EventSessionCreated
		ev.SessionID = sessionID(w)
	case "session.updated":
		ev.Kind = EventSessionUpdated
		ev.SessionID = sessionID(w)
	case "input_audio_buffer.speech_started":
		ev.Kind = EventSpeechStarted
	case "input_audio_buffer.speech_stopped":
		ev.Kind = EventSpeechStopped
	case "input_audio_buffer.committed":
		ev.Kind = EventCommitted
	case "response.created":
		ev.Kind = EventResponseCreated
	case "response.audio.delta":
		ev.Kind = EventAudioDelta
		b64 := firstNonEmpty(w.Delta, w.Audio)
		if b64 == "" {
			if d, ok := audioDataFrom(w.Data); ok {
				b64 = firstNonEmpty(d.Delta, d.Audio)
			}
		}
		if b64 == "" {
			return Event{}, fmt.Errorf("%w: response.audio.delta missing delta/audio", ErrFieldMissing)
		}
		wireBytes, err := Base64Decode(b64)
		if err != nil {
			return Event{}, err
		}
		if wireFormat == "pcm16" {
			ev.AudioPCM = audio.BytesToInt16(wireBytes)
		} else {
			ev.AudioPCM = UlawToPCM16(wireBytes)
		}
	case "response.audio_transcript.delta":
		ev.Kind = EventTranscriptDelta
		text := firstNonEmpty(w.Delta, w.Transcript)
		if text == "" {
			if d, ok := audioDataFrom(w.Data); ok {
				text = firstNonEmpty(d.Delta, d.Transcript)
			}
		}
		ev.Transcript = text
	case "response.audio.done":
		ev.Kind = EventAudioDone
	case "response.done":
		ev.Kind = EventResponseDone
	case "error":
		ev.Kind = EventServiceError
		code, msg := w.Code, firstNonEmpty(w.Msg, w.Message)
		if code == 0 && msg == "" {
			if d, ok := errorDataFrom(w.Data); ok {
				code, msg = d.Code, d.Message
			}
		}
		ev.ErrorCode, ev.ErrorMsg = code, msg
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}

func eventType(w wireEvent) string {
	if w.Type != "" {
		return w.Type
	}
	return w.EventType
}

func sessionID(w wireEvent) string {
	if w.Session != nil {
		return w.Session.ID
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func errorDataFrom(raw json.RawMessage) (wireErrorData, bool) {
	if len(raw) == 0 {
		return wireErrorData{}, false
	}
	var d wireErrorData
	if err := json.Unmarshal(raw, &d); err != nil {
		return wireErrorData{}, false
	}
	return d, true
}

func audioDataFrom(raw json.RawMessage) (wireAudioData, bool) {
	if len(raw) == 0 {
		return wireAudioData{}, false
	}
	var d wireAudioData
	if err := json.Unmarshal(raw, &d); err != nil {
		return wireAudioData{}, false
	}
	return d, true
}
