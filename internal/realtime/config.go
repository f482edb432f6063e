// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package realtime implements the Realtime Client (C7, §4.7): a single
// WebSocket connection to a conversational speech service, with a
// batching/send worker, reconnection, and synchronous event dispatch.
//
// Grounded directly on
// api/assistant-api/internal/agent/executor/llm/internal/websocket's
// websocketExecutor: gorilla/websocket dialer setup
// (HandshakeTimeout/DialContext/headers/query params), a
// writeMu-guarded sendMessage, a responseListener read loop, and an
// errgroup-based concurrent bring-up in Initialize. This package
// generalizes that shape from a generic chat-assistant wire protocol to
// spec.md §4.6's session-configure/audio-append/commit protocol, and adds
// the worker-driven reconnect loop, audio batching, and G.711 conversion
// §4.7 requires that the teacher's executor does not need.
package realtime

import (
	"time"

	"github.com/rapidaai/voicecore/internal/protocol/backend"
)

// Config is the ClientConfig of §4.7/§6.
type Config struct {
	Backend  backend.Kind
	Endpoint backend.Endpoint

	Voice      string
	SampleRate int
	WireFormat string // "pcm16" or "g711_ulaw"
	BotID      string
	UserID     string

	ChunkBytes       int // max bytes enqueued as a single SendAudio chunk; 0 = no splitting
	QueueDepth       int // default 20
	BatchFrames      int // default 2
	BatchTimeoutMS   int // default 100
	SendPacedDelayMS int // default 70 (§9: compatibility workaround, configurable)
	ReconnectDelayMS int // default 5000

	Callback EventFunc
}

const (
	defaultQueueDepth       = 20
	defaultBatchFrames      = 2
	defaultBatchTimeoutMS   = 100
	defaultSendPacedDelayMS = 70
	defaultReconnectDelayMS = 5000

	handshakeTimeout = 10 * time.Second
	readLimitBytes   = 10 * 1024 * 1024
	wsWriteTimeout   = 200 * time.Millisecond
	queuePollTimeout = 20 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.BatchFrames <= 0 {
		c.BatchFrames = defaultBatchFrames
	}
	if c.BatchTimeoutMS <= 0 {
		c.BatchTimeoutMS = defaultBatchTimeoutMS
	}
	if c.SendPacedDelayMS == 0 {
		c.SendPacedDelayMS = defaultSendPacedDelayMS
	}
	if c.ReconnectDelayMS <= 0 {
		c.ReconnectDelayMS = defaultReconnectDelayMS
	}
	if c.WireFormat == "" {
		c.WireFormat = "g711_ulaw"
	}
	return c
}
