// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicecore/internal/protocol"
	"github.com/rapidaai/voicecore/internal/protocol/backend"
	"github.com/rapidaai/voicecore/pkg/commons"
)

// State is the Realtime Client connection-lifecycle state (§4.7).
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Ready
	Streaming
	ErrorState
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Ready:
		return "ready"
	case Streaming:
		return "streaming"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidState = errors.New("realtime: invalid state")
	ErrNotConnected = errors.New("realtime: not connected")
)

// EventFunc is the registered callback invoked synchronously on the
// worker goroutine for every decoded downlink event (§4.7: "invoked
// synchronously on the worker context"). Implementations must copy
// anything from ev they retain past the call.
type EventFunc func(ev protocol.Event)

// Client is the Realtime Client (C7): one WebSocket connection, one
// worker goroutine, a bounded outbound audio queue. Exported methods are
// safe for concurrent use. Dialing, reading, audio sends, and reconnection
// happen only on the worker goroutines; CommitAudio, CreateResponse, and
// CancelResponse write their control frames from the caller's goroutine
// through send, which serializes every write under connMu.
type Client struct {
	logger commons.Logger

	mu        sync.Mutex
	cfg       Config
	backend   backend.Backend
	connID    string // correlation id for the current connection attempt, reissued per Connect
	sessionID string
	lastErr   error
	lastCode  int
	callback  EventFunc

	state atomic.Int32

	sendCount atomic.Int64
	recvCount atomic.Int64

	audioQueue chan []byte // raw PCM16 chunks, depth cfg.QueueDepth

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	connMu    sync.Mutex
	conn      *websocket.Conn
}

// New constructs a Client. Configure must be called before Connect.
func New(logger commons.Logger) *Client {
	c := &Client{logger: logger}
	c.state.Store(int32(Disconnected))
	return c
}

// Configure sets the connection parameters. Must not be called while
// connected.
func (c *Client) Configure(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Load() != int32(Disconnected) {
		return ErrInvalidState
	}
	b, err := backend.New(cfg.Backend)
	if err != nil {
		return err
	}
	c.cfg = cfg.withDefaults()
	c.backend = b
	c.callback = cfg.Callback
	c.audioQueue = make(chan []byte, c.cfg.QueueDepth)
	return nil
}

// RegisterCallback replaces the event callback.
func (c *Client) RegisterCallback(fn EventFunc) {
	c.mu.Lock()
	c.callback = fn
	c.mu.Unlock()
}

// GetState returns the current connection state.
func (c *Client) GetState() State {
	return State(c.state.Load())
}

// IsConnected reports whether the client can currently accept audio/control
// sends (§4.7: Ready or Streaming).
func (c *Client) IsConnected() bool {
	s := c.GetState()
	return s == Ready || s == Streaming
}

// SessionID returns the most recently observed session id, or "" before
// session.created (§3: valid only as a snapshot copy, never a live borrow).
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect starts the worker goroutine, which dials and then owns
// reconnection for the lifetime of the client until Disconnect (§4.7:
// "auto-reconnect at the WebSocket layer is disabled; reconnection is
// driven by the worker").
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.backend == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: not configured", ErrInvalidState)
	}
	if c.runCancel != nil {
		c.mu.Unlock()
		return nil // already connecting/connected; idempotent
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.connID = uuid.NewString()
	c.mu.Unlock()

	c.logger.Infow("realtime: connecting", "conn_id", c.connID)
	c.setState(Connecting)
	c.runWG.Add(1)
	go c.runLoop(ctx)
	return nil
}

// ConnID returns the correlation id of the current (or most recent)
// connection attempt, for tying worker log lines to the session that
// triggered them (§3's event/session correlation IDs).
func (c *Client) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Disconnect stops the worker and closes the connection. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel := c.runCancel
	c.runCancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	c.runWG.Wait()
	c.setState(Disconnected)
	return nil
}

// SendAudio enqueues PCM16 bytes for transmission, split into pieces of at
// most cfg.ChunkBytes each (§4.7: "enqueues PCM16 chunks of up to
// CHUNK_BYTES"). Returns ErrNotConnected if the client is not
// Ready/Streaming. On a full queue, the newest chunk is dropped with a
// logged warning rather than blocking.
func (c *Client) SendAudio(pcm []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.mu.Lock()
	chunkBytes := c.cfg.ChunkBytes
	c.mu.Unlock()
	if chunkBytes <= 0 || chunkBytes > len(pcm) {
		chunkBytes = len(pcm)
	}
	for off := 0; off < len(pcm); off += chunkBytes {
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := make([]byte, end-off)
		copy(chunk, pcm[off:end])
		select {
		case c.audioQueue <- chunk:
		default:
			c.logger.Warnw("realtime: audio queue full, dropping newest chunk", "bytes", len(chunk))
		}
	}
	return nil
}

// CommitAudio sends the backend's commit sequence (§4.7/§4.6).
func (c *Client) CommitAudio() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	msgs, err := c.backend.CommitMessages()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := c.send(m); err != nil {
			return err
		}
	}
	return nil
}

// CreateResponse sends response.create (§4.7).
func (c *Client) CreateResponse() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	msg, err := protocol.BuildResponseCreate()
	if err != nil {
		return err
	}
	return c.send(msg)
}

// CancelResponse sends response.cancel (§4.7). It does not flush
// playback; the session machine calls ClearPlayback separately (§5).
func (c *Client) CancelResponse() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	msg, err := protocol.BuildResponseCancel()
	if err != nil {
		return err
	}
	return c.send(msg)
}

// LastError returns the most recently observed ServiceError code/message.
func (c *Client) LastError() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := c.lastCode
	msg := ""
	if c.lastErr != nil {
		msg = c.lastErr.Error()
	}
	return code, msg
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// send writes one text frame to the current connection. Safe to call from
// any goroutine; gorilla/websocket requires single-writer discipline,
// enforced here the same way the teacher's sendMessage serializes writes
// through writeMu.
func (c *Client) send(payload []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	// §5: "WebSocket send blocks on socket write up to ~200ms" — bound
	// every write so a stalled transport surfaces as a send error (and
	// triggers the worker's reconnect) instead of hanging the send loop.
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("realtime: write failed: %w", err)
	}
	c.sendCount.Add(1)
	return nil
}
