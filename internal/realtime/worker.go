// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicecore/internal/audio"
	"github.com/rapidaai/voicecore/internal/protocol"
	"github.com/rapidaai/voicecore/internal/protocol/backend"
)

// runLoop owns the whole connection lifecycle for as long as the client is
// connected: dial, run one connection session to completion, clean up,
// wait ReconnectDelayMS, repeat, until ctx is cancelled by Disconnect
// (§4.7: "reconnection is driven by the worker to guarantee orderly
// cleanup").
func (c *Client) runLoop(ctx context.Context) {
	defer c.runWG.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(Connecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warnw("realtime: dial failed", "error", err)
			if !c.sleepOrDone(ctx, c.reconnectDelay()) {
				return
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.setState(Connected)

		c.runConnection(ctx, conn)

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()
		c.drainAudioQueue()
		c.setState(Disconnected)

		if !c.sleepOrDone(ctx, c.reconnectDelay()) {
			return
		}
	}
}

func (c *Client) reconnectDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.cfg.ReconnectDelayMS) * time.Millisecond
}

func (c *Client) sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	b := c.backend
	ep := c.cfg.Endpoint
	c.mu.Unlock()

	if b.Kind() == backend.Auto && ep.Token != "" {
		c.logTokenExpiry(ep.Token)
	}

	target, headers, err := b.DialTarget(ep)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, target, headers)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimitBytes)
	conn.SetPongHandler(func(string) error { return nil })
	return conn, nil
}

// runConnection runs the read and send loops for one live connection
// concurrently, cancelling both the moment either exits (ws-error,
// ws-close, or outer ctx cancellation) — the same errgroup.WithContext
// fan-in the teacher uses in websocketExecutor.Initialize, applied here to
// a running connection's paired duplex loops instead of one-shot startup
// tasks.
func (c *Client) runConnection(ctx context.Context, conn *websocket.Conn) {
	// On ws-open the worker sends session.update before the connection is
	// usable for audio (§4.7): only a successful send lets the read/send
	// pair below start running.
	if err := c.sendSessionUpdate(conn); err != nil {
		c.logger.Warnw("realtime: session.update failed", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.readLoop(gctx, conn); err != nil {
			return err
		}
		// A normal close ends readLoop with nil; report it as an error so
		// the group cancels gctx and sendLoop exits as well.
		return errors.New("realtime: connection closed by peer")
	})
	g.Go(func() error { return c.sendLoop(gctx, conn) })
	g.Go(func() error {
		// ReadMessage does not watch gctx; closing the connection is what
		// unblocks a pending read once either loop or ctx has ended.
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debugw("realtime: connection session ended", "error", err)
	}
}

func (c *Client) sendSessionUpdate(conn *websocket.Conn) error {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	msg, err := protocol.BuildSessionUpdate(protocol.SessionConfig{
		BotID:             cfg.BotID,
		UserID:            cfg.UserID,
		Voice:             cfg.Voice,
		InputAudioFormat:  protocol.RawAudioFormat(cfg.WireFormat, cfg.SampleRate),
		OutputAudioFormat: protocol.RawAudioFormat(cfg.WireFormat, cfg.SampleRate),
	})
	if err != nil {
		return err
	}
	return c.send(msg)
}

// readLoop decodes downlink text frames and dispatches them to the
// registered callback synchronously (§4.7).
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		c.recvCount.Add(1)

		c.mu.Lock()
		wireFormat := c.cfg.WireFormat
		c.mu.Unlock()
		ev, err := protocol.ParseEvent(raw, wireFormat)
		if err != nil {
			c.logger.Warnw("realtime: failed to parse downlink event", "error", err)
			continue
		}
		c.handleEvent(ev)
	}
}

func (c *Client) handleEvent(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventSessionCreated, protocol.EventSessionUpdated:
		c.mu.Lock()
		if ev.SessionID != "" {
			c.sessionID = ev.SessionID
		}
		c.mu.Unlock()
		c.setState(Ready)
	case protocol.EventResponseCreated:
		c.setState(Streaming)
	case protocol.EventServiceError:
		c.mu.Lock()
		c.lastCode = ev.ErrorCode
		c.lastErr = errors.New(ev.ErrorMsg)
		c.mu.Unlock()
		c.setState(ErrorState)
	}

	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// sendLoop batches queued PCM16 audio into input_audio_buffer.append
// messages (§4.7): a batch is sent once it holds BatchFrames chunks or,
// when a queuePollTimeout wait brings no new chunk, once BatchTimeoutMS
// has passed since its first chunk. Each batch is converted to the wire
// codec, Base64-encoded, sent, and followed by a SendPacedDelayMS pause
// before the next receive.
func (c *Client) sendLoop(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	var batch [][]byte
	var batchStart time.Time
	batchTimeout := time.Duration(cfg.BatchTimeoutMS) * time.Millisecond
	pace := time.Duration(cfg.SendPacedDelayMS) * time.Millisecond

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.flushBatch(conn, cfg, batch); err != nil {
			return err
		}
		batch = nil
		time.Sleep(pace)
		return nil
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-c.audioQueue:
			if len(batch) == 0 {
				batchStart = time.Now()
			}
			batch = append(batch, chunk)
			if c.admitAudioLocked() {
				c.setState(Streaming)
			}
			if len(batch) >= cfg.BatchFrames {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-time.After(queuePollTimeout):
			if len(batch) > 0 && time.Since(batchStart) >= batchTimeout {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// admitAudioLocked reports whether the client is in Ready (about to become
// Streaming on this admitted chunk) per the §4.7 state diagram's "on audio
// queued & Ready -> Streaming" edge.
func (c *Client) admitAudioLocked() bool {
	return c.GetState() == Ready
}

func (c *Client) flushBatch(conn *websocket.Conn, cfg Config, batch [][]byte) error {
	var pcmBytes []byte
	for _, chunk := range batch {
		pcmBytes = append(pcmBytes, chunk...)
	}

	var wireBytes []byte
	if cfg.WireFormat == "pcm16" {
		wireBytes = pcmBytes
	} else {
		wireBytes = protocol.PCM16ToUlaw(audio.BytesToInt16(pcmBytes))
	}

	msg, err := protocol.BuildInputAudioAppend(wireBytes)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// logTokenExpiry opportunistically parses ep.Token as a JWT, without
// verifying its signature (the service is the verifier; this is purely a
// log-before-you-get-rejected diagnostic), and logs its exp claim. A
// non-JWT bearer token is silently ignored (§6: "auto backend's bearer
// token is, in practice, often a JWT issued by the cloud conversational
// service").
func (c *Client) logTokenExpiry(token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	c.logger.Debugw("realtime: bearer token expiry", "conn_id", c.ConnID(), "expires_in", time.Until(exp.Time).Round(time.Second))
}

func (c *Client) drainAudioQueue() {
	for {
		select {
		case <-c.audioQueue:
		default:
			return
		}
	}
}
