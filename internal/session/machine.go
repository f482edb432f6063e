// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/voicecore/internal/eventbus"
	"github.com/rapidaai/voicecore/pkg/commons"
)

// AppState is the global conversation state (§3). Exactly one state is
// active at a time; transitions are serialized by Machine's mutex.
type AppState int

const (
	Init AppState = iota
	Idle
	Listening
	Processing
	Speaking
	ErrorState
)

func (s AppState) String() string {
	switch s {
	case Init:
		return "init"
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// AudioController is the subset of the Audio Pipeline (C5) the state
// machine drives. The state machine is the only caller of these methods
// (§3 invariant).
type AudioController interface {
	StartRecording() error
	StopRecording() error
	StartPlayback() error
	StopPlayback() error
	ClearPlayback()
}

// ConversationClient is the subset of the Realtime Client (C7) the state
// machine drives.
type ConversationClient interface {
	IsConnected() bool
	CommitAudio() error
	CreateResponse() error
	CancelResponse() error
}

// UI is the opaque display collaborator (§6), out of scope beyond its
// interface.
type UI interface {
	UpdateTranscript(text string, isUser bool)
	ClearTranscript()
	ShowError(text string)
	ShowStatus(text string, ok bool)
}

// noopUI satisfies UI for callers that don't wire a display.
type noopUI struct{}

func (noopUI) UpdateTranscript(string, bool) {}
func (noopUI) ClearTranscript()              {}
func (noopUI) ShowError(string)              {}
func (noopUI) ShowStatus(string, bool)       {}

// ManualCommit reports whether the configured realtime backend requires
// the client to drive commit/response manually (§4.8: "if backend is
// manual also client.create_response").
type ManualCommit bool

const (
	BackendManual ManualCommit = true
	BackendAuto   ManualCommit = false
)

// Machine is the Session State Machine (C8): one mutex-serialized state,
// consuming Events from its own eventbus.Bus in a dedicated goroutine
// (§4.8).
type Machine struct {
	logger  commons.Logger
	bus     *eventbus.Bus
	audio   AudioController
	client  ConversationClient
	ui      UI
	manual  ManualCommit

	mu    sync.Mutex
	state AppState

	stopped chan struct{}
	wg      sync.WaitGroup
}

const receiveTimeout = 100 * time.Millisecond

// New constructs a Machine in the Init state. Call Start to move it to
// Idle and begin consuming events.
func New(logger commons.Logger, bus *eventbus.Bus, audio AudioController, client ConversationClient, ui UI, manual ManualCommit) *Machine {
	if ui == nil {
		ui = noopUI{}
	}
	return &Machine{logger: logger, bus: bus, audio: audio, client: client, ui: ui, manual: manual, state: Init}
}

// State returns the current AppState.
func (m *Machine) State() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start moves the machine from Init to Idle and launches the consumer
// goroutine (§3: "initial state: Idle after Init succeeds").
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	m.state = Idle
	m.mu.Unlock()

	m.stopped = make(chan struct{})
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts the consumer goroutine and waits for it to exit.
func (m *Machine) Stop() {
	if m.stopped == nil {
		return
	}
	close(m.stopped)
	m.wg.Wait()
}

// Post is a convenience wrapper posting ev onto the machine's bus with a
// short timeout, for producers (UI, network, Realtime Client callbacks)
// that are not themselves the bus owner.
func (m *Machine) Post(ev Event, timeout time.Duration) error {
	return m.bus.Post(eventbus.Msg{Kind: uint32(ev.Kind), Payload: ev}, timeout)
}

func (m *Machine) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopped:
			return
		default:
		}

		msg, ok := m.bus.Receive(receiveTimeout)
		if !ok {
			continue
		}
		ev, ok := msg.Payload.(Event)
		if !ok {
			continue
		}
		m.handle(ev)
	}
}

// handle applies one Event to the current state per §4.8's transition
// table. Unlisted (state, event) pairs are no-ops (§8 property 6);
// same-state self-transitions are implicitly idempotent since every
// listed transition's side effects are themselves idempotent
// (StartRecording/StopRecording/... per §4.5/§4.7).
func (m *Machine) handle(ev Event) {
	m.mu.Lock()
	from := m.state
	defer func() {
		to := m.state
		m.mu.Unlock()
		if to != from {
			m.logger.Infow("session: transition", "from", from, "to", to, "event", ev.Kind)
		}
	}()

	switch from {
	case Idle:
		m.handleIdle(ev)
	case Listening:
		m.handleListening(ev)
	case Processing:
		m.handleProcessing(ev)
	case Speaking:
		m.handleSpeaking(ev)
	case ErrorState:
		m.handleError(ev)
	}
}

func (m *Machine) handleIdle(ev Event) {
	switch ev.Kind {
	case UserTap, ButtonPress:
		if !m.client.IsConnected() {
			m.ui.ShowStatus("not connected", false)
			return
		}
		m.ui.ClearTranscript()
		if err := m.audio.StartRecording(); err != nil {
			m.logger.Warnw("session: start recording failed", "error", err)
			return
		}
		m.state = Listening
	}
}

func (m *Machine) handleListening(ev Event) {
	switch ev.Kind {
	case UserTap, VoiceEnd:
		if err := m.audio.StopRecording(); err != nil {
			m.logger.Warnw("session: stop recording failed", "error", err)
		}
		if err := m.client.CommitAudio(); err != nil {
			m.logger.Warnw("session: commit audio failed", "error", err)
		}
		if m.manual {
			if err := m.client.CreateResponse(); err != nil {
				m.logger.Warnw("session: create response failed", "error", err)
			}
		}
		m.state = Processing
	case Cancel, UserLongPress:
		if err := m.audio.StopRecording(); err != nil {
			m.logger.Warnw("session: stop recording failed", "error", err)
		}
		m.state = Idle
	}
}

func (m *Machine) handleProcessing(ev Event) {
	switch ev.Kind {
	case ServiceResponseStart:
		if err := m.audio.StartPlayback(); err != nil {
			m.logger.Warnw("session: start playback failed", "error", err)
			return
		}
		m.state = Speaking
	case ServiceError:
		m.ui.ShowError(ev.ErrorMsg)
		m.state = ErrorState
	case Cancel:
		if err := m.client.CancelResponse(); err != nil {
			m.logger.Warnw("session: cancel response failed", "error", err)
		}
		m.state = Idle
	}
}

func (m *Machine) handleSpeaking(ev Event) {
	switch ev.Kind {
	case ServiceResponseEnd, AudioDone:
		if err := m.audio.StopPlayback(); err != nil {
			m.logger.Warnw("session: stop playback failed", "error", err)
		}
		m.state = Idle
	case UserTap, Cancel:
		if err := m.client.CancelResponse(); err != nil {
			m.logger.Warnw("session: cancel response failed", "error", err)
		}
		m.audio.ClearPlayback()
		if err := m.audio.StopPlayback(); err != nil {
			m.logger.Warnw("session: stop playback failed", "error", err)
		}
		m.state = Idle
	}
}

func (m *Machine) handleError(ev Event) {
	switch ev.Kind {
	case UserTap:
		m.state = Idle
	}
}
