// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/eventbus"
)

// nopLogger discards everything; the state machine only needs a
// commons.Logger implementation, not a real sink, in tests.
type nopLogger struct{}

func (nopLogger) Debug(...interface{})                  {}
func (nopLogger) Debugf(string, ...interface{})         {}
func (nopLogger) Debugw(string, ...interface{})         {}
func (nopLogger) Info(...interface{})                   {}
func (nopLogger) Infof(string, ...interface{})          {}
func (nopLogger) Infow(string, ...interface{})          {}
func (nopLogger) Warn(...interface{})                   {}
func (nopLogger) Warnf(string, ...interface{})          {}
func (nopLogger) Warnw(string, ...interface{})          {}
func (nopLogger) Error(...interface{})                  {}
func (nopLogger) Errorf(string, ...interface{})         {}
func (nopLogger) Errorw(string, ...interface{})         {}
func (nopLogger) Fatalf(string, ...interface{})         {}
func (nopLogger) Benchmark(string, time.Duration)       {}
func (nopLogger) Sync() error                           { return nil }

type fakeAudio struct {
	recording, playing  bool
	cleared             bool
	startRecordingErr   error
}

func (f *fakeAudio) StartRecording() error {
	if f.startRecordingErr != nil {
		return f.startRecordingErr
	}
	f.recording = true
	return nil
}
func (f *fakeAudio) StopRecording() error { f.recording = false; return nil }
func (f *fakeAudio) StartPlayback() error { f.playing = true; return nil }
func (f *fakeAudio) StopPlayback() error  { f.playing = false; return nil }
func (f *fakeAudio) ClearPlayback()       { f.cleared = true }

type fakeClient struct {
	connected                                 bool
	commitCalls, createCalls, cancelCalls int
}

func (f *fakeClient) IsConnected() bool      { return f.connected }
func (f *fakeClient) CommitAudio() error     { f.commitCalls++; return nil }
func (f *fakeClient) CreateResponse() error  { f.createCalls++; return nil }
func (f *fakeClient) CancelResponse() error  { f.cancelCalls++; return nil }

type fakeUI struct {
	transcriptCleared bool
	lastError         string
	lastStatus        string
	statusOK          bool
}

func (u *fakeUI) UpdateTranscript(string, bool) {}
func (u *fakeUI) ClearTranscript()              { u.transcriptCleared = true }
func (u *fakeUI) ShowError(text string)         { u.lastError = text }
func (u *fakeUI) ShowStatus(text string, ok bool) { u.lastStatus, u.statusOK = text, ok }

func newTestMachine(manual ManualCommit) (*Machine, *fakeAudio, *fakeClient, *fakeUI) {
	audio := &fakeAudio{}
	client := &fakeClient{connected: true}
	ui := &fakeUI{}
	m := New(nopLogger{}, eventbus.New(8), audio, client, ui, manual)
	return m, audio, client, ui
}

// post delivers ev directly to handle, bypassing the bus/goroutine so tests
// are synchronous and deterministic.
func post(m *Machine, ev Event) {
	m.handle(ev)
}

func TestIdle_TapWhenDisconnected_StaysIdle(t *testing.T) {
	m, audio, client, ui := newTestMachine(BackendManual)
	client.connected = false
	post(m, Event{Kind: UserTap})
	assert.Equal(t, Idle, m.State())
	assert.False(t, audio.recording)
	assert.Equal(t, "not connected", ui.lastStatus)
	assert.False(t, ui.statusOK)
}

func TestIdle_TapWhenConnected_MovesToListening(t *testing.T) {
	m, audio, _, ui := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	assert.Equal(t, Listening, m.State())
	assert.True(t, audio.recording)
	assert.True(t, ui.transcriptCleared)
}

func TestIdle_ButtonPress_MovesToListening(t *testing.T) {
	m, audio, _, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: ButtonPress})
	assert.Equal(t, Listening, m.State())
	assert.True(t, audio.recording)
}

func TestListening_VoiceEnd_ManualBackend_CommitsAndCreatesResponse(t *testing.T) {
	m, audio, client, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: VoiceEnd})
	assert.Equal(t, Processing, m.State())
	assert.False(t, audio.recording)
	assert.Equal(t, 1, client.commitCalls)
	assert.Equal(t, 1, client.createCalls)
}

func TestListening_UserTap_AutoBackend_CommitsWithoutCreateResponse(t *testing.T) {
	m, _, client, _ := newTestMachine(BackendAuto)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: UserTap})
	assert.Equal(t, Processing, m.State())
	assert.Equal(t, 1, client.commitCalls)
	assert.Equal(t, 0, client.createCalls)
}

func TestListening_Cancel_ReturnsToIdle(t *testing.T) {
	m, audio, client, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: Cancel})
	assert.Equal(t, Idle, m.State())
	assert.False(t, audio.recording)
	assert.Equal(t, 0, client.commitCalls)
}

func TestListening_UserLongPress_ReturnsToIdle(t *testing.T) {
	m, audio, _, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: UserLongPress})
	assert.Equal(t, Idle, m.State())
	assert.False(t, audio.recording)
}

func TestProcessing_ServiceResponseStart_MovesToSpeaking(t *testing.T) {
	m, audio, _, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: VoiceEnd})
	post(m, Event{Kind: ServiceResponseStart})
	assert.Equal(t, Speaking, m.State())
	assert.True(t, audio.playing)
}

func TestProcessing_ServiceError_MovesToError(t *testing.T) {
	m, _, _, ui := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: VoiceEnd})
	post(m, Event{Kind: ServiceError, ErrorCode: 4000, ErrorMsg: "boom"})
	assert.Equal(t, ErrorState, m.State())
	assert.Equal(t, "boom", ui.lastError)
}

func TestProcessing_Cancel_ReturnsToIdle(t *testing.T) {
	m, _, client, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: VoiceEnd})
	post(m, Event{Kind: Cancel})
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 1, client.cancelCalls)
}

func TestSpeaking_ResponseEnd_ReturnsToIdle(t *testing.T) {
	m, audio, _, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: VoiceEnd})
	post(m, Event{Kind: ServiceResponseStart})
	post(m, Event{Kind: ServiceResponseEnd})
	assert.Equal(t, Idle, m.State())
	assert.False(t, audio.playing)
}

func TestSpeaking_AudioDone_ReturnsToIdle(t *testing.T) {
	m, audio, _, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: VoiceEnd})
	post(m, Event{Kind: ServiceResponseStart})
	post(m, Event{Kind: AudioDone})
	assert.Equal(t, Idle, m.State())
	assert.False(t, audio.playing)
}

func TestSpeaking_Interrupt_CancelsAndClearsPlayback(t *testing.T) {
	m, audio, client, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: VoiceEnd})
	post(m, Event{Kind: ServiceResponseStart})
	post(m, Event{Kind: UserTap})
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 1, client.cancelCalls)
	assert.True(t, audio.cleared)
	assert.False(t, audio.playing)
}

func TestErrorState_Tap_ReturnsToIdle(t *testing.T) {
	m, _, _, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: UserTap})
	post(m, Event{Kind: VoiceEnd})
	post(m, Event{Kind: ServiceError, ErrorCode: 1, ErrorMsg: "x"})
	require.Equal(t, ErrorState, m.State())
	post(m, Event{Kind: UserTap})
	assert.Equal(t, Idle, m.State())
}

// TestUnlistedTransitions_AreNoops pins §8 property 6: an event with no
// entry for the current state leaves the state unchanged.
func TestUnlistedTransitions_AreNoops(t *testing.T) {
	m, _, _, _ := newTestMachine(BackendManual)
	post(m, Event{Kind: VoiceEnd}) // Idle has no VoiceEnd transition
	assert.Equal(t, Idle, m.State())

	post(m, Event{Kind: UserTap})
	require.Equal(t, Listening, m.State())
	post(m, Event{Kind: ServiceResponseStart}) // Listening has no such transition
	assert.Equal(t, Listening, m.State())
}

// TestStartStop_RunsConsumerGoroutine exercises the bus-driven path (as
// opposed to the direct handle() calls above) end to end.
func TestStartStop_RunsConsumerGoroutine(t *testing.T) {
	m, audio, _, _ := newTestMachine(BackendManual)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	defer m.Stop()

	require.NoError(t, m.Post(Event{Kind: UserTap}, 50*time.Millisecond))

	require.Eventually(t, func() bool {
		return m.State() == Listening
	}, time.Second, 5*time.Millisecond)
	assert.True(t, audio.recording)
}
