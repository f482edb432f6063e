// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package pipeline orchestrates capture -> DSP -> VAD -> delivery and
// playback -> codec (C5, §4.5): two independently startable/stoppable
// tasks sharing one codec pair, two ring buffers, and live volume/mute
// state.
//
// Grounded on api/assistant-api/internal/channel/base's BaseStreamer: the
// mutex-guarded state shape and the non-blocking drop-with-warning send
// discipline carry over, generalized from never-blocking protobuf message
// channels to the timeout-bounded byte ring buffers internal/ring defines.
// Each task is started and stopped on its own with context.WithCancel and
// a sync.WaitGroup; errgroup is not used here.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rapidaai/voicecore/internal/audio"
	"github.com/rapidaai/voicecore/internal/audio/codec"
	"github.com/rapidaai/voicecore/internal/dsp"
	"github.com/rapidaai/voicecore/internal/ring"
	"github.com/rapidaai/voicecore/internal/vad"
	"github.com/rapidaai/voicecore/pkg/commons"
)

var (
	ErrAlreadyRunning  = errors.New("pipeline: already running")
	ErrNotInitialized  = errors.New("pipeline: not initialized")
	ErrCodecOpenFailed = errors.New("pipeline: codec open failed")
	ErrAllocFailed     = errors.New("pipeline: allocation failed")
	errBufferOverflow  = errors.New("pipeline: buffer overflow") // non-fatal; reported via log + counter, never returned
)

// DeliveryFunc receives each processed capture frame synchronously from
// the recorder task (§4.5: "invokes the configured delivery callback with
// (bytes, size, vad, user_data)"). Implementations must not block.
type DeliveryFunc func(frame audio.Frame)

// Config is the PipelineConfig of §3/§4.5.
type Config struct {
	Format audio.Format

	AEC     bool
	AECMode int
	NS      bool
	NSLevel int
	VAD     bool

	VadThreshold int64
	VadSilenceMS int64
	VadMode      int

	CaptureRingBytes  int
	PlaybackRingBytes int

	Delivery DeliveryFunc
}

const (
	defaultRingSeconds = 2
	popTimeout         = 50 * time.Millisecond
	ringPushTimeout    = 0 // non-blocking: drop rather than stall the recorder
	silenceAfterFrames = 2 // write a silence frame on each empty pop once this many consecutive pops (popTimeout each) came back empty
)

// Pipeline is the audio pipeline instance (C5). Safe for concurrent calls
// to its exported methods; at most one recorder goroutine and one player
// goroutine ever run at a time.
type Pipeline struct {
	logger commons.Logger
	mic    codec.Device
	spk    codec.Device

	mu           sync.Mutex
	initialized  bool
	cfg          Config
	dspChain     *dsp.Chain
	vadDet       *vad.Detector
	captureRing  *ring.Buffer
	playbackRing *ring.Buffer

	recording  bool
	recCancel  context.CancelFunc
	recWG      sync.WaitGroup

	playing    bool
	playCancel context.CancelFunc
	playWG     sync.WaitGroup

	volume   atomic.Int32
	muted    atomic.Bool
	level    atomic.Int32
	vadState atomic.Int32 // audio.VadState, updated by the recorder task, read by GetVAD
	tick     atomic.Int64
	overflow atomic.Int64
}

// New constructs a Pipeline bound to a mic/speaker device pair. Call Init
// before starting recording or playback.
func New(logger commons.Logger, mic, spk codec.Device) *Pipeline {
	p := &Pipeline{logger: logger, mic: mic, spk: spk}
	p.volume.Store(100)
	return p
}

// Init allocates ring buffers and DSP/VAD state for cfg. If the pipeline
// is already initialized but neither task is running, Init behaves like
// Configure; if either task is active it fails with ErrAlreadyRunning —
// reinitializing live hardware out from under a running task is not
// supported (see DESIGN.md's Open Question decisions).
func (p *Pipeline) Init(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording || p.playing {
		return ErrAlreadyRunning
	}
	if err := p.applyConfigLocked(cfg); err != nil {
		return err
	}
	p.initialized = true
	return nil
}

// Deinit stops both tasks (if running) and releases pipeline state.
func (p *Pipeline) Deinit() error {
	if err := p.StopRecording(); err != nil {
		return err
	}
	if err := p.StopPlayback(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
	p.captureRing = nil
	p.playbackRing = nil
	return nil
}

// Configure replaces the DSP/VAD state and delivery settings and, if the
// ring sizes changed, reallocates the ring buffers (dropping any buffered
// content). Safe to call while recording/playback are active, but a
// running recorder or player keeps the state and ring it started with;
// the new settings take effect on that task's next start.
func (p *Pipeline) Configure(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return ErrNotInitialized
	}
	return p.applyConfigLocked(cfg)
}

func (p *Pipeline) applyConfigLocked(cfg Config) error {
	if cfg.Format.SampleRate <= 0 {
		return fmt.Errorf("%w: invalid sample rate", ErrAllocFailed)
	}
	frameBytes := cfg.Format.FrameBytes()
	if frameBytes <= 0 {
		return fmt.Errorf("%w: invalid frame size", ErrAllocFailed)
	}

	captureBytes := cfg.CaptureRingBytes
	if captureBytes <= 0 {
		captureBytes = cfg.Format.BytesPerSecond() * defaultRingSeconds
	}
	playbackBytes := cfg.PlaybackRingBytes
	if playbackBytes <= 0 {
		playbackBytes = cfg.Format.BytesPerSecond() * defaultRingSeconds
	}

	p.cfg = cfg
	p.dspChain = dsp.New(dsp.Config{AEC: cfg.AEC, AECMode: cfg.AECMode, NS: cfg.NS, NSLevel: cfg.NSLevel})
	vc := vad.Config{Threshold: cfg.VadThreshold, SilenceMS: cfg.VadSilenceMS, Mode: cfg.VadMode}
	if vc.Threshold == 0 {
		vc.Threshold = vad.DefaultConfig().Threshold
	}
	if vc.SilenceMS == 0 {
		vc.SilenceMS = vad.DefaultConfig().SilenceMS
	}
	p.vadDet = vad.New(vc)
	if p.captureRing == nil || p.captureRing.Capacity() != captureBytes {
		p.captureRing = ring.New(captureBytes)
	}
	if p.playbackRing == nil || p.playbackRing.Capacity() != playbackBytes {
		p.playbackRing = ring.New(playbackBytes)
	}
	return nil
}

// StartRecording opens the mic codec and launches the recorder task.
// Idempotent: calling it while already recording is a no-op (§4.5).
func (p *Pipeline) StartRecording() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return ErrNotInitialized
	}
	if p.recording {
		return nil
	}
	if err := p.mic.Open(p.cfg.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrCodecOpenFailed, err)
	}
	p.dspChain.Reset()
	p.dspChain.ClearAECRef()
	p.vadDet.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	p.recCancel = cancel
	p.recording = true
	p.recWG.Add(1)
	go p.recorderLoop(ctx)
	return nil
}

// StopRecording halts the recorder task within one frame period and
// closes the mic codec. Idempotent.
func (p *Pipeline) StopRecording() error {
	p.mu.Lock()
	if !p.recording {
		p.mu.Unlock()
		return nil
	}
	cancel := p.recCancel
	p.mu.Unlock()

	cancel()
	// Close unblocks a recorder goroutine parked in a blocking Read so it
	// observes the cancellation within one frame period rather than
	// waiting indefinitely for the next frame that may never arrive.
	closeErr := p.mic.Close()
	p.recWG.Wait()

	p.mu.Lock()
	p.recording = false
	p.mu.Unlock()
	return closeErr
}

// StartPlayback opens the speaker codec and launches the player task.
// Idempotent.
func (p *Pipeline) StartPlayback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return ErrNotInitialized
	}
	if p.playing {
		return nil
	}
	if err := p.spk.Open(p.cfg.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrCodecOpenFailed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.playCancel = cancel
	p.playing = true
	p.playWG.Add(1)
	go p.playerLoop(ctx)
	return nil
}

// StopPlayback halts the player task and closes the speaker codec.
// Idempotent.
func (p *Pipeline) StopPlayback() error {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return nil
	}
	cancel := p.playCancel
	p.mu.Unlock()

	cancel()
	p.playWG.Wait()

	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	return p.spk.Close()
}

// WritePlayback enqueues bytes for playback, blocking up to timeout for
// room in the ring buffer.
func (p *Pipeline) WritePlayback(data []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	r := p.playbackRing
	p.mu.Unlock()
	if r == nil {
		return 0, ErrNotInitialized
	}
	return r.Push(data, timeout), nil
}

// ReadCapture drains up to len(buf) bytes from the capture ring buffer,
// blocking up to timeout if empty.
func (p *Pipeline) ReadCapture(buf []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	r := p.captureRing
	p.mu.Unlock()
	if r == nil {
		return 0, ErrNotInitialized
	}
	got := r.PopUpTo(len(buf), timeout)
	return copy(buf, got), nil
}

// SetVolume sets the software playback volume (0..100) and, when
// supported, the codec's hardware volume.
func (p *Pipeline) SetVolume(percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p.volume.Store(int32(percent))
	return p.spk.SetOutVolume(percent)
}

// SetMute zeros playback samples in software and, when supported, mutes
// the codec.
func (p *Pipeline) SetMute(mute bool) error {
	p.muted.Store(mute)
	return p.spk.SetOutMute(mute)
}

// ClearPlayback empties the playback ring buffer.
func (p *Pipeline) ClearPlayback() {
	p.mu.Lock()
	r := p.playbackRing
	p.mu.Unlock()
	if r != nil {
		r.Reset()
	}
}

// GetVAD returns the most recent VAD state observed by the recorder.
func (p *Pipeline) GetVAD() audio.VadState {
	return audio.VadState(p.vadState.Load())
}

// GetLevel returns the most recent 0..100 energy level observed by the
// recorder.
func (p *Pipeline) GetLevel() int {
	return int(p.level.Load())
}

// Overflows returns the number of frames dropped so far due to a full
// capture ring buffer (§4.5's non-fatal BufferOverflow, reported via
// log-counter rather than a returned error).
func (p *Pipeline) Overflows() int64 {
	return p.overflow.Load()
}

func (p *Pipeline) recorderLoop(ctx context.Context) {
	defer p.recWG.Done()

	p.mu.Lock()
	frameBytes := p.cfg.Format.FrameBytes()
	dspChain := p.dspChain
	vadDet := p.vadDet
	captureRing := p.captureRing
	delivery := p.cfg.Delivery
	vadEnabled := p.cfg.VAD
	p.mu.Unlock()

	buf := make([]byte, frameBytes)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.mic.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.logger.Warnw("pipeline: mic read failed", "error", err)
			continue
		}

		samples := audio.BytesToInt16(buf[:n])
		dspChain.Process(samples)

		tick := p.tick.Add(1)
		state := audio.Silence
		level := 0
		if vadEnabled {
			state, level = vadDet.Process(samples, tick*audio.FrameMillis)
		} else {
			level = vad.Level(vad.Energy(samples))
		}
		p.level.Store(int32(level))
		p.vadState.Store(int32(state))

		audio.Int16ToBytes(samples, buf[:n])

		if delivery != nil {
			frame := audio.Frame{Data: buf[:n], Size: n, Vad: state, Level: level, Tick: tick}
			delivery(frame.Clone())
		}

		if written := captureRing.Push(buf[:n], ringPushTimeout); written < n {
			p.overflow.Add(1)
			p.logger.Warnw("pipeline: capture ring buffer full, dropping frame", "error", errBufferOverflow)
		}
	}
}

func (p *Pipeline) playerLoop(ctx context.Context) {
	defer p.playWG.Done()

	p.mu.Lock()
	frameBytes := p.cfg.Format.FrameBytes()
	playbackRing := p.playbackRing
	p.mu.Unlock()

	silence := make([]byte, frameBytes)
	scratch := make([]byte, frameBytes)
	emptyFor := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data := playbackRing.PopUpTo(frameBytes, popTimeout)
		if data == nil {
			emptyFor++
			if emptyFor >= silenceAfterFrames {
				p.writeFrame(silence)
			}
			continue
		}

		emptyFor = 0
		out := p.applyVolume(data, scratch[:len(data)])
		p.writeFrame(out)
	}
}

func (p *Pipeline) applyVolume(data []byte, out []byte) []byte {
	if p.muted.Load() {
		for i := range out {
			out[i] = 0
		}
		return out
	}
	vol := p.volume.Load()
	if vol == 100 {
		copy(out, data)
		return out
	}
	samples := audio.BytesToInt16(data)
	for i, s := range samples {
		samples[i] = int16((int32(s) * vol) / 100)
	}
	audio.Int16ToBytes(samples, out)
	return out
}

func (p *Pipeline) writeFrame(buf []byte) {
	if _, err := p.spk.Write(buf); err != nil {
		p.logger.Warnw("pipeline: speaker write failed", "error", err)
	}
}
