// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command voicecored wires the Audio Pipeline, Realtime Client, Event
// Bus, and Session State Machine into one running process (§5: "no
// global mutable state other than: the process-wide event bus singleton,
// the audio pipeline singleton, the realtime client singleton, the
// session singleton. Each has explicit init/deinit lifecycle").
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rapidaai/voicecore/internal/audio"
	"github.com/rapidaai/voicecore/internal/audio/codec"
	"github.com/rapidaai/voicecore/internal/config"
	"github.com/rapidaai/voicecore/internal/eventbus"
	"github.com/rapidaai/voicecore/internal/pipeline"
	"github.com/rapidaai/voicecore/internal/protocol"
	"github.com/rapidaai/voicecore/internal/protocol/backend"
	"github.com/rapidaai/voicecore/internal/realtime"
	"github.com/rapidaai/voicecore/internal/session"
	"github.com/rapidaai/voicecore/pkg/commons"
)

func main() {
	v, err := config.InitConfig()
	if err != nil {
		panic(err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		panic(err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.ServiceName),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
	)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	format, err := audio.NewFormat(cfg.SampleRate)
	if err != nil {
		// Fatal per §7: failure to initialize core buffers at init time
		// halts the process after deinit; there is nothing to deinit yet.
		logger.Fatalf("voicecored: invalid audio format: %v", err)
	}

	bus := eventbus.New(cfg.QueueDepth)

	// The concrete microphone/speaker device is an external collaborator
	// (§6); voicecored wires the loopback test double until a real
	// hardware backend is selected at build time for a target platform.
	mic := codec.NewLoopbackDevice()
	spk := codec.NewLoopbackDevice()
	pl := pipeline.New(logger, mic, spk)

	client := realtime.New(logger)
	machine := session.New(logger, bus, pl, client, nil, session.ManualCommit(cfg.Backend == "manual"))
	audioWriteTimeout := time.Duration(audio.FrameMillis) * time.Millisecond

	if err := pl.Init(pipeline.Config{
		Format:       format,
		AEC:          cfg.Pipeline.AEC,
		AECMode:      cfg.Pipeline.AECMode,
		NS:           cfg.Pipeline.NS,
		NSLevel:      cfg.Pipeline.NSLevel,
		VAD:          cfg.Pipeline.VAD,
		VadThreshold: 0, // use vad.DefaultConfig()
		VadSilenceMS: 0,
		VadMode:      cfg.Pipeline.VadMode,
		Delivery: func(frame audio.Frame) {
			if err := client.SendAudio(frame.Data); err != nil {
				logger.Debugw("voicecored: send audio dropped", "error", err)
			}
			switch frame.Vad {
			case audio.VoiceStart:
				postEvent(logger, bus, session.Event{Kind: session.VoiceStart})
			case audio.VoiceEnd:
				postEvent(logger, bus, session.Event{Kind: session.VoiceEnd})
			}
		},
	}); err != nil {
		logger.Fatalf("voicecored: pipeline init failed: %v", err)
	}

	backendKind := backend.Manual
	if cfg.Backend == "auto" {
		backendKind = backend.Auto
	}
	if err := client.Configure(realtime.Config{
		Backend: backendKind,
		Endpoint: backend.Endpoint{
			Host:       cfg.Endpoint,
			Path:       cfg.Path,
			APIVersion: cfg.APIVersion,
			Deployment: cfg.Deployment,
			APIKey:     cfg.APIKey,
			Token:      cfg.Token,
		},
		Voice:            cfg.Voice,
		SampleRate:       cfg.SampleRate,
		WireFormat:       cfg.WireFormat,
		BotID:            cfg.BotID,
		UserID:           cfg.UserID,
		ChunkBytes:       format.FrameBytes(),
		QueueDepth:       cfg.QueueDepth,
		BatchFrames:      cfg.BatchFrames,
		BatchTimeoutMS:   cfg.BatchTimeoutMS,
		SendPacedDelayMS: cfg.SendPacedDelayMS,
		ReconnectDelayMS: cfg.ReconnectDelayMS,
		Callback: func(ev protocol.Event) {
			if ev.Kind == protocol.EventAudioDelta {
				pcmBytes := make([]byte, len(ev.AudioPCM)*2)
				audio.Int16ToBytes(ev.AudioPCM, pcmBytes)
				if _, err := pl.WritePlayback(pcmBytes, audioWriteTimeout); err != nil {
					logger.Debugw("voicecored: playback write dropped", "error", err)
				}
				return
			}
			dispatchServiceEvent(logger, bus, ev)
		},
	}); err != nil {
		logger.Fatalf("voicecored: realtime client configure failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	machine.Start(ctx)
	if err := client.Connect(); err != nil {
		logger.Errorf("voicecored: connect failed: %v", err)
	}

	logger.Infow("voicecored: started", "backend", cfg.Backend, "sample_rate", cfg.SampleRate)
	<-ctx.Done()

	logger.Infow("voicecored: shutting down")
	machine.Stop()
	_ = client.Disconnect()
	_ = pl.Deinit()
}

// dispatchServiceEvent translates a Realtime Client event into the
// Session State Machine's Event taxonomy (§4.7 -> §4.8's producer side).
func dispatchServiceEvent(logger commons.Logger, bus *eventbus.Bus, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventResponseCreated:
		postEvent(logger, bus, session.Event{Kind: session.ServiceResponseStart})
	case protocol.EventResponseDone:
		postEvent(logger, bus, session.Event{Kind: session.ServiceResponseEnd})
	case protocol.EventAudioDone:
		postEvent(logger, bus, session.Event{Kind: session.AudioDone})
	case protocol.EventServiceError:
		postEvent(logger, bus, session.Event{Kind: session.ServiceError, ErrorCode: ev.ErrorCode, ErrorMsg: ev.ErrorMsg})
	}
}

func postEvent(logger commons.Logger, bus *eventbus.Bus, ev session.Event) {
	if err := bus.Post(eventbus.Msg{Kind: uint32(ev.Kind), Payload: ev}, 100*time.Millisecond); err != nil {
		logger.Warnw("voicecored: event bus post timed out", "event", ev.Kind, "error", err)
	}
}
