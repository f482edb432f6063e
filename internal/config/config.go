// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads the process-wide AppConfig (§6's "Configuration
// recognized at init") the way
// api/integration-api/config/config.go does: spf13/viper with a
// double-underscore key delimiter for nested env vars, SetDefault calls,
// then go-playground/validator/v10 struct validation after Unmarshal.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// PipelineConfig mirrors spec.md §3/§6's pipeline knobs.
type PipelineConfig struct {
	AEC     bool `mapstructure:"aec"`
	NS      bool `mapstructure:"ns"`
	VAD     bool `mapstructure:"vad"`
	VadMode int  `mapstructure:"vad_mode" validate:"gte=0,lte=3"`
	NSLevel int  `mapstructure:"ns_level" validate:"gte=0,lte=3"`
	AECMode int  `mapstructure:"aec_mode" validate:"gte=0,lte=2"`
}

// AppConfig is the process-wide configuration recognized at init (§6).
type AppConfig struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"required"`
	LogPath     string `mapstructure:"log_path"`

	Backend    string `mapstructure:"backend" validate:"required,oneof=manual auto"`
	Endpoint   string `mapstructure:"endpoint" validate:"required"`
	Host       string `mapstructure:"host"`
	Path       string `mapstructure:"path"`
	APIVersion string `mapstructure:"api_version"`
	APIKey     string `mapstructure:"api_key"`
	Token      string `mapstructure:"token"`
	Deployment string `mapstructure:"deployment"`
	BotID      string `mapstructure:"bot_id"`
	UserID     string `mapstructure:"user_id"`
	Voice      string `mapstructure:"voice"`

	SampleRate int    `mapstructure:"sample_rate" validate:"required"`
	WireFormat string `mapstructure:"wire_format" validate:"required,oneof=pcm16 g711_ulaw"`

	Pipeline PipelineConfig `mapstructure:"pipeline"`

	ReconnectDelayMS int `mapstructure:"reconnect_delay_ms"`
	BatchFrames      int `mapstructure:"batch_frames"`
	BatchTimeoutMS   int `mapstructure:"batch_timeout_ms"`
	SendPacedDelayMS int `mapstructure:"send_paced_delay_ms"`
	QueueDepth       int `mapstructure:"queue_depth"`
}

// InitConfig builds a viper instance with voicecore's defaults, reading an
// optional env file (ENV_PATH) and then environment variables, mirroring
// the teacher's InitConfig shape.
func InitConfig() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.AutomaticEnv()

	setDefaults(v)
	_ = v.ReadInConfig() // missing/absent config file is not fatal; env vars and defaults carry the rest

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "voicecored")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("BACKEND", "manual")
	v.SetDefault("SAMPLE_RATE", 8000)
	v.SetDefault("WIRE_FORMAT", "g711_ulaw")

	v.SetDefault("PIPELINE__AEC", false)
	v.SetDefault("PIPELINE__NS", true)
	v.SetDefault("PIPELINE__VAD", true)
	v.SetDefault("PIPELINE__VAD_MODE", 1)
	v.SetDefault("PIPELINE__NS_LEVEL", 1)
	v.SetDefault("PIPELINE__AEC_MODE", 0)

	v.SetDefault("RECONNECT_DELAY_MS", 5000)
	v.SetDefault("BATCH_FRAMES", 2)
	v.SetDefault("BATCH_TIMEOUT_MS", 100)
	v.SetDefault("SEND_PACED_DELAY_MS", 70)
	v.SetDefault("QUEUE_DEPTH", 20)
}

// GetApplicationConfig unmarshals and validates v into an AppConfig.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal failed: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}
