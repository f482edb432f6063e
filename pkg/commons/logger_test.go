// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApplicationLogger_Defaults(t *testing.T) {
	logger, err := NewApplicationLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
	logger.Infow("hello", "k", "v")
}

func TestNewApplicationLogger_WithFileRotation(t *testing.T) {
	logger, err := NewApplicationLogger(
		Name("test-svc"),
		Path(t.TempDir()),
		Level("debug"),
	)
	require.NoError(t, err)
	logger.Debugf("frame delivered: %d bytes", 960)
	logger.Benchmark("pipeline.start", 12*time.Millisecond)
}

func TestNewApplicationLogger_InvalidLevel(t *testing.T) {
	_, err := NewApplicationLogger(Level("not-a-level"))
	assert.Error(t, err)
}
