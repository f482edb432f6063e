// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsDepth(t *testing.T) {
	b := New(0)
	assert.Equal(t, 0, b.Len())
	require.NoError(t, b.Post(Msg{Kind: 1}, time.Millisecond))
	for i := 0; i < 19; i++ {
		require.NoError(t, b.Post(Msg{Kind: uint32(i)}, time.Millisecond))
	}
	assert.Equal(t, 20, b.Len())
}

func TestPost_FIFOOrder(t *testing.T) {
	b := New(4)
	for i := uint32(0); i < 4; i++ {
		require.NoError(t, b.Post(Msg{Kind: i}, time.Millisecond))
	}
	for i := uint32(0); i < 4; i++ {
		msg, ok := b.Receive(time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, i, msg.Kind)
	}
}

func TestPost_TimesOutWhenFull(t *testing.T) {
	b := New(1)
	require.NoError(t, b.Post(Msg{Kind: 1}, time.Millisecond))
	err := b.Post(Msg{Kind: 2}, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPost_SucceedsOnceSpaceFrees(t *testing.T) {
	b := New(1)
	require.NoError(t, b.Post(Msg{Kind: 1}, time.Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.Receive(50 * time.Millisecond)
	}()

	err := b.Post(Msg{Kind: 2}, 100*time.Millisecond)
	assert.NoError(t, err)
}

func TestPostFromISR_NeverBlocks(t *testing.T) {
	b := New(1)
	assert.True(t, b.PostFromISR(Msg{Kind: 1}))
	assert.False(t, b.PostFromISR(Msg{Kind: 2}))
}

func TestReceive_TimesOutWhenEmpty(t *testing.T) {
	b := New(1)
	_, ok := b.Receive(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestReceive_ZeroTimeoutIsNonBlocking(t *testing.T) {
	b := New(1)
	_, ok := b.Receive(0)
	assert.False(t, ok)

	require.NoError(t, b.Post(Msg{Kind: 7}, time.Millisecond))
	msg, ok := b.Receive(0)
	require.True(t, ok)
	assert.Equal(t, uint32(7), msg.Kind)
}

func TestPost_AssignsCorrelationIDWhenBlank(t *testing.T) {
	b := New(2)
	require.NoError(t, b.Post(Msg{Kind: 1}, time.Millisecond))
	msg, ok := b.Receive(time.Millisecond)
	require.True(t, ok)
	assert.NotEmpty(t, msg.ID)
}

func TestPost_PreservesCallerSuppliedID(t *testing.T) {
	b := New(2)
	require.NoError(t, b.Post(Msg{Kind: 1, ID: "caller-id"}, time.Millisecond))
	msg, ok := b.Receive(time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "caller-id", msg.ID)
}

func TestLen_TracksQueueDepth(t *testing.T) {
	b := New(4)
	assert.Equal(t, 0, b.Len())
	require.NoError(t, b.Post(Msg{Kind: 1}, time.Millisecond))
	require.NoError(t, b.Post(Msg{Kind: 2}, time.Millisecond))
	assert.Equal(t, 2, b.Len())
	b.Receive(time.Millisecond)
	assert.Equal(t, 1, b.Len())
}
