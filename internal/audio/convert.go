// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package audio

import "encoding/binary"

// BytesToInt16 reinterprets little-endian PCM16 bytes as samples. len(b)
// must be even; a trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Int16ToBytes writes samples into out as little-endian PCM16. out must be
// at least len(samples)*2 bytes; returns the number of bytes written.
func Int16ToBytes(samples []int16, out []byte) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return len(samples) * 2
}
