package audio

import "encoding/binary"

// PCM16 wire format: mono, 16 kHz, little-endian, 2 bytes per sample, low
// byte first. Downstream speech recognition fails silently on a byte-order or
// sign flip, so the codec here is exact for the full signed range.

// EncodePCM16 serializes samples to little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM16 parses little-endian bytes back into samples.
// Trailing odd bytes are ignored.
func DecodePCM16(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
