package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedAudioData is returned when raw PCM bytes do not divide evenly
// into 16-bit frames for the requested channel count.
var ErrMalformedAudioData = errors.New("malformed audio data")

// Buffer is decoded PCM ready for playback: one float sample slice per channel,
// normalized to [-1.0, 1.0).
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames in the buffer
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer in seconds
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// EncodeFrame encodes raw bytes into the wire text form
func EncodeFrame(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeFrame is the exact inverse of EncodeFrame
func DecodeFrame(text string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudioData, err)
	}
	return raw, nil
}

// ToPlaybackBuffer interprets raw as signed 16-bit little-endian interleaved
// samples and de-interleaves them into a Buffer.
func ToPlaybackBuffer(raw []byte, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: channel count %d", ErrMalformedAudioData, channels)
	}
	frameSize := 2 * channels
	if len(raw)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedAudioData, len(raw), frameSize)
	}

	frames := len(raw) / frameSize
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(raw[off:]))
			buf.Channels[ch][i] = float32(sample) / 32768
		}
	}

	return buf, nil
}

// ToOutboundFrame scales float samples by 32768, truncates to int16 and packs
// them little-endian. Samples outside the int16 range are clamped.
func ToOutboundFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

func quantize(s float32) int16 {
	v := float64(s) * 32768
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
