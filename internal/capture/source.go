package capture

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// Source produces mono float samples in [-1.0, 1.0) at its native rate.
// Close stops the underlying input tracks and must be idempotent.
type Source interface {
	SampleRate() int
	ReadSamples(p []float32) (int, error)
	Close() error
}

// PCMSource adapts a reader of signed 16-bit little-endian mono PCM
// (ffmpeg stdout, a WAV body, browser frames) into a Source.
type PCMSource struct {
	r          io.ReadCloser
	sampleRate int
	raw        []byte
	carry      []byte // dangling odd byte from the previous read

	closeOnce sync.Once
	closeErr  error
}

// NewPCMSource wraps r, which must yield s16le mono samples at sampleRate
func NewPCMSource(r io.ReadCloser, sampleRate int) *PCMSource {
	return &PCMSource{r: r, sampleRate: sampleRate}
}

// SampleRate returns the native rate of the wrapped stream
func (s *PCMSource) SampleRate() int {
	return s.sampleRate
}

// ReadSamples fills p with up to len(p) decoded samples
func (s *PCMSource) ReadSamples(p []float32) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	need := len(p)*2 - len(s.carry)
	if cap(s.raw) < len(p)*2 {
		s.raw = make([]byte, len(p)*2)
	}
	raw := s.raw[:len(s.carry)+need]
	copy(raw, s.carry)

	n, err := s.r.Read(raw[len(s.carry):])
	total := len(s.carry) + n
	whole := total / 2 * 2

	for i := 0; i < whole; i += 2 {
		p[i/2] = float32(int16(binary.LittleEndian.Uint16(raw[i:]))) / 32768
	}
	s.carry = append(s.carry[:0], raw[whole:total]...)

	if errors.Is(err, io.ErrClosedPipe) {
		err = io.EOF
	}
	return whole / 2, err
}

// Close closes the wrapped reader once
func (s *PCMSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.r.Close()
	})
	return s.closeErr
}
