package device

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/yegors/interview-coach/internal/audio"
	"github.com/yegors/interview-coach/internal/capture"
)

// WAVFileMicrophone replays a 16-bit mono WAV file as the microphone.
// With Realtime set, samples are released no faster than the file's rate.
type WAVFileMicrophone struct {
	Path     string
	Realtime bool
}

// Open reads the WAV header and returns a source positioned at the first sample
func (m WAVFileMicrophone) Open(ctx context.Context) (capture.Source, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", m.Path, err)
	}

	h, err := audio.ReadWAVHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read %s: %w", m.Path, err)
	}
	if h.NumChannels != 1 {
		f.Close()
		return nil, fmt.Errorf("%w: %s has %d channels, want mono", audio.ErrUnsupportedWAV, m.Path, h.NumChannels)
	}

	body := &fileBody{r: io.LimitReader(f, int64(h.DataSize)), c: f}
	if m.Realtime {
		body.r = &pacedReader{r: body.r, bytesPerSec: int(h.SampleRate) * 2}
	}
	return capture.NewPCMSource(body, int(h.SampleRate)), nil
}

type fileBody struct {
	r io.Reader
	c io.Closer
}

func (b *fileBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *fileBody) Close() error { return b.c.Close() }

// pacedReader delays reads so that data is delivered at bytesPerSec
type pacedReader struct {
	r           io.Reader
	bytesPerSec int
	start       time.Time
	read        int64
}

func (p *pacedReader) Read(b []byte) (int, error) {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	due := p.start.Add(time.Duration(p.read) * time.Second / time.Duration(p.bytesPerSec))
	if wait := time.Until(due); wait > 0 {
		time.Sleep(wait)
	}
	n, err := p.r.Read(b)
	p.read += int64(n)
	return n, err
}

// WAVFileSpeaker records the rendered playback mix into a WAV file
type WAVFileSpeaker struct {
	Path string
}

// Open creates the file. The header sizes are written when the sink is closed.
func (s WAVFileSpeaker) Open(ctx context.Context, sampleRate int) (io.WriteCloser, error) {
	f, err := os.Create(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", s.Path, err)
	}
	return audio.NewWAVWriter(f, sampleRate, 1), nil
}
