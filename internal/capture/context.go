package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/yegors/interview-coach/internal/audio"
	"github.com/yegors/interview-coach/pkg/logger"
)

const (
	// SampleRate is the rate the live service expects for input audio
	SampleRate = 16000
	// BlockSize is the number of samples in each outbound frame
	BlockSize = 4096
	// MIMEType tags every outbound frame
	MIMEType = "audio/pcm;rate=16000"
)

var (
	// ErrContextClosed is returned when starting a closed capture context
	ErrContextClosed = errors.New("capture context closed")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("capture already started")
)

// Frame is one encoded block ready for the realtime input channel
type Frame struct {
	Data     string
	MIMEType string
}

// NewFrame quantizes and encodes a block of float samples
func NewFrame(block []float32) Frame {
	return Frame{
		Data:     audio.EncodeFrame(audio.ToOutboundFrame(block)),
		MIMEType: MIMEType,
	}
}

// Options configures a capture context
type Options struct {
	SampleRate int
	BlockSize  int
	// OnEnd is called once when the source stops producing samples on its
	// own. It is not called after Disconnect.
	OnEnd  func(err error)
	Logger *logger.Logger
}

// Context is the capture processing graph: source, optional resampler and
// block framing. Nothing flows until Start.
type Context struct {
	source    Source
	resampler resampling.Resampler
	chunker   *audio.Chunker
	onEnd     func(error)
	logger    *logger.Logger

	mu           sync.Mutex
	started      bool
	disconnected bool
	closed       bool
	done         chan struct{}
}

// NewContext builds a capture graph over source. A resampler is inserted
// when the source rate differs from the target rate.
func NewContext(source Source, opts Options) (*Context, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = SampleRate
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = BlockSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	c := &Context{
		source:  source,
		chunker: audio.NewChunker(opts.BlockSize),
		onEnd:   opts.OnEnd,
		logger:  opts.Logger.Named("capture"),
		done:    make(chan struct{}),
	}

	if rate := source.SampleRate(); rate != opts.SampleRate {
		rs, err := resampling.New(&resampling.Config{
			InputRate:  float64(rate),
			OutputRate: float64(opts.SampleRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler: %w", err)
		}
		c.resampler = rs
		c.logger.Debug("Resampling capture input",
			logger.Int("source_rate", rate),
			logger.Int("target_rate", opts.SampleRate))
	}

	return c, nil
}

// Start begins reading the source and calls onBlock with each complete
// block, in capture order, from a single goroutine.
func (c *Context) Start(onBlock func(block []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.disconnected {
		return ErrContextClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	go c.run(onBlock)
	return nil
}

func (c *Context) run(onBlock func([]float32)) {
	defer close(c.done)

	buf := make([]float32, c.chunker.BlockSize())
	for {
		n, err := c.source.ReadSamples(buf)
		if n > 0 {
			samples, rerr := c.resample(buf[:n])
			if rerr != nil {
				// Drop this read and keep capturing
				c.logger.Warn("Failed to resample capture input", logger.Error(rerr))
			}
			for _, block := range c.chunker.Process(samples) {
				if c.isDisconnected() {
					return
				}
				onBlock(block)
			}
		}

		if err != nil {
			if c.isDisconnected() {
				return
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("Capture source failed", logger.Error(err))
			} else {
				c.logger.Debug("Capture source ended")
				if !c.drain(onBlock) {
					return
				}
			}
			if c.onEnd != nil {
				c.onEnd(err)
			}
			return
		}
	}
}

func (c *Context) resample(samples []float32) ([]float32, error) {
	if c.resampler == nil {
		return samples, nil
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := c.resampler.Process(in)
	if err != nil {
		return nil, err
	}
	return toFloat32(out), nil
}

// drain pushes the samples still held by the resampler filter through the
// chunker once the source has ended. It returns false if delivery was
// disconnected meanwhile.
func (c *Context) drain(onBlock func([]float32)) bool {
	if c.resampler == nil {
		return true
	}
	out, err := c.resampler.Flush()
	if err != nil {
		c.logger.Warn("Failed to flush capture resampler", logger.Error(err))
		return true
	}
	for _, block := range c.chunker.Process(toFloat32(out)) {
		if c.isDisconnected() {
			return false
		}
		onBlock(block)
	}
	return true
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s)
	}
	return out
}

func (c *Context) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Disconnect stops block delivery. It does not wait for the reader
// goroutine, which exits once the source is closed or its next read returns.
func (c *Context) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

// Close releases the graph. Safe to call in any state, more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.disconnected = true
	return nil
}

// Closed reports whether Close has been called
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the reader goroutine has exited. It never closes if
// Start was not called.
func (c *Context) Done() <-chan struct{} {
	return c.done
}
