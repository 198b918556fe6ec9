package playback

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/yegors/interview-coach/internal/audio"
	"github.com/yegors/interview-coach/pkg/logger"
)

// DefaultRenderInterval is how often the output mixes and writes a block
const DefaultRenderInterval = 20 * time.Millisecond

// ErrContextClosed is returned when playing on a closed output
var ErrContextClosed = errors.New("playback context closed")

// ContextOptions configures an output context
type ContextOptions struct {
	SampleRate int
	Interval   time.Duration
	// Monitor receives a copy of every rendered block, if set
	Monitor io.Writer
	Logger  *logger.Logger
}

// Context is a software audio output. Its clock is the number of frames
// rendered so far; each tick mixes every voice overlapping the next block
// and writes s16le mono to the sink.
type Context struct {
	rate     int
	interval time.Duration
	sink     io.Writer
	monitor  io.Writer
	logger   *logger.Logger

	mu       sync.Mutex
	frame    int64
	voices   map[*voice]struct{}
	closed   bool
	running  bool
	sinkErr  bool
	stopCh   chan struct{}
	mix      []float32
	rendered int64 // blocks, for debug logging
}

type voice struct {
	ctx     *Context
	samples []float32
	start   int64
	onEnded func(Voice)
}

// Stop removes the voice from the mix. It is a no-op once the voice has
// finished or the context has closed.
func (v *voice) Stop() {
	v.ctx.mu.Lock()
	delete(v.ctx.voices, v)
	v.ctx.mu.Unlock()
}

// Start returns the frame the voice begins at, in seconds
func (v *voice) Start() float64 {
	return float64(v.start) / float64(v.ctx.rate)
}

// NewContext creates an output context writing to sink. Call Start to begin
// real-time rendering.
func NewContext(sink io.Writer, opts ContextOptions) *Context {
	if opts.SampleRate <= 0 {
		opts.SampleRate = SampleRate
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultRenderInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Context{
		rate:     opts.SampleRate,
		interval: opts.Interval,
		sink:     sink,
		monitor:  opts.Monitor,
		logger:   opts.Logger.Named("playback"),
		voices:   make(map[*voice]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// SampleRate returns the output rate
func (c *Context) SampleRate() int {
	return c.rate
}

// CurrentTime returns the playback clock in seconds
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.frame) / float64(c.rate)
}

// Play schedules buf to start at the given clock time. Starts in the past
// are moved up to the current frame.
func (c *Context) Play(buf *audio.Buffer, at float64, onEnded func(Voice)) (Voice, error) {
	if buf.SampleRate != c.rate {
		return nil, fmt.Errorf("buffer rate %d does not match output rate %d", buf.SampleRate, c.rate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}

	start := int64(math.Round(at * float64(c.rate)))
	if start < c.frame {
		start = c.frame
	}
	v := &voice{
		ctx:     c,
		samples: downmix(buf),
		start:   start,
		onEnded: onEnded,
	}
	c.voices[v] = struct{}{}
	return v, nil
}

func downmix(buf *audio.Buffer) []float32 {
	if len(buf.Channels) == 1 {
		return buf.Channels[0]
	}
	out := make([]float32, buf.Frames())
	scale := 1 / float32(len(buf.Channels))
	for _, ch := range buf.Channels {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}

// Render mixes the next frames frames, advances the clock and writes the
// block out. Finished voices have their onEnded called after the write.
func (c *Context) Render(frames int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrContextClosed
	}

	if cap(c.mix) < frames {
		c.mix = make([]float32, frames)
	}
	mix := c.mix[:frames]
	for i := range mix {
		mix[i] = 0
	}

	from, to := c.frame, c.frame+int64(frames)
	var ended []*voice
	for v := range c.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for f := lo; f < hi; f++ {
			mix[f-from] += v.samples[f-v.start]
		}
		if end <= to {
			ended = append(ended, v)
			delete(c.voices, v)
		}
	}
	c.frame = to
	c.rendered++
	block := audio.ToOutboundFrame(mix)
	c.mu.Unlock()

	if c.sink != nil {
		if _, err := c.sink.Write(block); err != nil {
			c.noteSinkError(err)
		}
	}
	if c.monitor != nil {
		// Monitor listeners are best effort
		_, _ = c.monitor.Write(block)
	}

	for _, v := range ended {
		if v.onEnded != nil {
			v.onEnded(v)
		}
	}
	return nil
}

func (c *Context) noteSinkError(err error) {
	c.mu.Lock()
	first := !c.sinkErr
	c.sinkErr = true
	c.mu.Unlock()

	// Keep the clock advancing; log once rather than on every tick
	if first {
		c.logger.Warn("Playback sink write failed", logger.Error(err))
	}
}

// Start launches the real-time render loop. It is a no-op if already
// running or closed.
func (c *Context) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.closed {
		return
	}
	c.running = true
	go c.loop()
}

func (c *Context) loop() {
	framesPerTick := int(int64(c.rate) * int64(c.interval) / int64(time.Second))
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer c.closeSink()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.Render(framesPerTick); err != nil {
				return
			}
		}
	}
}

func (c *Context) closeSink() {
	if closer, ok := c.sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Debug("Playback sink close failed", logger.Error(err))
		}
	}
}

// Pending returns the number of voices not yet finished
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voices)
}

// Close drops every voice without firing onEnded and stops rendering. The
// sink is closed by the render loop on its way out, or here if the loop was
// never started. Safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.voices = make(map[*voice]struct{})
	running := c.running
	close(c.stopCh)
	c.logger.Debug("Playback context closed",
		logger.Int64("frames", c.frame),
		logger.Int64("blocks", c.rendered))
	c.mu.Unlock()

	if !running {
		c.closeSink()
	}
	return nil
}

// Closed reports whether Close has been called
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
