package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/interview-coach/internal/capture"
	"github.com/yegors/interview-coach/internal/live"
	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/playback"
	"github.com/yegors/interview-coach/internal/transcription"
	"github.com/yegors/interview-coach/pkg/logger"
)

// Options configures a Controller
type Options struct {
	Model        string
	Microphone   Microphone
	Speaker      Speaker
	Dialer       Dialer
	Instructions InstructionBuilder
	Observer     Observer
	Metrics      *metrics.Metrics
	// Monitor receives a copy of the rendered playback mix, if set
	Monitor io.Writer

	CaptureSampleRate  int
	PlaybackSampleRate int
	BlockSize          int
	RenderInterval     time.Duration
	ConnectTimeout     time.Duration
	StopTimeout        time.Duration

	Logger *logger.Logger
}

// Controller runs at most one live interview session at a time. Every
// callback from the live service, the capture graph and the playback
// output is posted to a per-session event loop, which alone touches the
// session's resources.
type Controller struct {
	opts   Options
	logger *logger.Logger

	mu           sync.Mutex
	state        State
	status       string
	sessionID    string
	current      *session
	transcript   transcription.Transcript
	live         transcription.LiveText
	activeVoices int
	nextStart    float64
	lastErr      error

	notifyMu sync.Mutex
}

// NewController validates opts and creates an idle controller
func NewController(opts Options) (*Controller, error) {
	if opts.Microphone == nil || opts.Speaker == nil {
		return nil, errors.New("session controller needs a microphone and a speaker")
	}
	if opts.Dialer == nil || opts.Instructions == nil {
		return nil, errors.New("session controller needs a dialer and an instruction builder")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	if opts.CaptureSampleRate <= 0 {
		opts.CaptureSampleRate = capture.SampleRate
	}
	if opts.PlaybackSampleRate <= 0 {
		opts.PlaybackSampleRate = playback.SampleRate
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = capture.BlockSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 2 * time.Second
	}

	return &Controller{
		opts:   opts,
		logger: opts.Logger.Named("session"),
		state:  StateIdle,
		status: StatusNotStarted,
	}, nil
}

// Start opens the microphone and both audio contexts, dials the live
// service and blocks until the session is open. It is valid only while
// idle. Cancelling ctx later tears the session down.
func (c *Controller) Start(ctx context.Context, p *persona.Persona) error {
	if p == nil {
		return fmt.Errorf("%w: a persona is required", persona.ErrInvalidPersona)
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	s := newSession(c, uuid.NewString())
	c.current = s
	c.sessionID = s.id
	c.transcript.Reset()
	c.live = transcription.LiveText{}
	c.activeVoices = 0
	c.nextStart = 0
	c.lastErr = nil
	c.mu.Unlock()

	c.setState(s.id, StateInitializing, StatusInitializing)
	s.log.Info("Starting interview session",
		logger.String("persona", p.BasicInfo.FullName),
		logger.String("voice", p.SuggestedVoiceName))

	res := &resources{}
	mic, err := c.opts.Microphone.Open(ctx)
	if err != nil {
		return c.abort(s, res, "permission_denied", fmt.Errorf("%w: %w", ErrPermissionDenied, err))
	}
	res.mic = mic

	res.capture, err = capture.NewContext(mic, capture.Options{
		SampleRate: c.opts.CaptureSampleRate,
		BlockSize:  c.opts.BlockSize,
		OnEnd:      func(err error) { s.post(captureEndedMsg{err: err}) },
		Logger:     s.log,
	})
	if err != nil {
		return c.abort(s, res, "audio", fmt.Errorf("failed to open capture context: %w", err))
	}

	sink, err := c.opts.Speaker.Open(ctx, c.opts.PlaybackSampleRate)
	if err != nil {
		return c.abort(s, res, "audio", fmt.Errorf("failed to open speaker: %w", err))
	}
	res.output = playback.NewContext(sink, playback.ContextOptions{
		SampleRate: c.opts.PlaybackSampleRate,
		Interval:   c.opts.RenderInterval,
		Monitor:    c.opts.Monitor,
		Logger:     s.log,
	})
	res.scheduler = playback.NewScheduler(res.output)
	res.output.Start()

	instruction, err := c.opts.Instructions.SystemInstruction(p)
	if err != nil {
		return c.abort(s, res, "instruction", err)
	}

	s.res = res
	c.setState(s.id, StateConnecting, StatusConnecting)
	go s.run(ctx)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.opts.Dialer.Connect(dialCtx, live.SessionConfig{
		Model:               c.opts.Model,
		SystemInstruction:   instruction,
		Voice:               p.SuggestedVoiceName,
		ResponseModalities:  []string{live.ModalityAudio},
		InputTranscription:  true,
		OutputTranscription: true,
	}, s.handler())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		s.stop(stopRequest{kind: endFailed, cause: err}, c.opts.StopTimeout)
		return err
	}
	if !s.adopt(conn) {
		// torn down while dialing
		conn.Close()
		return s.startError()
	}
	s.post(connectedMsg{})

	select {
	case err := <-s.started:
		return err
	case <-dialCtx.Done():
	}

	select {
	case err := <-s.started:
		return err
	default:
	}
	err = fmt.Errorf("%w: session did not open: %w", ErrConnectionFailed, dialCtx.Err())
	s.stop(stopRequest{kind: endFailed, cause: err}, c.opts.StopTimeout)
	return err
}

// abort fails a start that never reached the event loop
func (c *Controller) abort(s *session, res *resources, reason string, cause error) error {
	c.setState(s.id, StateError, failedStatus(cause))
	s.log.Error("Failed to start interview session", logger.Error(cause))
	if err := res.release(); err != nil {
		s.log.Warn("Release after failed start was incomplete", logger.Error(err))
	}
	c.opts.Metrics.RecordSessionFailed(reason)
	close(s.done)

	c.mu.Lock()
	c.lastErr = cause
	c.mu.Unlock()
	c.setState(s.id, StateIdle, failedStatus(cause))
	return cause
}

// Stop tears the current session down. It is valid in every state, is a
// no-op when nothing is running and waits at most StopTimeout.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.stop(stopRequest{kind: endStop}, c.opts.StopTimeout)
}

// End stops the session, finalizes any pending partial text and returns
// the complete transcript. The loop flushes as part of its teardown; if
// the stop wait runs out, End waits up to StopTimeout more for it.
func (c *Controller) End() ([]transcription.Entry, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return c.Transcript(), nil
	}

	err := s.stop(stopRequest{kind: endStop, flush: true}, c.opts.StopTimeout)

	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		// the loop may have exited before the request reached it
		s.flush()
	case <-timer.C:
		s.log.Warn("Session loop still running; pending text is flushed when it exits")
	}

	return c.Transcript(), err
}

// State returns the lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the user-facing status string
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Transcript returns a copy of the finalized entries of the latest session
func (c *Controller) Transcript() []transcription.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Entries()
}

// Err returns the error that ended or aborted the latest session, if any
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Snapshot returns the observable controller state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		SessionID:    c.sessionID,
		State:        c.state,
		Status:       c.status,
		Live:         c.live,
		Transcript:   c.transcript.Entries(),
		ActiveVoices: c.activeVoices,
		NextStart:    c.nextStart,
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	return snap
}

func (c *Controller) setState(id string, state State, status string) {
	c.mu.Lock()
	c.state = state
	c.status = status
	c.mu.Unlock()

	c.logger.Debug("Session state changed",
		logger.String("session_id", id),
		logger.String("state", state.String()),
		logger.String("status", status))
	c.notify(func(o Observer) { o.OnStatus(id, state, status) })
}

func (c *Controller) setLive(id string, text transcription.LiveText) {
	c.mu.Lock()
	c.live = text
	c.mu.Unlock()
	c.notify(func(o Observer) { o.OnLive(id, text) })
}

func (c *Controller) appendEntries(id string, entries []transcription.Entry) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	c.transcript.Append(entries...)
	c.mu.Unlock()

	for _, e := range entries {
		c.opts.Metrics.RecordEntry(string(e.Speaker))
	}
	c.notify(func(o Observer) { o.OnEntries(id, entries) })
}

func (c *Controller) setPlayback(active int, nextStart float64) {
	c.mu.Lock()
	c.activeVoices = active
	c.nextStart = nextStart
	c.mu.Unlock()
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Controller) notify(fn func(Observer)) {
	if c.opts.Observer == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	fn(c.opts.Observer)
}
