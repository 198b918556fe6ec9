package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yegors/interview-coach/internal/audio"
	"github.com/yegors/interview-coach/internal/capture"
	"github.com/yegors/interview-coach/internal/live"
	"github.com/yegors/interview-coach/internal/playback"
	"github.com/yegors/interview-coach/internal/transcription"
	"github.com/yegors/interview-coach/pkg/logger"
)

const inboxSize = 256

var errClosedBeforeOpen = errors.New("connection closed before the session opened")

// Messages posted to the event loop
type (
	connectedMsg    struct{}
	openedMsg       struct{}
	serverMsg       struct{ msg *live.ServerMessage }
	remoteErrorMsg  struct{ err error }
	remoteClosedMsg struct{}
	blockMsg        struct{ block []float32 }
	voiceEndedMsg   struct{ voice playback.Voice }
	captureEndedMsg struct{ err error }
)

type endKind int

const (
	endStop endKind = iota
	endHost
	endRemoteError
	endRemoteClose
	endFailed
)

func (k endKind) String() string {
	switch k {
	case endStop:
		return "stop"
	case endHost:
		return "host"
	case endRemoteError:
		return "remote_error"
	case endRemoteClose:
		return "remote_close"
	default:
		return "failed"
	}
}

type stopRequest struct {
	kind  endKind
	cause error
	// flush finalizes pending partial text before the session goes idle
	flush bool
	ack   chan error
}

// session is the event loop and resource owner of one interview
type session struct {
	id  string
	c   *Controller
	res *resources
	acc *transcription.Accumulator
	log *logger.Logger

	inbox   chan any
	stopCh  chan stopRequest
	done    chan struct{}
	started chan error

	connMu   sync.Mutex
	pending  Conn
	finished bool

	reported  bool
	opened    bool
	active    bool
	createdAt time.Time
	activeAt  time.Time
}

func newSession(c *Controller, id string) *session {
	return &session{
		id:        id,
		c:         c,
		acc:       transcription.NewAccumulator(),
		log:       c.logger.WithSessionID(id),
		inbox:     make(chan any, inboxSize),
		stopCh:    make(chan stopRequest, 1),
		done:      make(chan struct{}),
		started:   make(chan error, 1),
		createdAt: time.Now(),
	}
}

// handler turns live callbacks into loop messages
func (s *session) handler() live.Handler {
	return live.Handler{
		OnOpen:    func() { s.post(openedMsg{}) },
		OnMessage: func(m *live.ServerMessage) { s.post(serverMsg{msg: m}) },
		OnError:   func(err error) { s.post(remoteErrorMsg{err: err}) },
		OnClose:   func() { s.post(remoteClosedMsg{}) },
	}
}

// post delivers m to the loop. It returns false once the loop has exited.
func (s *session) post(m any) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		return false
	}
}

// stop asks the loop to tear down and waits for it, bounded by timeout
func (s *session) stop(req stopRequest, timeout time.Duration) error {
	req.ack = make(chan error, 1)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.stopCh <- req:
	case <-s.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out requesting stop of session %s", s.id)
	}

	select {
	case err := <-req.ack:
		return err
	case <-s.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out waiting for session %s to stop", s.id)
	}
}

// adopt hands the dialed connection to the loop. It returns false if the
// session already ended, in which case the caller still owns conn.
func (s *session) adopt(conn Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.finished {
		return false
	}
	s.pending = conn
	return true
}

func (s *session) claimConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.res.conn = s.pending
}

// report resolves the pending Start exactly once
func (s *session) report(err error) {
	if s.reported {
		return
	}
	s.reported = true
	s.started <- err
}

func (s *session) startError() error {
	select {
	case err := <-s.started:
		if err != nil {
			return err
		}
	default:
	}
	return fmt.Errorf("%w: session ended while connecting", ErrConnectionFailed)
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.teardown(endHost, ctx.Err(), false)
			return
		case req := <-s.stopCh:
			req.ack <- s.teardown(req.kind, req.cause, req.flush)
			return
		case m := <-s.inbox:
			if s.handle(m) {
				return
			}
		}
	}
}

// handle dispatches one message and reports whether the session ended
func (s *session) handle(m any) bool {
	switch m := m.(type) {
	case connectedMsg:
		s.claimConn()
		if s.opened {
			return s.activate()
		}
	case openedMsg:
		s.opened = true
		if s.res.conn != nil {
			return s.activate()
		}
	case serverMsg:
		if s.opened {
			s.dispatch(m.msg)
		}
	case blockMsg:
		s.send(m.block)
	case voiceEndedMsg:
		s.res.scheduler.Ended(m.voice)
		s.c.setPlayback(s.res.scheduler.Active(), s.res.scheduler.NextStart())
	case captureEndedMsg:
		s.log.Info("Microphone input ended", logger.Error(m.err))
	case remoteErrorMsg:
		s.log.Error("Live session reported an error", logger.Error(m.err))
		s.teardown(endRemoteError, m.err, false)
		return true
	case remoteClosedMsg:
		s.teardown(endRemoteClose, nil, false)
		return true
	}
	return false
}

func (s *session) activate() bool {
	err := s.res.capture.Start(func(block []float32) {
		s.post(blockMsg{block: block})
	})
	if err != nil {
		s.teardown(endFailed, fmt.Errorf("%w: failed to start capture: %w", ErrConnectionFailed, err), false)
		return true
	}

	s.active = true
	s.activeAt = time.Now()
	s.c.setState(s.id, StateActive, StatusConnected)
	s.c.opts.Metrics.RecordSessionStart(s.activeAt.Sub(s.createdAt))
	s.log.Info("Interview session active", logger.Duration("connect_latency", s.activeAt.Sub(s.createdAt)))
	s.report(nil)
	return false
}

func (s *session) send(block []float32) {
	if !s.active {
		return
	}
	frame := capture.NewFrame(block)
	err := s.res.conn.SendRealtimeInput(live.Blob{MIMEType: frame.MIMEType, Data: frame.Data})
	switch {
	case err == nil:
		s.c.opts.Metrics.RecordFrame(false)
	case errors.Is(err, live.ErrSendQueueFull):
		s.c.opts.Metrics.RecordFrame(true)
	case errors.Is(err, live.ErrSessionClosed):
	default:
		s.log.Warn("Failed to send audio frame", logger.Error(err))
	}
}

func (s *session) dispatch(msg *live.ServerMessage) {
	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if t := sc.InputTranscription; t != nil {
		s.acc.AppendInput(t.Text)
		s.c.setLive(s.id, s.acc.Live())
	}
	if t := sc.OutputTranscription; t != nil {
		s.acc.AppendOutput(t.Text)
		s.c.setLive(s.id, s.acc.Live())
	}
	if sc.TurnComplete {
		s.c.appendEntries(s.id, s.acc.CompleteTurn())
		s.c.setLive(s.id, transcription.LiveText{})
	}

	for _, chunk := range sc.AudioChunks() {
		s.play(chunk)
	}

	if sc.Interrupted {
		n := s.res.scheduler.Interrupt()
		s.c.opts.Metrics.RecordBargeIn()
		s.log.Debug("Playback interrupted", logger.Int("halted", n))
	}

	s.c.setPlayback(s.res.scheduler.Active(), s.res.scheduler.NextStart())
}

func (s *session) play(chunk string) {
	raw, err := audio.DecodeFrame(chunk)
	var buf *audio.Buffer
	if err == nil {
		buf, err = audio.ToPlaybackBuffer(raw, s.c.opts.PlaybackSampleRate, 1)
	}
	if err != nil {
		s.c.opts.Metrics.RecordChunk(true)
		s.log.Warn("Dropping malformed audio chunk", logger.Error(err), logger.Int("size", len(chunk)))
		return
	}

	if _, err := s.res.scheduler.Schedule(buf, func(v playback.Voice) {
		s.post(voiceEndedMsg{voice: v})
	}); err != nil {
		s.log.Warn("Failed to schedule audio chunk", logger.Error(err))
		return
	}
	s.c.opts.Metrics.RecordChunk(false)
}

// teardown releases every resource and returns the controller to idle
func (s *session) teardown(kind endKind, cause error, flush bool) error {
	c := s.c
	wasActive := s.active
	s.active = false

	final := StatusEnded
	var startErr, lastErr error
	switch kind {
	case endStop, endHost:
		c.setState(s.id, StateEnding, StatusEnding)
		startErr = fmt.Errorf("%w: session stopped while connecting", ErrConnectionFailed)
		if cause != nil {
			startErr = fmt.Errorf("%w: %w", ErrConnectionFailed, cause)
		}
	case endRemoteError:
		final = errorStatus(cause)
		c.setState(s.id, StateError, final)
		lastErr = fmt.Errorf("%w: %w", ErrRemote, cause)
		startErr = fmt.Errorf("%w: %w", ErrConnectionFailed, cause)
	case endRemoteClose:
		final = StatusClosed
		startErr = fmt.Errorf("%w: %w", ErrConnectionFailed, errClosedBeforeOpen)
		if !wasActive {
			final = failedStatus(errClosedBeforeOpen)
			lastErr = startErr
		}
		c.setState(s.id, StateEnding, final)
	case endFailed:
		final = failedStatus(cause)
		c.setState(s.id, StateError, final)
		lastErr = cause
		startErr = cause
	}

	s.connMu.Lock()
	s.finished = true
	s.res.conn = s.pending
	s.connMu.Unlock()

	err := s.res.release()
	if err != nil {
		s.log.Warn("Teardown was incomplete", logger.Error(err))
	}
	s.c.setPlayback(0, 0)
	if flush {
		s.flush()
	}

	if wasActive {
		c.opts.Metrics.RecordSessionEnd(kind.String(), time.Since(s.activeAt))
	} else {
		c.opts.Metrics.RecordSessionFailed(kind.String())
	}
	if lastErr != nil {
		c.setErr(lastErr)
	}

	s.log.Info("Interview session torn down",
		logger.String("reason", kind.String()),
		logger.Bool("was_active", wasActive))
	c.setState(s.id, StateIdle, final)
	s.report(startErr)
	return err
}

// flush finalizes pending partials, input before output. Only the loop, or
// End once the loop has exited, may call it.
func (s *session) flush() {
	if entries := s.acc.Flush(); len(entries) > 0 {
		s.c.appendEntries(s.id, entries)
	}
	s.c.setLive(s.id, transcription.LiveText{})
}
