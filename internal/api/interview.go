package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/yegors/interview-coach/internal/audio"
	"github.com/yegors/interview-coach/internal/capture"
	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/playback"
	"github.com/yegors/interview-coach/internal/session"
	"github.com/yegors/interview-coach/internal/transcription"
	"github.com/yegors/interview-coach/pkg/logger"
)

// Browser protocol message types
const (
	msgStart      = "start"
	msgEnd        = "end"
	msgStatus     = "status"
	msgLive       = "live"
	msgEntry      = "entry"
	msgTranscript = "transcript"
	msgError      = "error"

	micDenied = "denied"
)

const (
	maxClientMessage = 1 << 20
	micQueueFrames   = 64
	wsWriteTimeout   = 5 * time.Second
)

var errMicrophoneDenied = errors.New("the browser did not grant microphone access")

// SessionPublisher receives transcript events from browser interviews
type SessionPublisher interface {
	Observer() session.Observer
	PublishSessionEnded(ctx context.Context, sessionID string, transcript []transcription.Entry) error
}

// InterviewOptions configures the browser interview bridge
type InterviewOptions struct {
	Model          string
	Dialer         session.Dialer
	Instructions   session.InstructionBuilder
	Events         SessionPublisher
	Metrics        *metrics.Metrics
	Audio          config.AudioConfig
	ConnectTimeout time.Duration
	// StartTimeout bounds the wait for the client's start message
	StartTimeout   time.Duration
	AllowedOrigins []string
	Logger         *logger.Logger
}

// Interviews bridges browser websockets to live sessions. Only one
// interview runs at a time.
type Interviews struct {
	opts     InterviewOptions
	monitor  *audio.MultiReader
	upgrader websocket.Upgrader
	busy     atomic.Bool
	logger   *logger.Logger

	mu   sync.Mutex
	last *session.Controller
}

// NewInterviews creates the bridge. The rendered playback of every
// interview is also written to a monitor that /interview/audio streams.
func NewInterviews(opts InterviewOptions) *Interviews {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	iv := &Interviews{
		opts:    opts,
		monitor: audio.NewMultiReader(opts.Audio.MonitorBufferKB*1024, opts.Logger),
		logger:  opts.Logger.Named("interviews"),
	}
	iv.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     iv.checkOrigin,
	}
	return iv
}

func (iv *Interviews) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(iv.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range iv.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (iv *Interviews) playbackRate() int {
	if iv.opts.Audio.PlaybackSampleRate > 0 {
		return iv.opts.Audio.PlaybackSampleRate
	}
	return playback.SampleRate
}

func (iv *Interviews) captureRate() int {
	if iv.opts.Audio.CaptureSampleRate > 0 {
		return iv.opts.Audio.CaptureSampleRate
	}
	return capture.SampleRate
}

// Busy reports whether an interview is in progress
func (iv *Interviews) Busy() bool {
	return iv.busy.Load()
}

// Snapshot returns the state of the latest interview
func (iv *Interviews) Snapshot() session.Snapshot {
	iv.mu.Lock()
	ctrl := iv.last
	iv.mu.Unlock()
	if ctrl == nil {
		return session.Snapshot{State: session.StateIdle, Status: session.StatusNotStarted, Transcript: []transcription.Entry{}}
	}
	return ctrl.Snapshot()
}

// Close stops the monitor stream
func (iv *Interviews) Close() error {
	return iv.monitor.Close()
}

type clientMessage struct {
	Type       string           `json:"type"`
	Persona    *persona.Persona `json:"persona,omitempty"`
	Microphone string           `json:"microphone,omitempty"`
}

type serverEvent struct {
	Type       string                  `json:"type"`
	SessionID  string                  `json:"session_id,omitempty"`
	State      string                  `json:"state,omitempty"`
	Status     string                  `json:"status,omitempty"`
	Live       *transcription.LiveText `json:"live,omitempty"`
	Entry      *transcription.Entry    `json:"entry,omitempty"`
	Transcript []transcription.Entry   `json:"transcript,omitempty"`
	Message    string                  `json:"message,omitempty"`
}

// ServeWS handles GET /interview/ws
func (iv *Interviews) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !iv.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, session.ErrSessionActive.Error())
		return
	}
	defer iv.busy.Store(false)

	log := iv.logger.WithRequestID(middleware.GetReqID(r.Context()))

	conn, err := iv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxClientMessage)
	peer := &wsPeer{conn: conn}

	start, err := readStart(conn, iv.opts.StartTimeout)
	if err != nil {
		log.Warn("Invalid start message", logger.Error(err))
		peer.send(serverEvent{Type: msgError, Message: err.Error()})
		peer.close(websocket.CloseUnsupportedData, "invalid start message")
		return
	}

	mic := newBrowserMic(start.Microphone != micDenied, iv.captureRate())
	observers := session.Observers{peerObserver{peer: peer}}
	if iv.opts.Events != nil {
		observers = append(observers, iv.opts.Events.Observer())
	}

	ctrl, err := session.NewController(session.Options{
		Model:              iv.opts.Model,
		Microphone:         mic,
		Speaker:            peerSpeaker{peer: peer},
		Dialer:             iv.opts.Dialer,
		Instructions:       iv.opts.Instructions,
		Observer:           observers,
		Metrics:            iv.opts.Metrics,
		Monitor:            iv.monitor,
		CaptureSampleRate:  iv.opts.Audio.CaptureSampleRate,
		PlaybackSampleRate: iv.opts.Audio.PlaybackSampleRate,
		BlockSize:          iv.opts.Audio.BlockSize,
		RenderInterval:     iv.opts.Audio.RenderInterval(),
		ConnectTimeout:     iv.opts.ConnectTimeout,
		StopTimeout:        iv.opts.Audio.StopTimeout(),
		Logger:             log,
	})
	if err != nil {
		log.Error("Failed to create session controller", logger.Error(err))
		peer.send(serverEvent{Type: msgError, Message: "internal error"})
		peer.close(websocket.CloseInternalServerErr, "internal error")
		return
	}
	iv.mu.Lock()
	iv.last = ctrl
	iv.mu.Unlock()

	// The request context is detached once hijacked; the socket's read
	// loop decides when the host goes away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endCh := make(chan struct{}, 1)
	readDone := make(chan struct{})
	go iv.readLoop(conn, mic, endCh, readDone, log)

	startErr := make(chan error, 1)
	go func() { startErr <- ctrl.Start(ctx, start.Persona) }()

	finished := false
	select {
	case err := <-startErr:
		if err != nil {
			peer.send(serverEvent{Type: msgError, Message: err.Error()})
			peer.close(websocket.CloseNormalClosure, "session failed to start")
			return
		}
	case <-endCh:
		_ = ctrl.Stop()
		<-startErr
		finished = true
	case <-readDone:
		cancel()
		<-startErr
		finished = true
	}

	if !finished {
		select {
		case <-endCh:
		case <-readDone:
			log.Info("Browser disconnected, tearing session down")
			cancel()
		}
	}

	iv.finish(ctrl, peer, log)
}

func (iv *Interviews) finish(ctrl *session.Controller, peer *wsPeer, log *logger.Logger) {
	transcript, err := ctrl.End()
	if err != nil {
		log.Warn("Session release was incomplete", logger.Error(err))
	}
	snap := ctrl.Snapshot()

	peer.send(serverEvent{Type: msgTranscript, SessionID: snap.SessionID, Transcript: transcript})
	peer.close(websocket.CloseNormalClosure, "interview ended")

	if iv.opts.Events != nil && snap.SessionID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := iv.opts.Events.PublishSessionEnded(ctx, snap.SessionID, transcript); err != nil {
			log.Warn("Failed to publish session end", logger.Error(err))
		}
	}
	log.Info("Interview finished",
		logger.String("session_id", snap.SessionID),
		logger.Int("entries", len(transcript)))
}

func readStart(conn *websocket.Conn, timeout time.Duration) (*clientMessage, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read start message: %w", err)
	}
	if mt != websocket.TextMessage {
		return nil, errors.New("first message must be a start message")
	}

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid start message: %w", err)
	}
	if msg.Type != msgStart {
		return nil, fmt.Errorf("first message must be %q, got %q", msgStart, msg.Type)
	}
	if err := msg.Persona.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (iv *Interviews) readLoop(conn *websocket.Conn, mic *browserMic, endCh chan<- struct{}, done chan<- struct{}, log *logger.Logger) {
	defer close(done)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Websocket read ended", logger.Error(err))
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			mic.push(data)
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("Ignoring malformed client message", logger.Error(err))
				continue
			}
			if msg.Type == msgEnd {
				select {
				case endCh <- struct{}{}:
				default:
				}
				continue
			}
			log.Debug("Ignoring client message", logger.String("type", msg.Type))
		}
	}
}

// wsPeer serializes writes to the browser socket
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) send(ev serverEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteJSON(ev)
}

func (p *wsPeer) sendBinary(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (p *wsPeer) close(code int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

type peerObserver struct {
	peer *wsPeer
}

func (o peerObserver) OnStatus(id string, state session.State, status string) {
	_ = o.peer.send(serverEvent{Type: msgStatus, SessionID: id, State: state.String(), Status: status})
}

func (o peerObserver) OnLive(id string, text transcription.LiveText) {
	_ = o.peer.send(serverEvent{Type: msgLive, SessionID: id, Live: &text})
}

func (o peerObserver) OnEntries(id string, entries []transcription.Entry) {
	for i := range entries {
		_ = o.peer.send(serverEvent{Type: msgEntry, SessionID: id, Entry: &entries[i]})
	}
}

// peerSpeaker sends rendered playback PCM to the browser as binary frames
type peerSpeaker struct {
	peer *wsPeer
}

func (s peerSpeaker) Open(context.Context, int) (io.WriteCloser, error) {
	return peerSink{peer: s.peer}, nil
}

type peerSink struct {
	peer *wsPeer
}

func (s peerSink) Write(b []byte) (int, error) {
	if err := s.peer.sendBinary(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close leaves the socket open; the bridge closes it after the transcript
func (s peerSink) Close() error { return nil }

// browserMic turns binary client frames into a capture source. Frames that
// arrive while the queue is full are dropped.
type browserMic struct {
	granted bool
	rate    int
	frames  chan []byte
	pending []byte
	dropped atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

func newBrowserMic(granted bool, rate int) *browserMic {
	return &browserMic{
		granted: granted,
		rate:    rate,
		frames:  make(chan []byte, micQueueFrames),
		done:    make(chan struct{}),
	}
}

func (m *browserMic) Open(context.Context) (capture.Source, error) {
	if !m.granted {
		return nil, errMicrophoneDenied
	}
	return capture.NewPCMSource(m, m.rate), nil
}

func (m *browserMic) push(b []byte) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.frames <- b:
	default:
		m.dropped.Add(1)
	}
}

func (m *browserMic) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		select {
		case b := <-m.frames:
			m.pending = b
		case <-m.done:
			return 0, io.EOF
		}
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *browserMic) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
