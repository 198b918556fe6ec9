package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/pkg/logger"
)

// DefaultEndpoint is the Gemini bidirectional streaming endpoint
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

var (
	// ErrSessionClosed is returned when sending on a closed session
	ErrSessionClosed = errors.New("live session closed")
	// ErrSendQueueFull is returned when an outbound frame is dropped
	ErrSendQueueFull = errors.New("live send queue full")
)

// Config holds connection settings for the live service
type Config struct {
	APIKey           string
	Endpoint         string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendQueue        int
}

// Handler receives session callbacks. They run on the session's read
// goroutine and must not block for long. Nil callbacks are skipped.
type Handler struct {
	OnOpen    func()
	OnMessage func(*ServerMessage)
	OnError   func(error)
	OnClose   func()
}

// Client opens live sessions
type Client struct {
	config Config
	dialer *websocket.Dialer
	logger *logger.Logger
}

// NewClient creates a live client
func NewClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}

	log = log.Named("live-client")
	if cfg.APIKey == "" {
		log.Warn("No API key configured, live sessions will fail to connect")
	}

	return &Client{
		config: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   32 * 1024,
			WriteBufferSize:  32 * 1024,
		},
		logger: log,
	}
}

// Connect dials the live service and sends the session setup. OnOpen fires
// once the service acknowledges the setup.
func (c *Client) Connect(ctx context.Context, sc SessionConfig, h Handler) (*Session, error) {
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("%w: live service API key", config.ErrCredentialMissing)
	}

	u, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return nil, &DialError{Err: fmt.Errorf("invalid endpoint: %w", err)}
	}
	q := u.Query()
	q.Set("key", c.config.APIKey)
	u.RawQuery = q.Encode()

	id := uuid.NewString()
	log := c.logger.WithSessionID(id)
	log.Info("Connecting to live service",
		logger.String("endpoint", c.config.Endpoint),
		logger.String("model", sc.Model),
		logger.String("voice", sc.Voice))

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		dialErr := &DialError{Err: err}
		if resp != nil {
			dialErr.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		log.Error("Live handshake failed", logger.Error(err), logger.Int("status", dialErr.StatusCode))
		return nil, dialErr
	}

	setup, err := json.Marshal(clientMessage{Setup: newSetupMessage(sc)})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to encode setup: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		conn.Close()
		return nil, &DialError{Err: fmt.Errorf("failed to send setup: %w", err)}
	}

	s := &Session{
		id:           id,
		conn:         conn,
		handler:      h,
		send:         make(chan []byte, c.config.SendQueue),
		done:         make(chan struct{}),
		writeTimeout: c.config.WriteTimeout,
		logger:       log,
	}
	go s.readLoop()
	go s.writeLoop()

	return s, nil
}

// Session is one open live conversation
type Session struct {
	id           string
	conn         *websocket.Conn
	handler      Handler
	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration
	logger       *logger.Logger

	opened     atomic.Bool
	dropped    atomic.Int64
	closeOnce  sync.Once
	finishOnce sync.Once
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// Dropped returns how many outbound frames were discarded
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

// Done is closed once the session is closed locally or remotely
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendRealtimeInput queues one audio blob. It never blocks; when the queue
// is full the frame is dropped and ErrSendQueueFull returned.
func (s *Session) SendRealtimeInput(b Blob) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	data, err := json.Marshal(clientMessage{RealtimeInput: &realtimeInputMessage{Audio: &b}})
	if err != nil {
		return fmt.Errorf("failed to encode realtime input: %w", err)
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("Send queue full, dropping audio frame", logger.Int64("dropped", n))
		}
		return ErrSendQueueFull
	}
}

// Close ends the session with a normal closure. Safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			s.logger.Debug("Failed to send close frame", logger.Error(werr))
		}
		err = s.conn.Close()
		s.logger.Info("Live session closed")
	})
	return err
}

func (s *Session) readLoop() {
	defer s.finish()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Ignoring undecodable server message", logger.Error(err), logger.Int("size", len(data)))
			continue
		}

		if msg.SetupComplete != nil && s.opened.CompareAndSwap(false, true) {
			s.logger.Info("Live session opened")
			if s.handler.OnOpen != nil {
				s.handler.OnOpen()
			}
		}
		if msg.GoAway != nil {
			s.logger.Warn("Live service will disconnect", logger.String("time_left", msg.GoAway.TimeLeft))
		}
		if s.handler.OnMessage != nil {
			s.handler.OnMessage(&msg)
		}
	}
}

func (s *Session) handleReadError(err error) {
	select {
	case <-s.done:
		// closed locally
		return
	default:
	}

	var remote *RemoteError
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		if closeErr.Code == websocket.CloseNormalClosure {
			s.logger.Info("Live service closed the session")
			return
		}
		remote = &RemoteError{Code: closeErr.Code, Reason: closeErr.Text}
	default:
		remote = &RemoteError{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	}

	s.logger.Error("Live session failed", logger.Int("code", remote.Code), logger.String("reason", remote.Reason))
	if s.handler.OnError != nil {
		s.handler.OnError(remote)
	}
}

// finish releases the connection after the read loop exits and fires
// OnClose exactly once
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.closeOnce.Do(func() {
			close(s.done)
			s.conn.Close()
		})
		if s.handler.OnClose != nil {
			s.handler.OnClose()
		}
	})
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				select {
				case <-s.done:
				default:
					s.logger.Error("Failed to write realtime input", logger.Error(err))
				}
				return
			}
		}
	}
}
