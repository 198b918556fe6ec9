package session

import (
	"context"
	"errors"
	"io"

	"github.com/yegors/interview-coach/internal/capture"
	"github.com/yegors/interview-coach/internal/live"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/transcription"
)

var (
	// ErrPermissionDenied is returned when the microphone cannot be opened
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrConnectionFailed is returned when the live session cannot be established
	ErrConnectionFailed = errors.New("connection failed")
	// ErrRemote is recorded when the live service fails mid-session
	ErrRemote = errors.New("remote error")
	// ErrSessionActive is returned when starting while a session is in progress
	ErrSessionActive = errors.New("a session is already in progress")
)

// State is the controller lifecycle state
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateConnecting
	StateActive
	StateEnding
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status strings shown to the user
const (
	StatusNotStarted   = "Not Started"
	StatusInitializing = "Initializing..."
	StatusConnecting   = "Connecting to Gemini..."
	StatusConnected    = "Connected. Start Speaking."
	StatusEnding       = "Ending session..."
	StatusEnded        = "Session Ended"
	StatusClosed       = "Session Closed"
)

func errorStatus(err error) string {
	return "Error: " + err.Error()
}

func failedStatus(err error) string {
	return "Failed to start: " + err.Error()
}

// Microphone opens the capture source for a session. Any error is treated
// as the user refusing microphone access.
type Microphone interface {
	Open(ctx context.Context) (capture.Source, error)
}

// Speaker opens the sink that receives rendered s16le mono PCM at
// sampleRate. The sink is closed on teardown.
type Speaker interface {
	Open(ctx context.Context, sampleRate int) (io.WriteCloser, error)
}

// Conn is an open live session
type Conn interface {
	ID() string
	SendRealtimeInput(live.Blob) error
	Close() error
}

// Dialer opens live sessions
type Dialer interface {
	Connect(ctx context.Context, cfg live.SessionConfig, h live.Handler) (Conn, error)
}

// InstructionBuilder renders the role-play instruction for a persona
type InstructionBuilder interface {
	SystemInstruction(p *persona.Persona) (string, error)
}

// LiveDialer adapts a live.Client to Dialer
type LiveDialer struct {
	Client *live.Client
}

// Connect implements Dialer
func (d LiveDialer) Connect(ctx context.Context, cfg live.SessionConfig, h live.Handler) (Conn, error) {
	s, err := d.Client.Connect(ctx, cfg, h)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Observer is notified of controller changes. Calls are serialized.
type Observer interface {
	OnStatus(sessionID string, state State, status string)
	OnLive(sessionID string, text transcription.LiveText)
	OnEntries(sessionID string, entries []transcription.Entry)
}

// Observers fans notifications out to several observers in order
type Observers []Observer

func (o Observers) OnStatus(id string, state State, status string) {
	for _, obs := range o {
		obs.OnStatus(id, state, status)
	}
}

func (o Observers) OnLive(id string, text transcription.LiveText) {
	for _, obs := range o {
		obs.OnLive(id, text)
	}
}

func (o Observers) OnEntries(id string, entries []transcription.Entry) {
	for _, obs := range o {
		obs.OnEntries(id, entries)
	}
}

// Snapshot is a point-in-time view of the controller
type Snapshot struct {
	SessionID    string                 `json:"session_id,omitempty"`
	State        State                  `json:"state"`
	Status       string                 `json:"status"`
	Live         transcription.LiveText `json:"live"`
	Transcript   []transcription.Entry  `json:"transcript"`
	ActiveVoices int                    `json:"active_voices"`
	NextStart    float64                `json:"next_start"`
	LastError    string                 `json:"last_error,omitempty"`
}
