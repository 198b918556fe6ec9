package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/interview-coach/internal/config"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// recorder collects handler callbacks
type recorder struct {
	mu       sync.Mutex
	opened   int
	messages []*ServerMessage
	errs     []error
	closed   int
	openCh   chan struct{}
	closeCh  chan struct{}
	msgCh    chan *ServerMessage
}

func newRecorder() *recorder {
	return &recorder{
		openCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}, 1),
		msgCh:   make(chan *ServerMessage, 16),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnOpen: func() {
			r.mu.Lock()
			r.opened++
			r.mu.Unlock()
			r.openCh <- struct{}{}
		},
		OnMessage: func(m *ServerMessage) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
			r.msgCh <- m
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnClose: func() {
			r.mu.Lock()
			r.closed++
			r.mu.Unlock()
			r.closeCh <- struct{}{}
		},
	}
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectSendsSetupAndStreams(t *testing.T) {
	setupCh := make(chan map[string]any, 1)
	audioCh := make(chan map[string]any, 1)
	keyCh := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyCh <- r.URL.Query().Get("key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		setupCh <- setup

		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		conn.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{"parts": []any{
					map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAA="}},
				}},
				"outputTranscription": map[string]any{"text": "Hello"},
			},
		})

		var input map[string]any
		if err := conn.ReadJSON(&input); err != nil {
			return
		}
		audioCh <- input

		// wait for the client close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	client := NewClient(Config{APIKey: "secret", Endpoint: wsURL(srv)}, nil)
	sess, err := client.Connect(context.Background(), SessionConfig{
		Model:               "gemini-live",
		SystemInstruction:   "Be Sam.",
		Voice:               "Kore",
		InputTranscription:  true,
		OutputTranscription: true,
	}, rec.handler())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess.ID() == "" {
		t.Error("session id should be set")
	}

	if got := <-keyCh; got != "secret" {
		t.Errorf("key query = %q", got)
	}

	setup := (<-setupCh)["setup"].(map[string]any)
	if setup["model"] != "models/gemini-live" {
		t.Errorf("setup model = %v", setup["model"])
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Error("input transcription not requested")
	}
	gen := setup["generationConfig"].(map[string]any)
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voice != "Kore" {
		t.Errorf("voice = %v", voice)
	}

	wait(t, rec.openCh, "open")

	var content *ServerMessage
	for content == nil || content.ServerContent == nil {
		select {
		case content = <-rec.msgCh:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for server content")
		}
	}
	if chunks := content.ServerContent.AudioChunks(); len(chunks) != 1 || chunks[0] != "AAA=" {
		t.Errorf("audio chunks = %v", chunks)
	}
	if content.ServerContent.OutputTranscription.Text != "Hello" {
		t.Errorf("output transcription = %+v", content.ServerContent.OutputTranscription)
	}

	if err := sess.SendRealtimeInput(Blob{MIMEType: "audio/pcm;rate=16000", Data: "AQI="}); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}
	select {
	case in := <-audioCh:
		audio := in["realtimeInput"].(map[string]any)["audio"].(map[string]any)
		if audio["mimeType"] != "audio/pcm;rate=16000" || audio["data"] != "AQI=" {
			t.Errorf("realtime input = %v", audio)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio")
	}

	sess.Close()
	sess.Close()
	wait(t, rec.closeCh, "close")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.opened != 1 || rec.closed != 1 {
		t.Errorf("opened=%d closed=%d, want 1 and 1", rec.opened, rec.closed)
	}
	if len(rec.errs) != 0 {
		t.Errorf("local close reported errors: %v", rec.errs)
	}
	if err := sess.SendRealtimeInput(Blob{Data: "AA=="}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("send after close = %v", err)
	}
}

func TestRemoteAbnormalCloseReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var setup json.RawMessage
		conn.ReadJSON(&setup)
		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "quota exceeded")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	client := NewClient(Config{APIKey: "k", Endpoint: wsURL(srv)}, nil)
	if _, err := client.Connect(context.Background(), SessionConfig{Model: "m"}, rec.handler()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	wait(t, rec.closeCh, "close")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 1 {
		t.Fatalf("errors = %v, want exactly one", rec.errs)
	}
	var remote *RemoteError
	if !errors.As(rec.errs[0], &remote) {
		t.Fatalf("error %T is not a RemoteError", rec.errs[0])
	}
	if remote.Code != websocket.CloseInternalServerErr || remote.Reason != "quota exceeded" {
		t.Errorf("remote error = %+v", remote)
	}
	if rec.closed != 1 {
		t.Errorf("closed = %d", rec.closed)
	}
}

func TestConnectHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: wsURL(srv)}, nil)
	_, err := client.Connect(context.Background(), SessionConfig{Model: "m"}, Handler{})
	var dialErr *DialError
	if !errors.As(err, &dialErr) {
		t.Fatalf("err = %v, want DialError", err)
	}
	if dialErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", dialErr.StatusCode)
	}
}

func TestConnectWithoutKey(t *testing.T) {
	client := NewClient(Config{}, nil)
	_, err := client.Connect(context.Background(), SessionConfig{Model: "m"}, Handler{})
	if !errors.Is(err, config.ErrCredentialMissing) {
		t.Fatalf("err = %v, want ErrCredentialMissing", err)
	}
}

func TestSetupMessageDefaults(t *testing.T) {
	setup := newSetupMessage(SessionConfig{Model: "models/already"})
	if setup.Model != "models/already" {
		t.Errorf("model = %q", setup.Model)
	}
	if len(setup.GenerationConfig.ResponseModalities) != 1 || setup.GenerationConfig.ResponseModalities[0] != ModalityAudio {
		t.Errorf("modalities = %v", setup.GenerationConfig.ResponseModalities)
	}
	if setup.GenerationConfig.SpeechConfig != nil || setup.SystemInstruction != nil || setup.InputAudioTranscription != nil {
		t.Error("optional fields should be omitted")
	}
}

func TestAudioChunksSkipsNonAudio(t *testing.T) {
	c := &ServerContent{ModelTurn: &Content{Parts: []Part{
		{Text: "thinking"},
		{InlineData: &Blob{MIMEType: "image/png", Data: "x"}},
		{InlineData: &Blob{MIMEType: "audio/pcm", Data: "a"}},
		{InlineData: &Blob{Data: "b"}},
	}}}
	got := c.AudioChunks()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("chunks = %v", got)
	}
	var nilContent *ServerContent
	if nilContent.AudioChunks() != nil {
		t.Error("nil content should have no chunks")
	}
}
