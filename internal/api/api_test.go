package api

import (
	"bytes"
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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yegors/interview-coach/internal/coach"
	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/internal/live"
	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/session"
	"github.com/yegors/interview-coach/internal/transcription"
)

type fakeCoach struct {
	personaRes  *coach.PersonaResult
	feedbackRes *coach.FeedbackResult
	err         error
	entries     []transcription.Entry
}

func (c *fakeCoach) GeneratePersona(_ context.Context, req persona.Request) (*coach.PersonaResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return c.personaRes, c.err
}

func (c *fakeCoach) Feedback(_ context.Context, entries []transcription.Entry) (*coach.FeedbackResult, error) {
	c.entries = entries
	return c.feedbackRes, c.err
}

type fakeConn struct{}

func (fakeConn) ID() string { return "fake" }

func (fakeConn) SendRealtimeInput(live.Blob) error { return nil }

func (fakeConn) Close() error { return nil }

type fakeDialer struct {
	mu      sync.Mutex
	handler *live.Handler
}

func (d *fakeDialer) Connect(_ context.Context, _ live.SessionConfig, h live.Handler) (session.Conn, error) {
	d.mu.Lock()
	d.handler = &h
	d.mu.Unlock()
	go h.OnOpen()
	return fakeConn{}, nil
}

func (d *fakeDialer) h() live.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.handler
}

type fakeInstructions struct{}

func (fakeInstructions) SystemInstruction(p *persona.Persona) (string, error) {
	return "You are " + p.BasicInfo.FullName, nil
}

type nopObserver struct{}

func (nopObserver) OnStatus(string, session.State, string) {}

func (nopObserver) OnLive(string, transcription.LiveText) {}

func (nopObserver) OnEntries(string, []transcription.Entry) {}

type fakePublisher struct {
	mu    sync.Mutex
	ended map[string][]transcription.Entry
}

func (p *fakePublisher) Observer() session.Observer { return nopObserver{} }

func (p *fakePublisher) PublishSessionEnded(_ context.Context, id string, t []transcription.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended == nil {
		p.ended = map[string][]transcription.Entry{}
	}
	p.ended[id] = t
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ended)
}

type harness struct {
	srv       *httptest.Server
	coach     *fakeCoach
	dialer    *fakeDialer
	publisher *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	h := &harness{coach: &fakeCoach{}, dialer: &fakeDialer{}, publisher: &fakePublisher{}}
	interviews := NewInterviews(InterviewOptions{
		Model:          "test-model",
		Dialer:         h.dialer,
		Instructions:   fakeInstructions{},
		Events:         h.publisher,
		Metrics:        m,
		Audio:          cfg.Audio,
		ConnectTimeout: 2 * time.Second,
		StartTimeout:   2 * time.Second,
	})
	t.Cleanup(func() { interviews.Close() })

	h.srv = httptest.NewServer(NewRouter(h.coach, interviews, cfg, reg, nil).Routes())
	t.Cleanup(h.srv.Close)
	return h
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func testPersona() *persona.Persona {
	return &persona.Persona{
		BasicInfo:                         persona.BasicInfo{FullName: "Priya Nair", Gender: "female"},
		FirstPersonSummaryForSystemPrompt: "I'm Priya, a data engineer.",
		SuggestedVoiceName:                persona.VoiceFemale,
	}
}

func TestGeneratePersonaEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		res        *coach.PersonaResult
		err        error
		wantStatus int
	}{
		{
			name:       "success",
			body:       `{"job_description":"Data engineer","experience":"fresher","gender":"female"}`,
			res:        &coach.PersonaResult{Persona: testPersona(), Prompt: "prompt"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid json",
			body:       `{"job_description":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid request",
			body:       `{"job_description":"","experience":"fresher","gender":"female"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "generation failed",
			body:       `{"job_description":"Data engineer","experience":"experienced","gender":"male"}`,
			res:        &coach.PersonaResult{Prompt: "// The following prompt failed to generate a response.\n\nprompt"},
			err:        coach.ErrGeneration,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.coach.personaRes, h.coach.err = tt.res, tt.err

			resp, out := postJSON(t, h.srv.URL+"/api/v1/personas", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, out)
			}
			if tt.res != nil {
				if out["prompt"] != tt.res.Prompt {
					t.Errorf("prompt = %v", out["prompt"])
				}
			}
		})
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	h := newHarness(t)
	h.coach.feedbackRes = &coach.FeedbackResult{Feedback: "Good job", Prompt: "p"}

	resp, out := postJSON(t, h.srv.URL+"/api/v1/feedback",
		`{"transcript":[{"speaker":"Recruiter","text":"Hi"},{"speaker":"Candidate","text":"Hello"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out["feedback"] != "Good job" {
		t.Errorf("feedback = %v", out["feedback"])
	}
	if len(h.coach.entries) != 2 || h.coach.entries[1].Speaker != transcription.Candidate {
		t.Errorf("entries = %+v", h.coach.entries)
	}

	resp, _ = postJSON(t, h.srv.URL+"/api/v1/feedback", `{"transcript":[{"speaker":"Narrator","text":"x"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown speaker status = %d", resp.StatusCode)
	}

	h.coach.feedbackRes = &coach.FeedbackResult{Feedback: coach.FeedbackErrorText, Prompt: "p"}
	h.coach.err = coach.ErrGeneration
	resp, out = postJSON(t, h.srv.URL+"/api/v1/feedback", `{"transcript":[]}`)
	if resp.StatusCode != http.StatusBadGateway || out["feedback"] != coach.FeedbackErrorText {
		t.Errorf("failure status = %d body = %v", resp.StatusCode, out)
	}
}

func TestHealthStatusAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(h.srv.URL + "/api/v1/interview/status")
	if err != nil {
		t.Fatal(err)
	}
	var snap map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if snap["state"] != "idle" || snap["status"] != session.StatusNotStarted {
		t.Errorf("snapshot = %v", snap)
	}

	resp, err = http.Get(h.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)

	req, _ := http.NewRequest(http.MethodOptions, h.srv.URL+"/api/v1/personas", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
}

func wsURL(h *harness) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/v1/interview/ws"
}

// nextEvent returns the next text event, skipping playback audio frames
func nextEvent(t *testing.T, c *websocket.Conn) serverEvent {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		return ev
	}
}

func waitFor(t *testing.T, c *websocket.Conn, match func(serverEvent) bool) serverEvent {
	t.Helper()
	for {
		ev := nextEvent(t, c)
		if match(ev) {
			return ev
		}
	}
}

func dialInterview(t *testing.T, h *harness, microphone string, p *persona.Persona) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL(h), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.WriteJSON(clientMessage{Type: msgStart, Persona: p, Microphone: microphone}); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestInterviewWebsocket(t *testing.T) {
	h := newHarness(t)
	c := dialInterview(t, h, "granted", testPersona())

	waitFor(t, c, func(ev serverEvent) bool { return ev.Type == msgStatus && ev.State == "active" })

	// A second interview is refused while one is active
	resp, err := http.Get(h.srv.URL + "/api/v1/interview/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second interview status = %d, want 409", resp.StatusCode)
	}

	// Browser microphone PCM is accepted as binary frames
	if err := c.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{0, 1}, 512)); err != nil {
		t.Fatal(err)
	}

	handler := h.dialer.h()
	handler.OnMessage(&live.ServerMessage{ServerContent: &live.ServerContent{InputTranscription: &live.Transcription{Text: "Tell me about yourself"}}})
	handler.OnMessage(&live.ServerMessage{ServerContent: &live.ServerContent{OutputTranscription: &live.Transcription{Text: "I build pipelines."}}})
	handler.OnMessage(&live.ServerMessage{ServerContent: &live.ServerContent{TurnComplete: true}})

	first := waitFor(t, c, func(ev serverEvent) bool { return ev.Type == msgEntry })
	if first.Entry.Speaker != transcription.Recruiter || first.Entry.Text != "Tell me about yourself" {
		t.Errorf("first entry = %+v", first.Entry)
	}
	second := nextEventOfType(t, c, msgEntry)
	if second.Entry.Speaker != transcription.Candidate {
		t.Errorf("second entry = %+v", second.Entry)
	}

	// Pending text is flushed on end
	handler.OnMessage(&live.ServerMessage{ServerContent: &live.ServerContent{InputTranscription: &live.Transcription{Text: "Thanks"}}})
	waitFor(t, c, func(ev serverEvent) bool { return ev.Type == msgLive && ev.Live.Input == "Thanks" })

	if err := c.WriteJSON(clientMessage{Type: msgEnd}); err != nil {
		t.Fatal(err)
	}
	final := waitFor(t, c, func(ev serverEvent) bool { return ev.Type == msgTranscript })
	if len(final.Transcript) != 3 || final.Transcript[2].Text != "Thanks" {
		t.Fatalf("transcript = %+v", final.Transcript)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.publisher.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.publisher.count() != 1 {
		t.Error("session end was not published")
	}
}

func nextEventOfType(t *testing.T, c *websocket.Conn, typ string) serverEvent {
	t.Helper()
	return waitFor(t, c, func(ev serverEvent) bool { return ev.Type == typ })
}

func TestInterviewMicrophoneDenied(t *testing.T) {
	h := newHarness(t)
	c := dialInterview(t, h, micDenied, testPersona())

	ev := nextEventOfType(t, c, msgError)
	if !strings.Contains(ev.Message, session.ErrPermissionDenied.Error()) {
		t.Errorf("message = %q", ev.Message)
	}
}

func TestInterviewInvalidStart(t *testing.T) {
	h := newHarness(t)
	c := dialInterview(t, h, "granted", nil)

	ev := nextEventOfType(t, c, msgError)
	if !strings.Contains(ev.Message, persona.ErrInvalidPersona.Error()) {
		t.Errorf("message = %q", ev.Message)
	}
}

func TestBrowserMicDropsWhenFull(t *testing.T) {
	m := newBrowserMic(true, 16000)
	for i := 0; i < micQueueFrames+5; i++ {
		m.push([]byte{0, 0})
	}
	if got := m.dropped.Load(); got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}

	buf := make([]byte, 1)
	if n, err := m.Read(buf); n != 1 || err != nil {
		t.Errorf("read = %d, %v", n, err)
	}
	m.Close()
	m.push([]byte{1})

	if _, err := (&browserMic{}).Open(context.Background()); !errors.Is(err, errMicrophoneDenied) {
		t.Errorf("denied open err = %v", err)
	}
}
