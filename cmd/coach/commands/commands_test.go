package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/yegors/interview-coach/internal/session"
	"github.com/yegors/interview-coach/internal/transcription"
)

func TestParseTranscript(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"array", `[{"speaker":"Recruiter","text":"Hi"},{"speaker":"Candidate","text":"Hello"}]`, 2, false},
		{"object", `{"session_id":"s1","transcript":[{"speaker":"Recruiter","text":"Hi"}]}`, 1, false},
		{"empty array", `[]`, 0, false},
		{"unknown speaker", `[{"speaker":"Host","text":"Hi"}]`, 0, true},
		{"not json", `Recruiter: Hi`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := parseTranscript([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(entries) != tt.want {
				t.Errorf("entries = %d, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestSaveTranscriptRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.json")
	in := []transcription.Entry{{Speaker: transcription.Candidate, Text: "I enjoy distributed systems."}}
	if err := saveTranscript(path, "s1", in); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out, err := parseTranscript(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != in[0] {
		t.Errorf("entries = %+v", out)
	}
}

func TestConsoleObserver(t *testing.T) {
	var out, errOut bytes.Buffer
	o := newConsoleObserver(&out, &errOut)

	o.OnStatus("s", session.StateConnecting, session.StatusConnecting)
	o.OnStatus("s", session.StateIdle, "Failed to start: boom")
	select {
	case <-o.ended:
		t.Fatal("ended before the session was active")
	default:
	}

	o.OnStatus("s", session.StateActive, session.StatusConnected)
	o.OnEntries("s", []transcription.Entry{{Speaker: transcription.Recruiter, Text: "Welcome"}})
	o.OnStatus("s", session.StateIdle, session.StatusClosed)
	o.OnStatus("s", session.StateIdle, session.StatusClosed)

	select {
	case <-o.ended:
	default:
		t.Fatal("ended not closed after the active session went idle")
	}
	if out.String() != "Recruiter: Welcome\n" {
		t.Errorf("out = %q", out.String())
	}
	if !bytes.Contains(errOut.Bytes(), []byte("[Session Closed]")) {
		t.Errorf("errOut = %q", errOut.String())
	}
}
