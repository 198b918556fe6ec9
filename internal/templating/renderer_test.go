package templating

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/transcription"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("", nil)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func TestSystemInstructionEmbedsPersona(t *testing.T) {
	r := newRenderer(t)
	p := &persona.Persona{
		BasicInfo:                         persona.BasicInfo{FullName: "Meera Iyer"},
		FirstPersonSummaryForSystemPrompt: "I'm a data engineer with six years at fintech startups.",
	}

	out, err := r.SystemInstruction(p)
	if err != nil {
		t.Fatalf("SystemInstruction: %v", err)
	}

	for _, want := range []string{
		"### Persona Biography\nI'm a data engineer with six years at fintech startups.",
		"I'm not sure I understand the question, I'm Meera Iyer.",
		"**Maintain Character at All Costs**",
		"### Final Instruction",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("system instruction missing %q", want)
		}
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("rendered prompt should be trimmed")
	}

	if _, err := r.SystemInstruction(nil); err == nil {
		t.Error("nil persona should fail")
	}
}

func TestPersonaPrompt(t *testing.T) {
	r := newRenderer(t)
	out, err := r.PersonaPrompt(persona.Request{
		JobDescription: "Senior Go developer",
		Experience:     persona.Experienced,
		Gender:         persona.Female,
	})
	if err != nil {
		t.Fatalf("PersonaPrompt: %v", err)
	}

	for _, want := range []string{
		`- **Job Description**: "Senior Go developer"`,
		`- **Experience Level**: "experienced"`,
		`- **Gender**: "female"`,
		"Set `suggested_voice_name` to 'Puck' for Male and 'Kore' for Female.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("persona prompt missing %q", want)
		}
	}
}

func TestFeedbackPromptFormatsTranscript(t *testing.T) {
	r := newRenderer(t)
	out, err := r.FeedbackPrompt([]transcription.Entry{
		{Speaker: transcription.Recruiter, Text: "Tell me about yourself"},
		{Speaker: transcription.Candidate, Text: "I have five years of experience."},
	})
	if err != nil {
		t.Fatalf("FeedbackPrompt: %v", err)
	}

	want := "**Transcript:**\nRecruiter: Tell me about yourself\nCandidate: I have five years of experience."
	if !strings.HasSuffix(out, want) {
		t.Errorf("feedback prompt tail = %q, want suffix %q", out[len(out)-120:], want)
	}
	if !strings.Contains(out, "4.  **Candidate Assessment**") {
		t.Error("feedback prompt missing assessment section")
	}
}

func TestOverrideDirReplacesTemplate(t *testing.T) {
	dir := t.TempDir()
	custom := "Be {{ .Persona.BasicInfo.FullName }}."
	if err := os.WriteFile(filepath.Join(dir, "system_instruction.tmpl"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRenderer(dir, nil)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	out, err := r.SystemInstruction(&persona.Persona{BasicInfo: persona.BasicInfo{FullName: "Sam"}})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Be Sam." {
		t.Errorf("override output = %q", out)
	}

	// Templates without an override keep the built-in text
	fb, err := r.FeedbackPrompt(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(fb, "You are an expert recruitment coach.") {
		t.Errorf("feedback prompt lost built-in text: %q", fb[:40])
	}
}

func TestBrokenOverrideFails(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "feedback.tmpl"), []byte("{{ .Nope "), 0o644)
	if _, err := NewRenderer(dir, nil); err == nil {
		t.Fatal("expected parse error")
	}
}
