package coach

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/templating"
	"github.com/yegors/interview-coach/internal/transcription"
)

type fakeModel struct {
	json    string
	text    string
	err     error
	calls   int
	prompts []string
	schema  *persona.Schema
}

func (m *fakeModel) Provider() string { return "fake" }

func (m *fakeModel) GenerateJSON(_ context.Context, prompt string, schema *persona.Schema) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.schema = schema
	return m.json, m.err
}

func (m *fakeModel) GenerateText(_ context.Context, prompt string) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.text, m.err
}

var testMetrics = metrics.NewMetrics(prometheus.NewRegistry())

func newService(t *testing.T, m *fakeModel) *Service {
	t.Helper()
	r, err := templating.NewRenderer("", nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(m, r, 0, testMetrics, nil)
}

const personaJSON = `{
  "basic_info": {"full_name": "Arjun Mehta", "gender": "male", "location": "Pune"},
  "professional_summary": "Backend engineer.",
  "first_person_summary_for_system_prompt": "I'm Arjun, a backend engineer.",
  "education": {"university": "IIT Bombay", "degree": "B.Tech", "graduation_year": 2018},
  "work_experience": [{"company": "Acme", "role": "SDE II", "duration": "2019-2024", "key_achievements": ["Cut latency 40%"]}],
  "skills": {"technical": ["Go"], "soft_skills": ["Mentoring"]},
  "projects": [{"project_name": "Ledger", "description": "Payments ledger", "technologies_used": ["Go", "Postgres"]}],
  "hobbies_and_interests": ["Chess"],
  "suggested_voice_name": "Kore"
}`

func validRequest() persona.Request {
	return persona.Request{
		JobDescription: "Senior Go engineer",
		Experience:     persona.Experienced,
		Gender:         persona.Male,
	}
}

func TestGeneratePersona(t *testing.T) {
	m := &fakeModel{json: "```json\n" + personaJSON + "\n```"}
	svc := newService(t, m)

	res, err := svc.GeneratePersona(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("GeneratePersona: %v", err)
	}
	if res.Persona == nil || res.Persona.BasicInfo.FullName != "Arjun Mehta" {
		t.Fatalf("persona = %+v", res.Persona)
	}
	if res.Persona.Education.GraduationYear != 2018 || len(res.Persona.WorkExperience) != 1 {
		t.Errorf("nested fields not decoded: %+v", res.Persona)
	}
	// Voice follows the requested gender, not the model's choice
	if res.Persona.SuggestedVoiceName != persona.VoiceMale {
		t.Errorf("voice = %q, want %q", res.Persona.SuggestedVoiceName, persona.VoiceMale)
	}
	if !strings.Contains(res.Prompt, `"Senior Go engineer"`) || strings.HasPrefix(res.Prompt, "//") {
		t.Errorf("prompt = %q", res.Prompt[:60])
	}
	if m.schema == nil || m.schema.Type != "object" {
		t.Error("persona schema not passed to the model")
	}
}

func TestGeneratePersonaFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{"model error", &fakeModel{err: errors.New("quota")}},
		{"not json", &fakeModel{json: "Sure! Here is a persona."}},
		{"missing summary", &fakeModel{json: `{"basic_info":{"full_name":"X"}}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, tt.model)
			res, err := svc.GeneratePersona(context.Background(), validRequest())
			if !errors.Is(err, ErrGeneration) {
				t.Fatalf("err = %v, want ErrGeneration", err)
			}
			if res == nil || res.Persona != nil {
				t.Fatalf("result = %+v", res)
			}
			if !strings.HasPrefix(res.Prompt, "// The following prompt failed to generate a response.\n\n") {
				t.Errorf("prompt missing failure prefix: %q", res.Prompt[:70])
			}
		})
	}
}

func TestGeneratePersonaRejectsInvalidRequest(t *testing.T) {
	m := &fakeModel{json: personaJSON}
	svc := newService(t, m)

	_, err := svc.GeneratePersona(context.Background(), persona.Request{Experience: persona.Fresher, Gender: persona.Female})
	if !errors.Is(err, persona.ErrInvalidRequest) {
		t.Fatalf("err = %v", err)
	}
	if m.calls != 0 {
		t.Error("model called for an invalid request")
	}
}

func TestFeedbackEmptyTranscriptSkipsModel(t *testing.T) {
	m := &fakeModel{text: "unused"}
	svc := newService(t, m)

	res, err := svc.Feedback(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Feedback != EmptyTranscriptFeedback {
		t.Errorf("feedback = %q", res.Feedback)
	}
	if res.Prompt != "// No transcript was provided, so no feedback could be generated." {
		t.Errorf("prompt = %q", res.Prompt)
	}
	if m.calls != 0 {
		t.Errorf("model called %d times", m.calls)
	}
}

func TestFeedback(t *testing.T) {
	entries := []transcription.Entry{
		{Speaker: transcription.Recruiter, Text: "Tell me about yourself"},
		{Speaker: transcription.Candidate, Text: "I have five years of experience."},
	}

	t.Run("success", func(t *testing.T) {
		m := &fakeModel{text: "**Overall Impression** Good."}
		res, err := newService(t, m).Feedback(context.Background(), entries)
		if err != nil {
			t.Fatal(err)
		}
		if res.Feedback != "**Overall Impression** Good." {
			t.Errorf("feedback = %q", res.Feedback)
		}
		if !strings.Contains(m.prompts[0], "Recruiter: Tell me about yourself\nCandidate: I have five years of experience.") {
			t.Error("transcript not quoted in prompt")
		}
	})

	t.Run("failure", func(t *testing.T) {
		m := &fakeModel{err: errors.New("timeout")}
		res, err := newService(t, m).Feedback(context.Background(), entries)
		if !errors.Is(err, ErrGeneration) {
			t.Fatalf("err = %v", err)
		}
		if res.Feedback != FeedbackErrorText {
			t.Errorf("feedback = %q", res.Feedback)
		}
		if !strings.HasPrefix(res.Prompt, failedPromptPrefix) {
			t.Error("prompt missing failure prefix")
		}
	})
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}\n":           `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}
