package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/transcription"
	"github.com/yegors/interview-coach/pkg/logger"
)

// ErrGeneration is returned when the model call or its output fails
var ErrGeneration = errors.New("generation failed")

const (
	failedPromptPrefix = "// The following prompt failed to generate a response.\n\n"

	// EmptyTranscriptFeedback is returned without a model call when there is no transcript
	EmptyTranscriptFeedback = "The interview was too short to provide feedback. Please try again."
	emptyTranscriptPrompt   = "// No transcript was provided, so no feedback could be generated."

	// FeedbackErrorText replaces the feedback when generation fails
	FeedbackErrorText = "Error: Could not generate feedback. Please try again."
)

// PersonaResult carries a generated persona and the prompt that produced it.
// Persona is nil when generation failed.
type PersonaResult struct {
	Persona *persona.Persona `json:"persona"`
	Prompt  string           `json:"prompt"`
}

// FeedbackResult carries coaching feedback and the prompt that produced it
type FeedbackResult struct {
	Feedback string `json:"feedback"`
	Prompt   string `json:"prompt"`
}

// Prompts renders the generation prompts
type Prompts interface {
	PersonaPrompt(req persona.Request) (string, error)
	FeedbackPrompt(entries []transcription.Entry) (string, error)
}

// Service generates personas and interview feedback
type Service struct {
	model   TextModel
	prompts Prompts
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewService creates a service. A zero timeout leaves calls bounded only
// by the caller's context.
func NewService(model TextModel, prompts Prompts, timeout time.Duration, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Service{
		model:   model,
		prompts: prompts,
		timeout: timeout,
		metrics: m,
		logger:  log.Named("coach"),
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// GeneratePersona asks the model for a candidate persona matching req. On
// failure the result still carries the prompt, marked as failed.
func (s *Service) GeneratePersona(ctx context.Context, req persona.Request) (*PersonaResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	prompt, err := s.prompts.PersonaPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("failed to render persona prompt: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	p, err := s.persona(ctx, prompt, req.Gender)
	s.metrics.RecordGeneration("persona", s.model.Provider(), err, time.Since(start))
	if err != nil {
		s.logger.Error("Persona generation failed",
			logger.Error(err),
			logger.String("experience", string(req.Experience)),
			logger.String("gender", string(req.Gender)))
		return &PersonaResult{Prompt: failedPromptPrefix + prompt}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	s.logger.Info("Generated persona",
		logger.String("name", p.BasicInfo.FullName),
		logger.String("voice", p.SuggestedVoiceName),
		logger.Duration("latency", time.Since(start)))
	return &PersonaResult{Persona: p, Prompt: prompt}, nil
}

func (s *Service) persona(ctx context.Context, prompt string, gender persona.Gender) (*persona.Persona, error) {
	raw, err := s.model.GenerateJSON(ctx, prompt, persona.ResponseSchema())
	if err != nil {
		return nil, err
	}

	var p persona.Persona
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return nil, fmt.Errorf("failed to decode persona: %w", err)
	}
	// The voice is fixed by the requested gender regardless of what the model chose
	p.SuggestedVoiceName = persona.VoiceFor(gender)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Feedback asks the model to assess the interviewer. An empty transcript
// returns a fixed message without calling the model. On failure the result
// holds a fixed error message and the failed prompt.
func (s *Service) Feedback(ctx context.Context, entries []transcription.Entry) (*FeedbackResult, error) {
	if len(entries) == 0 {
		return &FeedbackResult{Feedback: EmptyTranscriptFeedback, Prompt: emptyTranscriptPrompt}, nil
	}

	prompt, err := s.prompts.FeedbackPrompt(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to render feedback prompt: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	text, err := s.model.GenerateText(ctx, prompt)
	s.metrics.RecordGeneration("feedback", s.model.Provider(), err, time.Since(start))
	if err != nil {
		s.logger.Error("Feedback generation failed", logger.Error(err), logger.Int("entries", len(entries)))
		return &FeedbackResult{Feedback: FeedbackErrorText, Prompt: failedPromptPrefix + prompt}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	s.logger.Info("Generated feedback", logger.Int("entries", len(entries)), logger.Int("length", len(text)))
	return &FeedbackResult{Feedback: text, Prompt: prompt}, nil
}
