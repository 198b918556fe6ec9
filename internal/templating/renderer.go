package templating

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/internal/transcription"
	"github.com/yegors/interview-coach/pkg/logger"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

const (
	systemInstructionTemplate = "system_instruction.tmpl"
	personaTemplate           = "persona.tmpl"
	feedbackTemplate          = "feedback.tmpl"
)

var templateNames = []string{systemInstructionTemplate, personaTemplate, feedbackTemplate}

// Renderer builds the three prompts the application sends to the models
type Renderer struct {
	templates *template.Template
	logger    *logger.Logger
}

// SessionContext is the data available to the system instruction template
type SessionContext struct {
	Persona *persona.Persona
}

// PersonaContext is the data available to the persona prompt template
type PersonaContext struct {
	Request     persona.Request
	MaleVoice   string
	FemaleVoice string
}

// FeedbackContext is the data available to the feedback prompt template
type FeedbackContext struct {
	Transcript []transcription.Entry
}

// NewRenderer loads the built-in templates. When overrideDir is set, any
// template file of the same name found there replaces the built-in one.
func NewRenderer(overrideDir string, log *logger.Logger) (*Renderer, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("templating")

	root := template.New("prompts").Option("missingkey=error")
	for _, name := range templateNames {
		src, err := defaultTemplates.ReadFile("templates/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in template %s: %w", name, err)
		}

		if overrideDir != "" {
			path := filepath.Join(overrideDir, name)
			custom, err := os.ReadFile(path)
			switch {
			case err == nil:
				src = custom
				log.Info("Using prompt template override", logger.String("path", path))
			case !os.IsNotExist(err):
				return nil, fmt.Errorf("failed to read template override %s: %w", path, err)
			}
		}

		if _, err := root.New(name).Parse(string(src)); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}

	return &Renderer{templates: root, logger: log}, nil
}

func (r *Renderer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	out := strings.TrimSpace(buf.String())
	r.logger.Debug("Rendered prompt", logger.String("template", name), logger.Int("length", len(out)))
	return out, nil
}

// SystemInstruction renders the role-play instruction for a live session
func (r *Renderer) SystemInstruction(p *persona.Persona) (string, error) {
	if p == nil {
		return "", fmt.Errorf("system instruction needs a persona")
	}
	return r.render(systemInstructionTemplate, SessionContext{Persona: p})
}

// PersonaPrompt renders the persona generation prompt
func (r *Renderer) PersonaPrompt(req persona.Request) (string, error) {
	return r.render(personaTemplate, PersonaContext{
		Request:     req,
		MaleVoice:   persona.VoiceMale,
		FemaleVoice: persona.VoiceFemale,
	})
}

// FeedbackPrompt renders the coaching prompt with the transcript quoted as
// "Speaker: text" lines
func (r *Renderer) FeedbackPrompt(entries []transcription.Entry) (string, error) {
	return r.render(feedbackTemplate, FeedbackContext{Transcript: entries})
}
