package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/pkg/logger"
)

// GeminiModel generates text with the Gemini API
type GeminiModel struct {
	client *genai.Client
	model  string
	logger *logger.Logger
}

// NewGeminiModel creates a Gemini backend for model
func NewGeminiModel(ctx context.Context, apiKey, model string, log *logger.Logger) (*GeminiModel, error) {
	return newGeminiModel(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}, model, log)
}

func newGeminiModel(ctx context.Context, cc *genai.ClientConfig, model string, log *logger.Logger) (*GeminiModel, error) {
	if cc.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key", config.ErrCredentialMissing)
	}
	if log == nil {
		log = logger.Nop()
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiModel{
		client: client,
		model:  model,
		logger: log.Named("gemini"),
	}, nil
}

// Provider implements TextModel
func (m *GeminiModel) Provider() string {
	return config.ProviderGemini
}

// GenerateJSON implements TextModel
func (m *GeminiModel) GenerateJSON(ctx context.Context, prompt string, schema *persona.Schema) (string, error) {
	return m.generate(ctx, prompt, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   geminiSchema(schema),
	})
}

// GenerateText implements TextModel
func (m *GeminiModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	return m.generate(ctx, prompt, nil)
}

func (m *GeminiModel) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	m.logger.Debug("Generating content", logger.String("model", m.model), logger.Int("prompt_length", len(prompt)))

	resp, err := m.client.Models.GenerateContent(ctx, m.model, []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}, Role: "user"},
	}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}

func geminiSchema(s *persona.Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	gs := &genai.Schema{
		Items:    geminiSchema(s.Items),
		Required: s.Required,
	}
	if n := len(s.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range s.Properties {
			gs.Properties[k] = geminiSchema(prop)
		}
	}
	switch s.Type {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return gs
}
