package coach

import (
	"context"
	"fmt"
	"strings"

	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/pkg/logger"
)

// TextModel is a one-shot text generation backend
type TextModel interface {
	// Provider names the backend in logs and metrics
	Provider() string
	// GenerateJSON returns a JSON document conforming to schema
	GenerateJSON(ctx context.Context, prompt string, schema *persona.Schema) (string, error)
	// GenerateText returns free text
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// NewModel builds the backend selected by cfg.Coach.Provider
func NewModel(ctx context.Context, cfg *config.Config, log *logger.Logger) (TextModel, error) {
	switch cfg.Coach.Provider {
	case config.ProviderGemini, "":
		return NewGeminiModel(ctx, cfg.Gemini.APIKey, cfg.Gemini.TextModel, log)
	case config.ProviderOpenAI:
		return NewOpenAIModel(cfg.OpenAI, log)
	default:
		return nil, fmt.Errorf("unknown coach provider %q", cfg.Coach.Provider)
	}
}

// stripFences removes a markdown code fence some models wrap JSON in
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
