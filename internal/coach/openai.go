package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/internal/persona"
	"github.com/yegors/interview-coach/pkg/logger"
)

// OpenAIModel generates text with OpenAI chat completions
type OpenAIModel struct {
	client openai.Client
	model  string
	logger *logger.Logger
}

// NewOpenAIModel creates an OpenAI backend
func NewOpenAIModel(cfg config.OpenAIConfig, log *logger.Logger) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key", config.ErrCredentialMissing)
	}
	if log == nil {
		log = logger.Nop()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}

	return &OpenAIModel{
		client: openai.NewClient(opts...),
		model:  model,
		logger: log.Named("openai"),
	}, nil
}

// Provider implements TextModel
func (m *OpenAIModel) Provider() string {
	return config.ProviderOpenAI
}

// GenerateJSON implements TextModel using a strict JSON schema response format
func (m *OpenAIModel) GenerateJSON(ctx context.Context, prompt string, schema *persona.Schema) (string, error) {
	params := m.params(prompt)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   "persona",
				Schema: strictSchema(schema),
				Strict: param.NewOpt(true),
			},
		},
	}
	return m.complete(ctx, params)
}

// GenerateText implements TextModel
func (m *OpenAIModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	return m.complete(ctx, m.params(prompt))
}

func (m *OpenAIModel) params(prompt string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:    m.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
}

func (m *OpenAIModel) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	m.logger.Debug("Requesting chat completion", logger.String("model", m.model))

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("openai refused: %s", msg.Refusal)
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return "", errors.New("openai returned no text")
	}
	return text, nil
}

// strictSchema renders s as a JSON Schema map with additionalProperties
// disabled on every object, as strict mode requires
func strictSchema(s *persona.Schema) map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": s.Type}
	if s.Items != nil {
		out["items"] = strictSchema(s.Items)
	}
	if s.Type == "object" {
		props := make(map[string]any, len(s.Properties))
		for k, p := range s.Properties {
			props[k] = strictSchema(p)
		}
		out["properties"] = props
		out["required"] = s.Required
		out["additionalProperties"] = false
	}
	return out
}
