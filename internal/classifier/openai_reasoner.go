package classifier

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIReasoner is a Reasoner backed by an OpenAI-compatible chat
// completion endpoint.
type OpenAIReasoner struct {
	client      *openai.Client
	model       string
	temperature float64
	logger      *zap.Logger
}

// NewOpenAIReasoner creates a reasoner. An empty baseURL uses the public API.
func NewOpenAIReasoner(apiKey, baseURL, model string, temperature float64, logger *zap.Logger) *OpenAIReasoner {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIReasoner{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// Complete sends the prompt as the system message and the user text as the
// user message, asking for a JSON object back.
func (r *OpenAIReasoner) Complete(ctx context.Context, req ReasonerRequest) (string, error) {
	resp, err := r.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: r.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: req.Prompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: req.UserMessage,
				},
			},
			MaxTokens:   req.MaxTokens,
			Temperature: float32(r.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return "", &NetworkError{Op: "openai chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &NetworkError{Op: "openai chat completion", Err: errors.New("empty choices")}
	}

	r.logger.Debug("Received classifier completion",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
