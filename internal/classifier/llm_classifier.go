package classifier

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap"
)

// DefaultMaxTokens bounds the reasoning-service reply.
const DefaultMaxTokens = 500

// ReasonerRequest is the payload sent to the reasoning service.
type ReasonerRequest struct {
	Prompt      string `json:"prompt"`
	UserMessage string `json:"userMessage"`
	MaxTokens   int    `json:"maxTokens"`
}

// Reasoner is an external reasoning service. Complete returns the raw JSON
// classification text.
type Reasoner interface {
	Complete(ctx context.Context, req ReasonerRequest) (string, error)
}

// LLMOptions configures the adapter.
type LLMOptions struct {
	MaxTokens       int
	ContextMessages int
	Timeout         time.Duration
}

// LLMClassifier builds the prompt, calls the reasoner and validates the reply.
type LLMClassifier struct {
	reasoner Reasoner
	opts     LLMOptions
	logger   *zap.Logger
}

// NewLLMClassifier creates an adapter around reasoner.
func NewLLMClassifier(reasoner Reasoner, opts LLMOptions, logger *zap.Logger) *LLMClassifier {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.ContextMessages <= 0 {
		opts.ContextMessages = DefaultContextMessages
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClassifier{reasoner: reasoner, opts: opts, logger: logger}
}

// ClassifyWithLLM asks the reasoning service to classify text. Transport
// failures come back as *NetworkError, malformed replies as *ValidationError.
func (c *LLMClassifier) ClassifyWithLLM(ctx context.Context, text string, convCtx models.ConversationContext) (models.ClassificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req := ReasonerRequest{
		Prompt:      BuildPrompt(text, convCtx, c.opts.ContextMessages),
		UserMessage: text,
		MaxTokens:   c.opts.MaxTokens,
	}

	raw, err := c.reasoner.Complete(ctx, req)
	if err != nil {
		var (
			nerr *NetworkError
			verr *ValidationError
		)
		if !errors.As(err, &nerr) && !errors.As(err, &verr) {
			err = &NetworkError{Op: "classify", Err: err}
		}
		c.logger.Error("Failed to get classifier response", zap.Error(err))
		return models.ClassificationResult{}, err
	}

	res, err := ParseResponse(raw)
	if err != nil {
		c.logger.Error("Failed to validate classifier response",
			zap.Error(err),
			zap.String("response", truncate(raw, 200)))
		return models.ClassificationResult{}, err
	}
	return res, nil
}

// Classify returns the reasoning-service classification, or the
// deterministic fallback together with the error that caused it.
func (c *LLMClassifier) Classify(ctx context.Context, text string, convCtx models.ConversationContext) (models.ClassificationResult, error) {
	res, err := c.ClassifyWithLLM(ctx, text, convCtx)
	if err != nil {
		return Fallback(text), err
	}
	return res, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
