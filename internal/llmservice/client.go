package llmservice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"math-tutor/internal/config"
	"math-tutor/internal/metrics"
	"math-tutor/internal/models"
)

var (
	ErrEmptyResponse = errors.New("model returned no choices")
	// ErrNotConfigured is returned by a nil Client.
	ErrNotConfigured = errors.New("chat model not configured")
)

// Client sends role-tagged conversations to a chat model.
type Client struct {
	llm     llms.Model
	timeout time.Duration
}

// NewClient connects to the OpenAI-compatible chat API described by cfg.
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating chat client")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return NewClientWithModel(llm, cfg.Timeout), nil
}

// NewClientWithModel wraps an existing model; a zero timeout means no deadline.
func NewClientWithModel(llm llms.Model, timeout time.Duration) *Client {
	return &Client{llm: llm, timeout: timeout}
}

// Start sends messages in the background; the caller awaits or cancels the
// task. A nil Client fails every call with ErrNotConfigured.
func (c *Client) Start(ctx context.Context, messages []llms.MessageContent, temperature float64) *Task[string] {
	if c == nil || c.llm == nil {
		return Run(ctx, 0, func(context.Context) (string, error) {
			return "", ErrNotConfigured
		})
	}
	return Run(ctx, c.timeout, func(ctx context.Context) (string, error) {
		start := time.Now()
		resp, err := c.llm.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
		metrics.ObserveRemoteCall("chat", start, err)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		return resp.Choices[0].Content, nil
	})
}

// Complete sends messages and waits for the reply.
func (c *Client) Complete(ctx context.Context, messages []llms.MessageContent, temperature float64) (string, error) {
	return c.Start(ctx, messages, temperature).Await()
}

// BuildMessages lays out a system message, the prior turns and the new prompt.
// An empty system message is omitted.
func BuildMessages(system string, history []models.Turn, prompt string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, turn := range history {
		role := llms.ChatMessageTypeHuman
		if turn.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}
