package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Intelligent-Internet/ii-agent/pkg/tools"
	"github.com/rs/zerolog"
)

// Provider is the model capability: submit a prompt plus tool declarations,
// receive one model-generated turn.
type Provider interface {
	// Generate performs a single model call.
	Generate(ctx context.Context, req Request) (*Turn, error)

	// Name returns the provider name.
	Name() string
}

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []tools.Declaration
	Temperature  float64
	MaxTokens    int
}

// Message is one entry of the conversation fed to the model.
type Message struct {
	Role       string                 `json:"role"` // user, assistant, tool
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// TokenUsage tracks token consumption for one turn.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Turn is one model-generated step. Text accompanying tool calls is the
// model's intermediate reasoning; text on a turn without tool calls is the
// final answer.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Final reports whether this turn ends the query.
func (t *Turn) Final() bool {
	return len(t.ToolCalls) == 0
}

// ProviderFactory builds providers by name.
type ProviderFactory struct{}

// NewProvider creates a provider from its name and API key.
func (f *ProviderFactory) NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// IsRetryableError checks if a provider error should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}

// GenerateWithRetry calls the provider with exponential backoff on transient
// failures. Permanent failures are returned immediately.
func GenerateWithRetry(ctx context.Context, provider Provider, req Request, maxRetries int, logger zerolog.Logger) (*Turn, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		turn, err := provider.Generate(ctx, req)
		if err == nil {
			return turn, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := time.Duration(1000*(1<<attempt)) * time.Millisecond
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("provider", provider.Name()).
			Msg("Retrying model call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

// EstimateTokens provides a rough token count for context budgeting.
func EstimateTokens(messages []Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	// Rough estimation: 1 token is about 4 characters
	return (totalChars + 3) / 4
}
