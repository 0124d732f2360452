// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Option configures a provider client.
type Option func(*options)

type options struct {
	baseURL string
}

// WithBaseURL points the client at a different API endpoint. Ollama ignores
// it and reads OLLAMA_HOST instead.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string, opts ...Option) (Client, error) {
	switch provider {
	case ProviderOllama:
		return NewOllamaClient()
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, opts...)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, opts...)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// splitSystem separates system instructions from the conversational turns, for
// providers that take the system prompt out of band.
func splitSystem(messages []ChatMessage) (system []string, turns []ChatMessage) {
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}
