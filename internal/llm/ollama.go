package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/jmorganca/ollama/api"
)

// OllamaClient talks to a local or remote Ollama server. The server address is
// taken from OLLAMA_HOST.
type OllamaClient struct {
	client *api.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient() (*OllamaClient, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	return &OllamaClient{client: client}, nil
}

// Name returns the provider name.
func (c *OllamaClient) Name() string {
	return string(ProviderOllama)
}

// Complete sends a non-streaming chat request.
func (c *OllamaClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	messages := make([]api.Message, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	options := map[string]interface{}{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	out := &CompletionResponse{Model: req.Model}
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.Content += resp.Message.Content
		if resp.Done {
			out.Model = resp.Model
			out.TokensIn = resp.PromptEvalCount
			out.TokensOut = resp.EvalCount
			out.StopReason = "stop"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}
