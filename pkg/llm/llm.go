// Package llm wraps the chat-completion providers the agent can plan
// with. Providers are selected by model name, so swapping models never
// touches caller code.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoCredentials means the selected provider has no API key.
	ErrNoCredentials = errors.New("llm: missing api key")
	// ErrEmptyResponse means the provider returned no usable text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Request is a single planning call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Client produces one completion per request.
type Client interface {
	// Complete returns the raw text of the model response.
	Complete(ctx context.Context, req Request) (string, error)
	// Provider names the backing service, used for metric labels.
	Provider() string
	// Model names the configured model.
	Model() string
}

// Config selects the provider and model.
type Config struct {
	Model        string
	OpenAIKey    string
	AnthropicKey string
}

// New picks a provider from the model name. Claude models go to
// Anthropic, everything else to OpenAI.
func New(cfg Config) (Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("llm: model must not be empty")
	}
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("%w for anthropic model %s", ErrNoCredentials, model)
		}
		return newAnthropicClient(cfg.AnthropicKey, model), nil
	}
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("%w for openai model %s", ErrNoCredentials, model)
	}
	return newOpenAIClient(cfg.OpenAIKey, model), nil
}
