package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/odvcencio/pilot/pkg/observability"
)

type openAIClient struct {
	client openai.Client
	model  string
}

func newOpenAIClient(apiKey, model string) *openAIClient {
	return &openAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *openAIClient) Provider() string { return "openai" }
func (c *openAIClient) Model() string    { return c.model }

func (c *openAIClient) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
	}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}
	params.Messages = append(params.Messages, openai.UserMessage(req.Prompt))
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	observability.LLMRequestLatency.WithLabelValues(c.Provider()).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.LLMRequestFailures.WithLabelValues(c.Provider()).Inc()
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		observability.LLMRequestFailures.WithLabelValues(c.Provider()).Inc()
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
