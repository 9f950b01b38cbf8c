package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/kkkrraamm/api-aldlma-ai/internal/config"
	"github.com/kkkrraamm/api-aldlma-ai/internal/conversation"
	"github.com/kkkrraamm/api-aldlma-ai/internal/prompt"
)

// chatCompleter is the minimal subset of openai.Client the provider uses;
// it is easy to mock in tests.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider talks to an OpenAI-compatible chat-completions API.
type OpenAIProvider struct {
	client      chatCompleter
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider builds the provider from configuration. BaseURL may
// point at any chat-completions-compatible host.
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxOutputTokens,
		temperature: 0.7,
	}
}

// Complete sends one completion request and returns the reply text.
func (p *OpenAIProvider) Complete(ctx context.Context, req prompt.Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.Instructions != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}

	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		if len(m.Images) == 0 {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: m.Text,
		})
		for _, img := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: img.DataURL()},
			})
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", asStatusError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty choices", ErrUnrecognizedShape)
	}
	return resp.Choices[0].Message.Content, nil
}

// asStatusError lifts the HTTP status out of go-openai error types so the
// retry classifier sees a uniform *StatusError for both providers.
func asStatusError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{Code: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
