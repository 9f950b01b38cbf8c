package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kkkrraamm/api-aldlma-ai/internal/config"
	"github.com/kkkrraamm/api-aldlma-ai/internal/conversation"
	"github.com/kkkrraamm/api-aldlma-ai/internal/prompt"
)

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 1024

// HTTPProvider posts to a raw completions endpoint and normalizes whatever
// envelope comes back. Used for providers whose response shape drifts
// between versions, where the typed client would be a liability.
type HTTPProvider struct {
	endpoint      string
	apiKey        string
	model         string
	promptID      string
	promptVersion string
	maxTokens     int
	httpClient    *http.Client
}

// NewHTTPProvider builds the provider from configuration. cfg.BaseURL is the
// full completions endpoint URL.
func NewHTTPProvider(cfg config.LLMConfig) *HTTPProvider {
	return &HTTPProvider{
		endpoint:      cfg.BaseURL,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		promptID:      cfg.PromptID,
		promptVersion: cfg.PromptVersion,
		maxTokens:     cfg.MaxOutputTokens,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
	}
}

type wirePromptRef struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

type wireContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireRequest struct {
	Model           string         `json:"model"`
	Prompt          *wirePromptRef `json:"prompt,omitempty"`
	Instructions    string         `json:"instructions,omitempty"`
	Input           []wireMessage  `json:"input"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
}

// Complete sends one completion request and returns the normalized reply.
func (p *HTTPProvider) Complete(ctx context.Context, req prompt.Request) (string, error) {
	body, err := json.Marshal(p.project(req))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{Code: resp.StatusCode, Body: string(detail)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return ExtractReply(raw)
}

func (p *HTTPProvider) project(req prompt.Request) wireRequest {
	out := wireRequest{
		Model:           p.model,
		Instructions:    req.Instructions,
		MaxOutputTokens: p.maxTokens,
	}
	if p.promptID != "" {
		out.Prompt = &wirePromptRef{ID: p.promptID, Version: p.promptVersion}
		// A server-side template supplies its own instructions.
		out.Instructions = ""
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == conversation.RoleAssistant {
			role = "assistant"
		}
		wm := wireMessage{Role: role}
		if m.Text != "" {
			wm.Content = append(wm.Content, wireContent{Type: "input_text", Text: m.Text})
		}
		for _, img := range m.Images {
			wm.Content = append(wm.Content, wireContent{Type: "input_image", ImageURL: img.DataURL()})
		}
		out.Input = append(out.Input, wm)
	}
	return out
}
