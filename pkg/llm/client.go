// Package llm is a minimal OpenAI-compatible client for chat completions and
// embeddings, plus the check-in auto-replier built on it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/famlabs/agentnode/pkg/config"
	"github.com/famlabs/agentnode/pkg/memory"
)

const (
	// DefaultModel is used when neither the profile nor the secrets select one.
	DefaultModel = "gpt-4o-mini"

	defaultBaseURL    = "https://api.openai.com/v1"
	defaultEmbedModel = "text-embedding-3-small"
	maxContentLen     = 4096
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting an API call reports.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client calls an OpenAI-compatible API. A nil *Client means no key is
// configured; callers degrade instead of failing.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	embedModel string
	client     *http.Client
}

// NewClientFromSecrets builds a client from the profile's secrets directory,
// or nil when no API key file is present.
func NewClientFromSecrets(secretsDir, defaultModel string) *Client {
	apiKey := config.ReadSecret(secretsDir, "llm_api_key.txt")
	if apiKey == "" {
		apiKey = config.ReadSecret(secretsDir, "openai_api_key.txt")
	}
	if apiKey == "" {
		return nil
	}
	model := config.ReadSecret(secretsDir, "llm_model.txt")
	if model == "" {
		model = defaultModel
	}
	if model == "" {
		model = DefaultModel
	}
	return NewClient(apiKey,
		config.ReadSecret(secretsDir, "llm_base_url.txt"),
		model,
		config.ReadSecret(secretsDir, "embedding_model.txt"))
}

// NewClient builds a client with explicit settings. Empty baseURL and
// embedModel fall back to the OpenAI defaults.
func NewClient(apiKey, baseURL, model, embedModel string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		embedModel: embedModel,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Model returns the chat model this client targets.
func (c *Client) Model() string { return c.model }

// Complete runs one chat completion. Long replies are truncated to keep
// downstream records bounded.
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (string, Usage, error) {
	body := map[string]any{
		"model":      c.model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	var decoded struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := c.post(ctx, "/chat/completions", body, &decoded); err != nil {
		return "", Usage{}, err
	}

	var content *string
	for _, choice := range decoded.Choices {
		if choice.Message.Content != nil {
			content = choice.Message.Content
			break
		}
	}
	if content == nil {
		return "", Usage{}, fmt.Errorf("LLM API unexpected response: no message content")
	}
	text := *content
	if len(text) > maxContentLen {
		text = text[:maxContentLen-3] + "..."
	}
	return strings.TrimSpace(text), decoded.Usage, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) (memory.Embedding, error) {
	body := map[string]any{
		"model": c.embedModel,
		"input": text,
	}
	var decoded struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", body, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("LLM API unexpected response: no embedding data")
	}
	return memory.Embedding(decoded.Data[0].Embedding), nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("LLM API request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read LLM response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("LLM API HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode LLM response: %w", err)
	}
	return nil
}
