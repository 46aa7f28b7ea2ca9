package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Message is one turn of a chat-completions request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrEmptyCompletion is returned when the completion endpoint answers 200 but
// the body carries no usable message content.
var ErrEmptyCompletion = errors.New("completion response has no content")

// StatusError is a non-2xx reply from the completion endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, body)
}

// Client talks to an OpenRouter-compatible chat-completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// WithKey returns a shallow copy of the client using a different API key,
// e.g. a per-request key supplied by the caller.
func (c *Client) WithKey(apiKey string) *Client {
	if apiKey == "" {
		return c
	}
	clone := *c
	clone.apiKey = apiKey
	return &clone
}

// SetHTTPClient replaces the underlying HTTP client (tests).
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends one chat-completions request to the named model and returns the
// assistant's text. Timeouts are driven by ctx; the caller bounds each call.
func (c *Client) Chat(ctx context.Context, model string, msgs []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post completion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmptyCompletion, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}

	return parsed.Choices[0].Message.Content, nil
}

// Model describes one entry of the provider's model catalog.
type Model struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Provider           string  `json:"provider"`
	ContextLength      int     `json:"context_length"`
	PromptCostPerTok   float64 `json:"prompt_cost_per_token"`
	CompleteCostPerTok float64 `json:"completion_cost_per_token"`
}

type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// ListModels fetches the provider's model catalog.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	models := make([]Model, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		models = append(models, Model{
			ID:                 m.ID,
			Name:               name,
			Provider:           ProviderOf(m.ID),
			ContextLength:      m.ContextLength,
			PromptCostPerTok:   safeFloat(m.Pricing.Prompt),
			CompleteCostPerTok: safeFloat(m.Pricing.Completion),
		})
	}
	return models, nil
}

// ProviderOf derives the provider from a model id prefix,
// e.g. "openai/gpt-5.2" -> "openai".
func ProviderOf(modelID string) string {
	for i := 0; i < len(modelID); i++ {
		if modelID[i] == '/' {
			return modelID[:i]
		}
	}
	return "unknown"
}

func safeFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
