package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL         = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel = "meta-llama/llama-3.1-8b-instruct"
)

var errMissingAPIKey = fmt.Errorf("OPENROUTER_API_KEY is required")

// Client talks to an OpenRouter-compatible chat completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	http        *resty.Client
	model       string
	temperature float64
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.OpenRouterAPIKey == "" {
		return nil, errMissingAPIKey
	}

	baseURL := cfg.OpenRouterURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenRouterModel
	}

	return &Client{
		apiKey:      cfg.OpenRouterAPIKey,
		baseURL:     baseURL,
		http:        resty.New().SetTimeout(timeoutOrDefault(cfg.Timeout)),
		model:       model,
		temperature: temperatureOrDefault(cfg.Temperature),
	}, nil
}

func (c *Client) Name() string {
	return "openrouter:" + c.model
}

func (c *Client) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
	}

	var parsed chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&parsed).
		SetError(&parsed).
		Post(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	if !resp.IsSuccess() {
		if parsed.Error != nil {
			return "", fmt.Errorf("openrouter error: status %d: %s", resp.StatusCode(), parsed.Error.Message)
		}
		return "", fmt.Errorf("openrouter error: status %d: %s", resp.StatusCode(), resp.String())
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("openrouter error: %s", parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openrouter returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d == 0 {
		return 45 * time.Second
	}
	return d
}

func temperatureOrDefault(t float64) float64 {
	if t == 0 {
		return 0.1
	}
	return t
}
