package ai

import (
	"context"
	"errors"
	"time"
)

type Provider string

const (
	ProviderAuto       Provider = ""
	ProviderOpenRouter Provider = "openrouter"
	ProviderGemini     Provider = "gemini"
	ProviderNone       Provider = "none"
)

// ErrNoProvider means no LLM is configured. Callers answer from templates.
var ErrNoProvider = errors.New("no LLM provider configured")

type Config struct {
	Provider         Provider
	Model            string
	Temperature      float64
	Timeout          time.Duration
	OpenRouterAPIKey string
	OpenRouterURL    string
	GeminiAPIKey     string
}

// Generator is an untrusted text generator. Its output must go through the
// validator before reaching a user.
type Generator interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}
