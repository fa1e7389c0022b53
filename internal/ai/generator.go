package ai

import (
	"context"
	"fmt"
)

// NewGenerator picks the LLM backend. An explicit provider wins; otherwise an
// OpenRouter key is preferred over a Gemini key. With neither, ErrNoProvider
// is returned and the caller answers from templates.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	switch cfg.Provider {
	case ProviderNone:
		return nil, ErrNoProvider
	case ProviderOpenRouter:
		return NewClient(cfg)
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg)
	case ProviderAuto:
		if cfg.OpenRouterAPIKey != "" {
			return NewClient(cfg)
		}
		if cfg.GeminiAPIKey != "" {
			return NewGeminiClient(ctx, cfg)
		}
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
