package main

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/counsel-platform/internal/ai"
	"github.com/suPer8Hu/counsel-platform/internal/config"
)

func orDefault(model, def string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return def
}

// newRegistry registers every supported backend. Only the one named by
// AI_PROVIDER is built at startup.
func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("openai", func(ctx context.Context, model string) (ai.StreamProvider, error) {
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required")
		}
		return ai.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, orDefault(model, cfg.OpenAIModel), cfg.MaxTokens), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (ai.StreamProvider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, orDefault(model, cfg.OllamaModel), cfg.MaxTokens), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.StreamProvider, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required")
		}
		return ai.NewOpenRouterProvider(
			cfg.OpenRouterBaseURL,
			cfg.OpenRouterAPIKey,
			orDefault(model, cfg.OpenRouterModel),
			cfg.OpenRouterSiteURL,
			cfg.OpenRouterAppName,
			cfg.MaxTokens,
		), nil
	})
	reg.Register("gemini", func(ctx context.Context, model string) (ai.StreamProvider, error) {
		return ai.NewGeminiProvider(ctx, cfg.GeminiAPIKey, orDefault(model, cfg.GeminiModel), cfg.MaxTokens)
	})
	return reg
}
