// Package providers wires the built-in provider implementations into the
// factory. Kept separate from llm to avoid an import cycle between the
// factory and the concrete clients.
package providers

import (
	"fmt"

	"github.com/loreworks/ragserve/internal/llm"
	"github.com/loreworks/ragserve/internal/llm/anthropic"
	"github.com/loreworks/ragserve/internal/llm/openai"
)

// NewFactory returns a factory with every built-in provider registered.
// The OpenAI-compatible presets (ollama, groq, together, deepseek) reuse the
// openai client with their default base URL unless cfg.BaseURL overrides it.
func NewFactory() *llm.ProviderFactory {
	f := llm.NewFactory()

	f.Register("anthropic", func(cfg llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	})

	// "custom" is any OpenAI-compatible endpoint; no preset, base_url must
	// be given.
	f.Register("custom", func(cfg llm.ProviderConfig) (llm.Provider, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("custom provider requires base_url")
		}
		return openai.New(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.EmbedModel), nil
	})

	for name := range llm.KnownProviders {
		if name == "anthropic" {
			continue
		}
		preset := llm.KnownProviders[name]
		f.Register(name, func(cfg llm.ProviderConfig) (llm.Provider, error) {
			baseURL := cfg.BaseURL
			if baseURL == "" {
				baseURL = preset
			}
			return openai.New(cfg.APIKey, cfg.Model, baseURL, cfg.EmbedModel), nil
		})
	}

	return f
}

// New builds a ready-to-use provider from config, wrapped with retry and
// rate limiting per the factory rules.
func New(cfg llm.ProviderConfig) (llm.Provider, error) {
	return NewFactory().Create(cfg)
}
