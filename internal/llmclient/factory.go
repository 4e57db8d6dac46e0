// -- internal/llmclient/factory.go --
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/config"
)

// NewClient creates a single-model LLMClient for the given model config.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}

// NewRouterFromConfig builds the rate-limited fast/powerful router from the
// full LLM section of the configuration.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fastCfg, ok := cfg.Models[cfg.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("llm.models has no entry for default_fast_model %q", cfg.DefaultFastModel)
	}
	powerfulCfg, ok := cfg.Models[cfg.DefaultPowerfulModel]
	if !ok {
		return nil, fmt.Errorf("llm.models has no entry for default_powerful_model %q", cfg.DefaultPowerfulModel)
	}

	fast, err := NewClient(fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast-tier client: %w", err)
	}
	powerful, err := NewClient(powerfulCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create powerful-tier client: %w", err)
	}

	return NewLLMRouter(logger, fast, powerful, cfg.RequestsPerSecond, cfg.Burst)
}
