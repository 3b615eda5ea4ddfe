package llm

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no provider model is configured.
// Callers run without assistance in that case.
var ErrNotConfigured = errors.New("llm provider not configured")

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewFromConfig builds the provider client named by cfg.Provider and wraps it
// in a circuit breaker.
func NewFromConfig(cfg *Config, breaker CircuitBreakerConfig, logger *zap.Logger) (LLMClient, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, ErrNotConfigured
	}

	var (
		client LLMClient
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		client, err = NewClient(cfg, logger)
	case ProviderAnthropic:
		client, err = NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	return NewGuardedClient(client, breaker), nil
}
