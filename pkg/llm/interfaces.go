// Package llm is the boundary to the external text-generation provider used for
// assisted column mapping and narrative reports.
package llm

import (
	"context"
)

// LLMClient generates a single chat completion from a system and user message.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse returns the raw text of one completion.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// GenerateResponseResult is the text and token usage of one completion.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*GuardedClient)(nil)
)
