// Package narrative wraps the text-generation LLM used to continue the story.
// It defines a provider-agnostic LLM interface with a concrete OpenAI
// implementation and deterministic mocks for testing, assembles prompts from
// budgeted context packages, and scores how well a generated narrative used
// the evidence it was given.
package narrative

import (
	"context"
	"errors"
)

var (
	ErrLLMFailed     = errors.New("LLM request failed")
	ErrInvalidConfig = errors.New("invalid LLM configuration")
)

// LLM is the text-generation capability. Implementations must be stateless
// and safe for concurrent use.
type LLM interface {
	// Generate produces text from a prompt using the configured model.
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMConfig configures a generation provider.
type LLMConfig struct {
	// Model is the provider's model identifier (e.g. "gpt-4o").
	Model string

	// Temperature controls sampling randomness; 0 uses the provider default.
	Temperature float32

	// MaxTokens caps the response length; 0 uses the provider default.
	MaxTokens int

	// APIKey overrides the OPENAI_API_KEY environment variable.
	APIKey string
}

// DefaultLLMConfig returns the defaults used for narrative generation.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:     "gpt-4o",
		MaxTokens: 2000,
	}
}
