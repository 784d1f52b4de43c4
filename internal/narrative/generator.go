package narrative

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrGenerationFailed = errors.New("narrative generation failed")
)

// Narrative represents one generated story continuation.
type Narrative struct {
	// NarrativeID identifies this generation for quality feedback
	NarrativeID string `json:"narrative_id"`

	// Text is the generated narrative content
	Text string `json:"text"`

	// GeneratedAt is when this narrative was created
	GeneratedAt time.Time `json:"generated_at"`

	// Model is the LLM model used to generate this narrative
	Model string `json:"model"`

	// TrackingIDs are the retrieval tracking ids of the evidence that went
	// into the prompt, carried so quality scores can be fed back.
	TrackingIDs []string `json:"tracking_ids,omitempty"`
}

// Generator produces narratives using an LLM. It invokes the LLM on an
// already-assembled prompt; retrieval and budgeting happen upstream.
type Generator struct {
	llm    LLM
	config LLMConfig
}

// NewGenerator creates a narrative generator with the given LLM implementation.
func NewGenerator(llm LLM, config LLMConfig) *Generator {
	return &Generator{
		llm:    llm,
		config: config,
	}
}

// Generate creates a narrative by invoking the LLM with an already-assembled
// prompt. It must not perform retrieval or prompt construction.
func (g *Generator) Generate(ctx context.Context, narrativeID string, prompt string, trackingIDs []string) (*Narrative, error) {
	if g.llm == nil {
		return nil, fmt.Errorf("%w: LLM is required", ErrGenerationFailed)
	}
	if narrativeID == "" {
		return nil, fmt.Errorf("%w: narrative ID is required", ErrGenerationFailed)
	}
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrGenerationFailed)
	}

	text, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: LLM invocation failed: %w", ErrGenerationFailed, err)
	}

	return &Narrative{
		NarrativeID: narrativeID,
		Text:        text,
		GeneratedAt: time.Now(),
		Model:       g.config.Model,
		TrackingIDs: trackingIDs,
	}, nil
}
