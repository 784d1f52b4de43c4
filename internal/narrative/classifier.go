package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/pythagorakase/nexus-sub005/internal/query"
)

const classifierPromptTemplate = `Classify the following story query into exactly one category.

Categories:
- character: about a specific person (who they are, their state, motivations)
- location: about a place or setting
- event: about something that happened
- relationship: about how people relate to each other
- theme: about recurring ideas, arcs, or strategic threads
- narrative: open-ended, atmospheric, or anything that fits no other category

Query: %s

Respond with only the category name, lowercase, no punctuation.`

// LLMClassifier classifies queries by asking a language model. It backs the
// router's keyword matchers: it is only consulted when no matcher fires.
type LLMClassifier struct {
	llm LLM
}

// NewLLMClassifier wraps an LLM as a query classifier.
func NewLLMClassifier(llm LLM) *LLMClassifier {
	return &LLMClassifier{llm: llm}
}

// Classify asks the model for the query's category. Any response that is not
// a known category is an error; the caller falls back to its own default.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (query.QueryType, error) {
	prompt := fmt.Sprintf(classifierPromptTemplate, text)

	response, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("classification failed: %w", err)
	}

	qt := query.QueryType(strings.ToLower(strings.TrimSpace(response)))
	if !qt.Valid() {
		return "", fmt.Errorf("%w: unrecognized category %q", ErrLLMFailed, response)
	}
	return qt, nil
}
