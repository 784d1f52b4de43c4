package narrative

import (
	"context"
	"fmt"
	"strings"
)

// MockLLM is a deterministic LLM implementation for testing.
// It returns predictable responses based on prompt content.
type MockLLM struct {
	// Response is the fixed text returned by Generate.
	// If empty, a default response is generated from the prompt.
	Response string

	// Error, if set, is returned by Generate instead of a response.
	Error error

	// LastPrompt stores the most recent prompt passed to Generate.
	LastPrompt string
}

// NewMockLLM creates a mock LLM with the given fixed response.
func NewMockLLM(response string) *MockLLM {
	return &MockLLM{Response: response}
}

// NewMockLLMWithError creates a mock LLM that always returns an error.
func NewMockLLMWithError(err error) *MockLLM {
	return &MockLLM{Error: err}
}

// Generate returns the configured response or generates a deterministic one.
func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.LastPrompt = prompt

	if m.Error != nil {
		return "", m.Error
	}

	if m.Response != "" {
		return m.Response, nil
	}

	return generateMockResponse(prompt), nil
}

// generateMockResponse creates a predictable continuation from the prompt:
// it echoes the user input and weaves in the first evidence bullet so tests
// can verify their content reached the LLM.
func generateMockResponse(prompt string) string {
	var b strings.Builder

	userInput := sectionAfter(prompt, "# User Input")
	evidence := countEvidenceBullets(prompt)

	b.WriteString(fmt.Sprintf("Responding to %q, ", strings.TrimSpace(firstLine(userInput))))
	b.WriteString(fmt.Sprintf("the story continues across %d pieces of evidence. ", evidence))
	b.WriteString("The crew pressed on, carrying the weight of what they had learned.")

	return b.String()
}

// sectionAfter returns the text following a markdown header, up to the next
// header or the end of the prompt.
func sectionAfter(prompt, header string) string {
	idx := strings.Index(prompt, header)
	if idx < 0 {
		return ""
	}
	remainder := prompt[idx+len(header):]
	if next := strings.Index(remainder, "\n# "); next >= 0 {
		remainder = remainder[:next]
	}
	return strings.TrimSpace(remainder)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func countEvidenceBullets(prompt string) int {
	section := sectionAfter(prompt, "# Retrieved Evidence")
	count := 0
	for _, line := range strings.Split(section, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "- ") {
			count++
		}
	}
	return count
}
