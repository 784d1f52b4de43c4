package narrative

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestGeneratorGenerate(t *testing.T) {
	mock := NewMockLLM("The neon rain fell over Night City.")
	gen := NewGenerator(mock, DefaultLLMConfig())

	n, err := gen.Generate(context.Background(), "narr-1", "continue the story", []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if n.Text != "The neon rain fell over Night City." {
		t.Errorf("Text = %q", n.Text)
	}
	if n.NarrativeID != "narr-1" {
		t.Errorf("NarrativeID = %q, want narr-1", n.NarrativeID)
	}
	if n.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", n.Model)
	}
	if len(n.TrackingIDs) != 2 {
		t.Errorf("TrackingIDs = %v, want 2 ids", n.TrackingIDs)
	}
	if n.GeneratedAt.IsZero() {
		t.Error("GeneratedAt is zero")
	}
	if mock.LastPrompt != "continue the story" {
		t.Errorf("LastPrompt = %q", mock.LastPrompt)
	}
}

func TestGeneratorValidation(t *testing.T) {
	mock := NewMockLLM("text")
	gen := NewGenerator(mock, DefaultLLMConfig())
	ctx := context.Background()

	tests := []struct {
		name        string
		narrativeID string
		prompt      string
	}{
		{"missing narrative id", "", "prompt"},
		{"missing prompt", "narr-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gen.Generate(ctx, tt.narrativeID, tt.prompt, nil); !errors.Is(err, ErrGenerationFailed) {
				t.Errorf("Generate() error = %v, want ErrGenerationFailed", err)
			}
		})
	}
}

func TestGeneratorNilLLM(t *testing.T) {
	gen := NewGenerator(nil, DefaultLLMConfig())
	if _, err := gen.Generate(context.Background(), "narr-1", "prompt", nil); !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Generate() error = %v, want ErrGenerationFailed", err)
	}
}

func TestGeneratorLLMError(t *testing.T) {
	mock := NewMockLLMWithError(errors.New("rate limited"))
	gen := NewGenerator(mock, DefaultLLMConfig())

	_, err := gen.Generate(context.Background(), "narr-1", "prompt", nil)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Generate() error = %v, want ErrGenerationFailed", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should carry the cause, got %v", err)
	}
}

func TestMockLLMDefaultResponse(t *testing.T) {
	mock := &MockLLM{}
	prompt := "# User Input\n\nWhat happened to Alex?\n\n# Retrieved Evidence\n\n## main\n\n- Alex left the clinic.\n- Alex boarded the ferry.\n"

	got, err := mock.Generate(context.Background(), prompt)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(got, "What happened to Alex?") {
		t.Errorf("response should echo user input, got %q", got)
	}
	if !strings.Contains(got, "2 pieces of evidence") {
		t.Errorf("response should count evidence bullets, got %q", got)
	}
}
