package query

import "testing"

func TestRegistryExtractEntities(t *testing.T) {
	registry := NewEntityRegistry("Alex", "Emilia", "Sullivan")
	registry.Add("Dr. Nyati", "Nyati")

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single mention", "What happened to Alex?", []string{"Alex"}},
		{"alias resolves to canonical", "Where did Nyati go?", []string{"Dr. Nyati"}},
		{"multiple mentions preserve order", "Did Emilia trust Alex?", []string{"Emilia", "Alex"}},
		{"unknown capitalized words ignored", "The Kraken attacked Norway", nil},
		{"duplicate mentions deduplicated", "Alex asked Alex-related questions", []string{"Alex"}},
		{"no capitalized tokens", "continue the story", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := registry.ExtractEntities(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractEntities(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ExtractEntities(%q)[%d] = %s, want %s", tt.text, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRegistryContains(t *testing.T) {
	registry := NewEntityRegistry("Alex")
	registry.Add("Emilia", "Em")

	if !registry.Contains("alex") {
		t.Error("Contains should be case-insensitive")
	}
	if !registry.Contains("Em") {
		t.Error("Contains should match aliases")
	}
	if registry.Contains("Pete") {
		t.Error("Contains matched an unregistered name")
	}
	if registry.Len() != 3 {
		t.Errorf("Len = %d, want 3", registry.Len())
	}
}
