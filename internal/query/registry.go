package query

import (
	"strings"
	"sync"
)

// EntityRegistry holds the set of known entity names (and their aliases) used
// to detect entity mentions in query text. It is safe for concurrent use.
type EntityRegistry struct {
	mu sync.RWMutex
	// canonical maps a lower-cased name or alias to its canonical name.
	canonical map[string]string
}

// NewEntityRegistry creates a registry seeded with the given canonical names.
func NewEntityRegistry(names ...string) *EntityRegistry {
	r := &EntityRegistry{canonical: make(map[string]string, len(names))}
	for _, n := range names {
		r.Add(n)
	}
	return r
}

// Add registers a canonical entity name with optional aliases.
func (r *EntityRegistry) Add(name string, aliases ...string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.canonical[strings.ToLower(name)] = name
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a != "" {
			r.canonical[strings.ToLower(a)] = name
		}
	}
}

// Len returns the number of registered names and aliases.
func (r *EntityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.canonical)
}

// ExtractEntities returns the canonical names of known entities mentioned in
// raw text. Candidates are the capitalized tokens of the text, matched
// case-insensitively against registered names and aliases.
func (r *EntityRegistry) ExtractEntities(raw string) []string {
	tokens := capitalizedTokens(raw)
	if len(tokens) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var entities []string
	for _, tok := range tokens {
		name, ok := r.canonical[strings.ToLower(tok)]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		entities = append(entities, name)
	}

	return entities
}

// Contains reports whether the given name or alias is registered.
func (r *EntityRegistry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.canonical[strings.ToLower(name)]
	return ok
}
