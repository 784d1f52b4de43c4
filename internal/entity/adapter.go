// Package entity resolves names and filters against the structured story
// tables: characters, locations, factions, and plot threads. Matches are
// scored by match quality rather than similarity: exact or alias hits score
// 1.0, substring hits 0.9.
package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
)

const (
	exactMatchScore     = 1.0
	substringMatchScore = 0.9
)

var (
	ErrNotFound = errors.New("entity not found")
)

// Match is one scored candidate from the structured tables.
type Match struct {
	ID      int64
	Kind    string // "character", "location", "faction", "thread"
	Name    string
	Summary string
	Score   float64
	Season  int
	Episode int
}

// Relationship is one edge from a character to another.
type Relationship struct {
	OtherName string
	Kind      string
	Detail    string
}

// Snippet is a compact entity-state description used when assembling context.
type Snippet struct {
	Name          string
	Summary       string
	Relationships []Relationship
}

// Adapter executes structured lookups. It is safe for concurrent use; all
// state lives in the database.
type Adapter struct {
	db       *sql.DB
	resolver *Resolver
}

// NewAdapter creates an adapter over an already-migrated database handle.
func NewAdapter(db *sql.DB) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle cannot be nil")
	}
	a := &Adapter{db: db}
	a.resolver = NewResolver(a)
	return a, nil
}

// FindEntities looks names up across the character, location, and faction
// tables. A failure in one table's sub-query is logged and yields nothing for
// that table instead of aborting the whole call. Results are ordered by score
// descending, then id ascending, capped at k.
func (a *Adapter) FindEntities(ctx context.Context, names []string, k int) []Match {
	if k <= 0 || len(names) == 0 {
		return nil
	}

	var all []Match
	for _, table := range []struct{ name, kind string }{
		{"characters", "character"},
		{"locations", "location"},
		{"factions", "faction"},
	} {
		matches, err := a.findInTable(ctx, table.name, table.kind, names, k)
		if err != nil {
			log.Printf("[Entity] %s lookup failed, skipping: %v", table.name, err)
			continue
		}
		all = append(all, matches...)
	}

	sortMatches(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// FindThreads looks plot threads up by title substring and optional
// season/episode filters. A malformed sub-query degrades to an empty result.
func (a *Adapter) FindThreads(ctx context.Context, terms []string, season, episode *int, k int) []Match {
	if k <= 0 {
		return nil
	}

	var (
		clauses []string
		args    []any
	)
	if season != nil {
		clauses = append(clauses, "season = ?")
		args = append(args, *season)
	}
	if episode != nil {
		clauses = append(clauses, "episode = ?")
		args = append(args, *episode)
	}

	var termClauses []string
	for _, term := range terms {
		termClauses = append(termClauses, "lower(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(term)+"%")
	}
	if len(termClauses) > 0 {
		clauses = append(clauses, "("+strings.Join(termClauses, " OR ")+")")
	}

	q := "SELECT id, title, summary, COALESCE(season, 0), COALESCE(episode, 0) FROM plot_threads"
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY id LIMIT ?"
	args = append(args, k)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		log.Printf("[Entity] thread lookup failed, skipping: %v", err)
		return nil
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		m := Match{Kind: "thread", Score: substringMatchScore}
		if err := rows.Scan(&m.ID, &m.Name, &m.Summary, &m.Season, &m.Episode); err != nil {
			log.Printf("[Entity] thread row scan failed: %v", err)
			return out
		}
		out = append(out, m)
	}
	return out
}

// findInTable runs the exact and substring passes for one table.
func (a *Adapter) findInTable(ctx context.Context, table, kind string, names []string, k int) ([]Match, error) {
	seen := make(map[int64]bool)
	var out []Match

	for _, name := range names {
		lowered := strings.ToLower(strings.TrimSpace(name))
		if lowered == "" {
			continue
		}

		exact, err := a.queryMatches(ctx, table, kind, exactMatchScore, k, exactPredicate(table), lowered)
		if err != nil {
			return nil, err
		}
		for _, m := range exact {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}

		fuzzy, err := a.queryMatches(ctx, table, kind, substringMatchScore, k,
			"lower(name) LIKE '%' || ? || '%'", lowered)
		if err != nil {
			return nil, err
		}
		for _, m := range fuzzy {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// exactPredicate matches the name column exactly; the characters table also
// matches comma-separated aliases.
func exactPredicate(table string) string {
	if table == "characters" {
		return "(lower(name) = ? OR (',' || lower(aliases) || ',') LIKE '%,' || ? || ',%')"
	}
	return "lower(name) = ?"
}

func (a *Adapter) queryMatches(ctx context.Context, table, kind string, score float64, k int, predicate, lowered string) ([]Match, error) {
	args := []any{lowered}
	if strings.Count(predicate, "?") == 2 {
		args = append(args, lowered)
	}
	args = append(args, k)

	q := fmt.Sprintf("SELECT id, name, summary FROM %s WHERE %s ORDER BY id LIMIT ?", table, predicate)
	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		m := Match{Kind: kind, Score: score}
		if err := rows.Scan(&m.ID, &m.Name, &m.Summary); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Snippet assembles an entity-state snippet for a character: its summary plus
// its relationship edges. The name goes through the resolver chain, so an
// alias or a partial name finds its character.
func (a *Adapter) Snippet(ctx context.Context, name string) (*Snippet, error) {
	id, ok := a.resolver.Resolve(ctx, "character", strings.TrimSpace(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var (
		summary string
		actual  string
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT name, summary FROM characters WHERE id = ?`, id).Scan(&actual, &summary)
	if err != nil {
		return nil, fmt.Errorf("query character: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT c.name, r.kind, r.detail
		FROM character_relationships r
		JOIN characters c ON c.id = r.other_id
		WHERE r.character_id = ?
		ORDER BY r.id`, id)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	snip := &Snippet{Name: actual, Summary: summary}
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.OtherName, &rel.Kind, &rel.Detail); err != nil {
			return nil, fmt.Errorf("scan relationship row: %w", err)
		}
		snip.Relationships = append(snip.Relationships, rel)
	}
	return snip, rows.Err()
}

// KnownNames returns every canonical name and alias across the entity tables,
// used to seed the classifier's entity registry.
func (a *Adapter) KnownNames(ctx context.Context) (map[string][]string, error) {
	out := make(map[string][]string)

	rows, err := a.db.QueryContext(ctx, `SELECT name, aliases FROM characters`)
	if err != nil {
		return nil, fmt.Errorf("query character names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, aliases string
		if err := rows.Scan(&name, &aliases); err != nil {
			return nil, fmt.Errorf("scan name row: %w", err)
		}
		var parsed []string
		for _, a := range strings.Split(aliases, ",") {
			if a = strings.TrimSpace(a); a != "" {
				parsed = append(parsed, a)
			}
		}
		out[name] = parsed
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, table := range []string{"locations", "factions"} {
		nameRows, err := a.db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM %s`, table))
		if err != nil {
			return nil, fmt.Errorf("query %s names: %w", table, err)
		}
		for nameRows.Next() {
			var name string
			if err := nameRows.Scan(&name); err != nil {
				nameRows.Close()
				return nil, fmt.Errorf("scan name row: %w", err)
			}
			out[name] = nil
		}
		if err := nameRows.Err(); err != nil {
			nameRows.Close()
			return nil, err
		}
		nameRows.Close()
	}

	return out, nil
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
}
