package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ResolveFunc is one resolution strategy: map an entity kind and name to a
// row id. Strategies are pure lookups; a miss is (0, false, nil).
type ResolveFunc func(ctx context.Context, kind, name string) (int64, bool, error)

// Resolver tries an ordered list of strategies until one succeeds.
type Resolver struct {
	strategies []ResolveFunc
}

// NewResolver builds the default strategy chain for an adapter: exact name,
// then alias, then substring.
func NewResolver(a *Adapter) *Resolver {
	return &Resolver{
		strategies: []ResolveFunc{
			a.resolveExact,
			a.resolveAlias,
			a.resolveSubstring,
		},
	}
}

// Resolve returns the first id any strategy finds. Strategy errors are
// swallowed into the chain: a failing strategy behaves like a miss.
func (r *Resolver) Resolve(ctx context.Context, kind, name string) (int64, bool) {
	for _, strategy := range r.strategies {
		id, ok, err := strategy(ctx, kind, name)
		if err != nil {
			continue
		}
		if ok {
			return id, true
		}
	}
	return 0, false
}

func tableFor(kind string) (string, error) {
	switch kind {
	case "character":
		return "characters", nil
	case "location":
		return "locations", nil
	case "faction":
		return "factions", nil
	}
	return "", fmt.Errorf("unknown entity kind %q", kind)
}

func (a *Adapter) resolveExact(ctx context.Context, kind, name string) (int64, bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, false, err
	}

	var id int64
	err = a.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE lower(name) = ? ORDER BY id LIMIT 1", table),
		strings.ToLower(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (a *Adapter) resolveAlias(ctx context.Context, kind, name string) (int64, bool, error) {
	if kind != "character" {
		return 0, false, nil
	}

	var id int64
	err := a.db.QueryRowContext(ctx, `
		SELECT id FROM characters
		WHERE (',' || lower(aliases) || ',') LIKE '%,' || ? || ',%'
		ORDER BY id LIMIT 1`,
		strings.ToLower(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (a *Adapter) resolveSubstring(ctx context.Context, kind, name string) (int64, bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, false, err
	}

	var id int64
	err = a.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE lower(name) LIKE '%%' || ? || '%%' ORDER BY id LIMIT 1", table),
		strings.ToLower(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
