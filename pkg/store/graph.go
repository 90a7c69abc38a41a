package store

import (
	"context"
	"sort"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
)

// Edge is a relationship seen from one endpoint. From and To are canonical
// ids; Rel keeps the stored direction.
type Edge struct {
	From string
	To   string
	Rel  common.Relationship
}

// EdgeFunc returns the edges touching any of the given canonical ids, in
// both directions, with From set to the frontier side.
type EdgeFunc func(ctx context.Context, frontier []string) ([]Edge, error)

// EntityFunc loads canonical entities by id.
type EntityFunc func(ctx context.Context, ids []string) (map[string]common.Entity, error)

// WalkNeighbors runs a level-by-level traversal from canonical seed ids for
// up to hops levels and at most limit neighbours (0 means unbounded). Each
// entity is reported once, on the first shortest path found. Edges are
// visited in (to, type, weight desc) order so results are deterministic.
func WalkNeighbors(ctx context.Context, seedIDs []string, hops int, limit int, edges EdgeFunc, entities EntityFunc) ([]Neighbor, error) {
	if hops <= 0 || len(seedIDs) == 0 {
		return nil, nil
	}
	seeds := DedupeStrings(seedIDs)
	sort.Strings(seeds)
	seedEntities, err := entities(ctx, seeds)
	if err != nil {
		return nil, err
	}

	type node struct {
		id   string
		seed string
		path []string
	}

	visited := make(map[string]struct{})
	frontier := make([]node, 0, len(seeds))
	for _, id := range seeds {
		e, ok := seedEntities[id]
		if !ok {
			continue
		}
		visited[id] = struct{}{}
		frontier = append(frontier, node{id: id, seed: id, path: []string{e.CanonicalName}})
	}

	out := make([]Neighbor, 0)
	for depth := 1; depth <= hops && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ids := make([]string, len(frontier))
		for i, n := range frontier {
			ids[i] = n.id
		}
		found, err := edges(ctx, ids)
		if err != nil {
			return nil, err
		}

		byFrom := make(map[string][]Edge)
		candidates := make([]string, 0)
		for _, e := range found {
			if e.From == e.To {
				continue
			}
			byFrom[e.From] = append(byFrom[e.From], e)
			if _, seen := visited[e.To]; !seen {
				candidates = append(candidates, e.To)
			}
		}
		for from := range byFrom {
			list := byFrom[from]
			sort.Slice(list, func(i, j int) bool {
				if list[i].To != list[j].To {
					return list[i].To < list[j].To
				}
				if list[i].Rel.Type != list[j].Rel.Type {
					return list[i].Rel.Type < list[j].Rel.Type
				}
				return list[i].Rel.Weight > list[j].Rel.Weight
			})
		}

		reached, err := entities(ctx, DedupeStrings(candidates))
		if err != nil {
			return nil, err
		}

		next := make([]node, 0)
		for _, n := range frontier {
			for _, e := range byFrom[n.id] {
				if _, seen := visited[e.To]; seen {
					continue
				}
				ent, ok := reached[e.To]
				if !ok {
					continue
				}
				visited[e.To] = struct{}{}
				path := append(append([]string(nil), n.path...), ent.CanonicalName)
				out = append(out, Neighbor{Entity: ent, SeedID: n.seed, Hops: depth, Path: path, Via: e.Rel})
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
				next = append(next, node{id: e.To, seed: n.seed, path: path})
			}
		}
		frontier = next
	}
	return out, nil
}

// MergeRedirects applies updates on top of existing and returns the result
// with every chain compressed to its final canonical id. An update that
// points back at an id already merged into it flips that redirect, so the
// result never contains a cycle or a self-redirect.
func MergeRedirects(existing, updates map[string]string) map[string]string {
	merged := make(map[string]string, len(existing)+len(updates))
	for k, v := range existing {
		if k != v && common.ResolveRedirect(existing, v) != k {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, oldID := range keys {
		canonical := updates[oldID]
		if oldID == canonical {
			continue
		}
		delete(merged, oldID)
		if common.ResolveRedirect(merged, canonical) == oldID {
			delete(merged, canonical)
		}
		merged[oldID] = canonical
	}

	out := make(map[string]string, len(merged))
	for k := range merged {
		if target := common.ResolveRedirect(merged, k); target != k {
			out[k] = target
		}
	}
	return out
}

// Aliases inverts a compressed redirect map: canonical id -> ids merged
// into it, including the canonical id itself.
func Aliases(redirects map[string]string, ids []string) map[string][]string {
	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		out[id] = []string{id}
	}
	for oldID, canonical := range redirects {
		if _, ok := out[canonical]; ok {
			out[canonical] = append(out[canonical], oldID)
		}
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out
}
