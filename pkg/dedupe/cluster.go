// Package dedupe collapses near-duplicate entities and relation type labels
// onto canonical forms and prepares ingestion batches for the graph store.
package dedupe

import (
	"sort"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
)

// Item is one clustering input.
type Item struct {
	Key       string
	Embedding []float32
}

// Cluster groups items whose pairwise cosine similarity is at least
// threshold, transitively (single linkage), and maps every key to the
// lexicographically smallest key of its group. Items without an embedding
// stay singletons. Repeated keys keep the first non-empty embedding.
func Cluster(items []Item, threshold float64) map[string]string {
	byKey := make(map[string][]float32, len(items))
	for _, it := range items {
		if it.Key == "" {
			continue
		}
		if existing, ok := byKey[it.Key]; ok && len(existing) > 0 {
			continue
		}
		byKey[it.Key] = it.Embedding
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parent := make(map[string]string, len(keys))
	var find func(x string) string
	find = func(x string) string {
		if _, ok := parent[x]; !ok {
			parent[x] = x
		}
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(x, y string) {
		px, py := find(x), find(y)
		if px == py {
			return
		}
		if px < py {
			parent[py] = px
		} else {
			parent[px] = py
		}
	}

	for i, a := range keys {
		find(a)
		ea := byKey[a]
		if len(ea) == 0 {
			continue
		}
		for _, b := range keys[i+1:] {
			eb := byKey[b]
			if len(eb) == 0 {
				continue
			}
			if ai.CosineSimilarity(ea, eb) >= threshold {
				union(a, b)
			}
		}
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = find(k)
	}
	return out
}

// Groups inverts a Cluster mapping into canonical key -> sorted members,
// keeping only groups with more than one member.
func Groups(mapping map[string]string) map[string][]string {
	groups := make(map[string][]string)
	for k, canonical := range mapping {
		groups[canonical] = append(groups[canonical], k)
	}
	for canonical, members := range groups {
		if len(members) < 2 {
			delete(groups, canonical)
			continue
		}
		sort.Strings(members)
	}
	return groups
}
