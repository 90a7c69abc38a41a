package dedupe

import (
	"sort"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
)

// DedupeRelationships rewrites endpoints through redirects and types through
// typeMap, then keeps one relationship per key with the highest weight.
// Edges whose endpoints collapse onto one entity are dropped. The result is
// sorted by (source, target, type).
func DedupeRelationships(rels []common.Relationship, redirects map[string]string, typeMap map[string]string) []common.Relationship {
	best := make(map[common.RelationshipKey]common.Relationship, len(rels))
	for _, r := range rels {
		r.SourceEntityID = common.ResolveRedirect(redirects, r.SourceEntityID)
		r.TargetEntityID = common.ResolveRedirect(redirects, r.TargetEntityID)
		if r.SourceEntityID == r.TargetEntityID {
			continue
		}
		if t, ok := typeMap[r.Type]; ok && t != "" {
			r.Type = t
		}
		r = r.Canonical()
		key := r.Key()
		if existing, ok := best[key]; ok && existing.Weight >= r.Weight {
			continue
		}
		best[key] = r
	}

	out := make([]common.Relationship, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceEntityID != b.SourceEntityID {
			return a.SourceEntityID < b.SourceEntityID
		}
		if a.TargetEntityID != b.TargetEntityID {
			return a.TargetEntityID < b.TargetEntityID
		}
		return a.Type < b.Type
	})
	return out
}
