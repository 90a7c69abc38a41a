package neo4j

import (
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

// edgesFromRecords maps traversal rows onto canonical ids. Rows whose
// endpoints collapse onto one entity are dropped.
func edgesFromRecords(redirects map[string]string, records []*neo4j.Record) []store.Edge {
	out := make([]store.Edge, 0, len(records))
	for _, r := range records {
		from := common.ResolveRedirect(redirects, stringValue(r, "a"))
		to := common.ResolveRedirect(redirects, stringValue(r, "b"))
		if from == to {
			continue
		}
		out = append(out, store.Edge{
			From: from,
			To:   to,
			Rel: common.Relationship{
				SourceEntityID: common.ResolveRedirect(redirects, stringValue(r, "src")),
				TargetEntityID: common.ResolveRedirect(redirects, stringValue(r, "tgt")),
				Type:           stringValue(r, "type"),
				Weight:         floatValue(r, "weight"),
				Description:    stringValue(r, "description"),
				SourceChunkID:  stringValue(r, "source_chunk_id"),
			},
		})
	}
	return out
}

func mentionsFromRecords(redirects map[string]string, records []*neo4j.Record) []common.MentionLink {
	seen := make(map[common.MentionLink]struct{}, len(records))
	out := make([]common.MentionLink, 0, len(records))
	for _, r := range records {
		link := common.MentionLink{
			EntityID:      common.ResolveRedirect(redirects, stringValue(r, "entity_id")),
			SourceChunkID: stringValue(r, "chunk_id"),
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].SourceChunkID < out[j].SourceChunkID
	})
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
