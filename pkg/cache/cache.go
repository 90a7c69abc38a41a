// Package cache stores relation-type clusterings so the pairwise similarity
// pass only runs when the set of labels changes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// DefaultTTL is how long a clustering stays cached.
const DefaultTTL = 72 * time.Hour

// ClusterCache maps a label-set key to a label -> canonical label mapping.
//
// Implementations may be shared between workers. Concurrent Set calls for the
// same key are allowed; the last writer wins.
type ClusterCache interface {
	Get(ctx context.Context, key string) (map[string]string, bool, error)
	Set(ctx context.Context, key string, mapping map[string]string) error
	// Invalidate drops every cached clustering.
	Invalidate(ctx context.Context) error
}

// LabelSetKey returns the hex SHA-256 of the sorted, distinct labels. Order
// and repetition of the input do not change the key.
func LabelSetKey(labels []string) string {
	set := make(map[string]struct{}, len(labels))
	distinct := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := set[l]; ok {
			continue
		}
		set[l] = struct{}{}
		distinct = append(distinct, l)
	}
	sort.Strings(distinct)

	sum := sha256.Sum256([]byte(strings.Join(distinct, "\n")))
	return hex.EncodeToString(sum[:])
}
