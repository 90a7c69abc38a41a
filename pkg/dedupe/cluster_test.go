package dedupe

import (
	"testing"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCluster_TransitiveGroupsUseSmallestKey(t *testing.T) {
	// b is close to both a and c, a and c are not close to each other
	mapping := Cluster([]Item{
		{Key: "c", Embedding: unit(0.5)},
		{Key: "a", Embedding: unit(1)},
		{Key: "b", Embedding: unit(0.87)},
		{Key: "z", Embedding: []float32{-1, 0}},
	}, 0.85)

	assert.Equal(t, "a", mapping["a"])
	assert.Equal(t, "a", mapping["b"])
	assert.Equal(t, "a", mapping["c"])
	assert.Equal(t, "z", mapping["z"])
	assert.Equal(t, map[string][]string{"a": {"a", "b", "c"}}, Groups(mapping))
}

func TestCluster_MissingEmbeddingsStaySingletons(t *testing.T) {
	mapping := Cluster([]Item{
		{Key: "a", Embedding: unit(1)},
		{Key: "b"},
		{Key: "c", Embedding: unit(1)},
	}, 0.5)

	assert.Equal(t, map[string]string{"a": "a", "b": "b", "c": "a"}, mapping)
}

func TestCluster_ThresholdBoundary(t *testing.T) {
	a, b := unit(1), unit(0.9)
	sim := ai.CosineSimilarity(a, b)
	items := []Item{{Key: "b", Embedding: b}, {Key: "a", Embedding: a}}
	const eps = 1e-9

	assert.Equal(t, "a", Cluster(items, sim)["b"], "similarity equal to the threshold merges")
	assert.Equal(t, "a", Cluster(items, sim-eps)["b"])
	assert.Equal(t, "b", Cluster(items, sim+eps)["b"])
}

func TestCluster_DeterministicUnderPermutation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		items := make([]Item, n)
		for i := range items {
			items[i] = Item{
				Key:       rapid.StringMatching(`[a-f]{1,3}`).Draw(t, "key"),
				Embedding: unit(rapid.Float64Range(-1, 1).Draw(t, "sim")),
			}
		}
		threshold := rapid.Float64Range(0.5, 1).Draw(t, "threshold")

		want := Cluster(items, threshold)
		shuffled := rapid.Permutation(items).Draw(t, "perm")
		got := Cluster(shuffled, threshold)

		// repeated keys keep the first embedding, so only compare when keys are unique
		seen := map[string]int{}
		for _, it := range items {
			seen[it.Key]++
		}
		for k, c := range seen {
			if c > 1 {
				return
			}
			if want[k] != got[k] {
				t.Fatalf("key %s: %s vs %s", k, want[k], got[k])
			}
			if want[k] > k {
				t.Fatalf("canonical %s is not the smallest key of %s's group", want[k], k)
			}
		}
	})
}
