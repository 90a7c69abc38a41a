package store

import (
	"strings"
	"unicode"
)

// MinMatchScore is the lowest MatchScore FindEntities implementations accept.
const MinMatchScore = 0.5

// Tokenize lower-cases text and splits it on everything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// MatchScore rates how well an entity name matches a lookup term, in [0,1].
// Case-insensitive equality scores 1, containment 0.8, otherwise the token
// Jaccard overlap.
func MatchScore(name, term string) float64 {
	n := strings.ToLower(strings.TrimSpace(name))
	q := strings.ToLower(strings.TrimSpace(term))
	if n == "" || q == "" {
		return 0
	}
	if n == q {
		return 1
	}
	if strings.Contains(n, q) || strings.Contains(q, n) {
		return 0.8
	}

	nt := Tokenize(n)
	qt := Tokenize(q)
	if len(nt) == 0 || len(qt) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(nt))
	for _, t := range nt {
		set[t] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(qt))
	for _, t := range qt {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
