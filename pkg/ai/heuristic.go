package ai

import (
	"context"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
)

var (
	reNestedClause = regexp.MustCompile(`(?i)\b(the|a|an)\s+\w+(\s+\w+)?\s+(that|which|who|whose|where)\s+\w+`)
	reConjunction  = regexp.MustCompile(`(?i)\s+(and|as well as|versus|vs\.?|compared to)\s+`)
)

// HeuristicClassifier labels queries with regular expressions. It is used
// when no LLM is configured and as a cheap first opinion in tests.
type HeuristicClassifier struct{}

// Classify implements QueryClassifier. Relative clauses hanging off a noun
// ("the company that built X") mark MULTI_HOP, coordinated questions mark
// COMPOUND, everything else is SIMPLE.
func (HeuristicClassifier) Classify(_ context.Context, query string) (common.QueryType, error) {
	q := strings.TrimSpace(query)
	switch {
	case reNestedClause.MatchString(q):
		return common.QueryMultiHop, nil
	case strings.Count(q, "?") > 1 || reConjunction.MatchString(q):
		return common.QueryCompound, nil
	default:
		return common.QuerySimple, nil
	}
}

// Decompose implements QueryDecomposer for COMPOUND queries by splitting on
// question marks and coordinating conjunctions. Other query types are
// returned unchanged as a single sub-query.
func (HeuristicClassifier) Decompose(_ context.Context, query string, queryType common.QueryType) ([]string, error) {
	if queryType != common.QueryCompound {
		return []string{strings.TrimSpace(query)}, nil
	}
	var parts []string
	for _, sentence := range strings.Split(query, "?") {
		for _, p := range reConjunction.Split(sentence, -1) {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	if len(parts) == 0 {
		return []string{strings.TrimSpace(query)}, nil
	}
	return parts, nil
}
