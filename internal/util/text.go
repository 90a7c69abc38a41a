package util

import (
	"strings"
	"unicode"
)

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, which Postgres text
// columns reject.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}
	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// NormalizeLabel trims a label and collapses inner whitespace runs to one space.
func NormalizeLabel(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// NormalizeRelationType upper-cases a relation type label and joins its words
// with underscores ("starred in" -> "STARRED_IN").
func NormalizeRelationType(value string) string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})
	return strings.ToUpper(strings.Join(fields, "_"))
}

// DedupeFold returns the non-empty values of in with case-insensitive
// duplicates removed, keeping the first spelling of each.
func DedupeFold(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = NormalizeLabel(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
