package topic

import "strings"

// NormalizedName is the canonical dedup key for topic names. Two topics for
// the same user must never share a NormalizedName after reconciliation.
type NormalizedName string

// Normalize lower-cases, trims, collapses internal whitespace, and folds
// "&" into "and" so "Language Learning & Practice" and
// "Language Learning and Practice" collide.
func Normalize(name string) NormalizedName {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "&", "and")
	return NormalizedName(strings.Join(strings.Fields(s), " "))
}
