package utils

import "strings"

// ToStringSlice returns the non-blank string members of a decoded JSON array,
// deduplicated in first-seen order.
func ToStringSlice(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return UnionOrdered(nil, out...)
}

// UnionOrdered appends each member of added not already present, keeping first-seen order.
// The result never aliases existing.
func UnionOrdered(existing []string, added ...string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Without returns existing minus every member of removed, order preserved.
func Without(existing []string, removed ...string) []string {
	drop := make(map[string]struct{}, len(removed))
	for _, s := range removed {
		drop[s] = struct{}{}
	}
	out := make([]string, 0, len(existing))
	for _, s := range existing {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// SplitScope turns a space-delimited OAuth scope string into its members.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}
