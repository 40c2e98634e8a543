package query

import "strings"

// SortKey is one element of the sort parameter. A leading "-" in the raw
// value flips the direction.
type SortKey struct {
	Path string
	Desc bool
}

// ParseSort splits a comma separated sort parameter into keys. Field paths
// are validated later, when the compiler resolves them against the model
// graph.
func ParseSort(raw string) []SortKey {
	if raw == "" {
		return nil
	}
	var keys []SortKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := SortKey{Path: part}
		if strings.HasPrefix(part, "-") {
			key.Desc = true
			key.Path = part[1:]
		}
		keys = append(keys, key)
	}
	return keys
}
