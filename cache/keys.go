package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// ResourceKey builds the cache key for one read of a resource type. The
// query string is canonicalized (parameters and repeated values sorted) so
// equivalent requests share a key, and hashed so hostile query strings
// cannot grow keys without bound.
func ResourceKey(resourceType, path string, query url.Values) string {
	var parts []string
	parts = append(parts, path)

	var queryParts []string
	for key, values := range query {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		for _, value := range sorted {
			queryParts = append(queryParts, key+"="+value)
		}
	}
	sort.Strings(queryParts)
	parts = append(parts, strings.Join(queryParts, "&"))

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return TypePrefix(resourceType) + hex.EncodeToString(sum[:])
}

// TypePrefix returns the key prefix under which every read of a resource
// type is stored. Write invalidation deletes this prefix.
func TypePrefix(resourceType string) string {
	return resourceType + ":"
}
