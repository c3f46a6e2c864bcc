package storage

import (
	"maps"
	"slices"
)

// sortedKeys returns the map's keys in lexical order so encoding is stable.
func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
