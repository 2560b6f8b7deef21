package routing

/*
 * Field path resolution for lead records.
 *
 * A path is a dotted string ("price", "emails.0.value", "tags.1.name").
 * Each segment indexes into a map by key or, when the segment is numeric,
 * into a list by position. Resolution is total: any missing key, index out
 * of range, or attempt to descend through a scalar yields Null. Malformed
 * paths are not errors, they are absent fields.
 *
 * MaxPathDepth bounds recursion so hostile rule definitions cannot build
 * pathological paths.
 */

import (
	"strconv"
	"strings"
)

// MaxPathDepth limits field path segments. 16 levels handles deeply nested
// records without unbounded traversal cost per condition.
const MaxPathDepth = 16

// SplitPath breaks a dotted path into segments. Empty segments from leading,
// trailing, or doubled dots are dropped so "a..b." resolves like "a.b".
func SplitPath(path string) []string {
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve walks the record along the dotted path. Returns Null for any form
// of miss; never errors, never panics.
func Resolve(record Value, path string) Value {
	segments := SplitPath(path)
	if len(segments) > MaxPathDepth {
		return Null()
	}
	current := record
	for _, seg := range segments {
		switch current.Kind() {
		case KindMap:
			current = current.Key(seg)
		case KindList:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return Null()
			}
			current = current.Index(idx)
		default:
			// Scalar or null with path remaining: the field does not exist.
			return Null()
		}
	}
	return current
}
