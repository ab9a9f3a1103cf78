package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Join builds a store path from segments. Empty segments are skipped.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split returns the segments of a path. The root path has no segments.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Parent returns the parent path, or "" for top-level nodes.
func Parent(path string) string {
	segs := Split(path)
	if len(segs) <= 1 {
		return ""
	}
	return strings.Join(segs[:len(segs)-1], "/")
}

// IsAncestor reports whether a is a proper ancestor of b.
func IsAncestor(a, b string) bool {
	a, b = strings.Trim(a, "/"), strings.Trim(b, "/")
	if a == b {
		return false
	}
	if a == "" {
		return true
	}
	return strings.HasPrefix(b, a+"/")
}

var (
	keyEscaper = strings.NewReplacer(
		"%", "%25", ".", "%2E", "#", "%23", "$", "%24", "[", "%5B", "]", "%5D", "/", "%2F",
	)
	keyUnescaper = strings.NewReplacer(
		"%25", "%", "%2E", ".", "%23", "#", "%24", "$", "%5B", "[", "%5D", "]", "%2F", "/",
	)
)

// SafeKey makes a user-supplied value usable as a single path segment.
// The hosted database rejects . # $ [ ] and / in keys; they are
// percent-escaped, along with % itself, so distinct values never share a key.
func SafeKey(s string) string {
	return keyEscaper.Replace(strings.TrimSpace(s))
}

// UnsafeKey reverses SafeKey.
func UnsafeKey(key string) string {
	return keyUnescaper.Replace(key)
}

// ValidateWrites checks a multi-path update before it is applied.
func ValidateWrites(w Writes) error {
	if len(w) == 0 {
		return ErrEmptyUpdate
	}
	paths := make([]string, 0, len(w))
	for p := range w {
		if len(Split(p)) == 0 {
			return fmt.Errorf("%w: root path in multi-path update", ErrInvalidPath)
		}
		paths = append(paths, strings.Trim(p, "/"))
	}
	sort.Strings(paths)
	for i, a := range paths {
		for _, b := range paths[i+1:] {
			if a == b || IsAncestor(a, b) {
				return &OverlapError{Ancestor: a, Descendant: b}
			}
		}
	}
	return nil
}
