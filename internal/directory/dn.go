package directory

import "strings"

// SplitPath splits a hierarchical path into its components, honoring
// backslash-escaped separators inside component values
// ("CN=Smith\, John,OU=Sales" has two components). It returns nil for
// paths it cannot decompose cleanly: empty input, empty components, or a
// dangling escape at the end of the string. Callers treat nil as "no
// group membership" rather than an error.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}

	var parts []string
	var b strings.Builder
	escaped := false
	for _, r := range path {
		switch {
		case escaped:
			b.WriteRune('\\')
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			parts = append(parts, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		// Dangling escape: the path is corrupt.
		return nil
	}
	parts = append(parts, strings.TrimSpace(b.String()))

	for _, p := range parts {
		if p == "" {
			return nil
		}
	}
	return parts
}

// JoinPath is the inverse of SplitPath for already-escaped components.
func JoinPath(components []string) string {
	return strings.Join(components, ",")
}

// AncestorSuffixes returns every component-boundary suffix of path,
// longest first and lowercased: the full path, then each ancestor group.
// A path that does not split returns nil.
func AncestorSuffixes(path string) []string {
	parts := SplitPath(path)
	if parts == nil {
		return nil
	}
	suffixes := make([]string, 0, len(parts))
	for i := range parts {
		suffixes = append(suffixes, strings.ToLower(JoinPath(parts[i:])))
	}
	return suffixes
}
