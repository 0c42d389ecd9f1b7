package diff

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FilterDiff strips whole-file sections whose new-file path matches
// any of the given globs and returns the remaining diff text.
func FilterDiff(diff string, globs []string) string {
	if len(globs) == 0 || diff == "" {
		return diff
	}

	var result strings.Builder
	var section strings.Builder
	include := true

	flush := func() {
		if include && section.Len() > 0 {
			result.WriteString(section.String())
		}
		section.Reset()
	}

	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "diff --git") {
			flush()
			include = !MatchesAny(newFilePath(line), globs)
		}
		section.WriteString(line)
		section.WriteString("\n")
	}
	flush()

	return strings.TrimSuffix(result.String(), "\n")
}

// FindSecurityPaths returns the changed paths that match any of the
// security globs, sorted for stable prompt output.
func FindSecurityPaths(diff string, globs []string) []string {
	if len(globs) == 0 {
		return nil
	}
	var matched []string
	for _, path := range ChangedPaths(diff) {
		if MatchesAny(path, globs) {
			matched = append(matched, path)
		}
	}
	sort.Strings(matched)
	return matched
}

// MatchesAny reports whether path matches at least one glob. '*'
// matches within a path segment, '**' across segments; every other
// glob metacharacter is treated literally.
func MatchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(sanitizeGlob(g), path); err == nil && ok {
			return true
		}
	}
	return false
}

// sanitizeGlob escapes the doublestar metacharacters other than '*'
// so that only star patterns are special.
func sanitizeGlob(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
