// Package diff parses unified diffs into the line sets that inline
// review comments may target, snaps findings onto commentable lines,
// and filters diff sections by path glob.
package diff

import (
	"regexp"
	"strings"
)

// DefaultMaxSnapDistance bounds how far a finding may be moved to reach
// a commentable line before it is demoted to the review body.
const DefaultMaxSnapDistance = 3

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// CommentableLines maps a file path to the set of right-side line
// numbers that can carry an inline comment. Context lines and
// additions qualify; deletions only exist on the left side.
type CommentableLines map[string]map[int]bool

// ParseCommentableLines walks a unified diff and collects, per file,
// every right-side line number present in a hunk.
func ParseCommentableLines(diff string) CommentableLines {
	result := make(CommentableLines)

	var path string
	rightLine := 0
	inHunk := false

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git"):
			path = newFilePath(line)
			inHunk = false
			if path != "" && result[path] == nil {
				result[path] = make(map[int]bool)
			}

		case strings.HasPrefix(line, "@@"):
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				inHunk = false
				continue
			}
			rightLine = atoi(m[3])
			inHunk = true

		case !inHunk || path == "":
			// File header lines (---, +++, index, mode) and
			// anything outside a hunk.

		case strings.HasPrefix(line, "+"):
			result[path][rightLine] = true
			rightLine++

		case strings.HasPrefix(line, "-"):
			// Left side only, no right-line advance.

		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file"

		default:
			// Context line, present on both sides.
			result[path][rightLine] = true
			rightLine++
		}
	}
	return result
}

// IsCommentable reports whether path:line can carry an inline comment.
func (c CommentableLines) IsCommentable(path string, line int) bool {
	lines, ok := c[path]
	return ok && lines[line]
}

// Nearest returns the commentable line closest to line within
// maxDistance. The target itself wins; on equal distance the downward
// candidate (line+d) is preferred. The bool is false when no line
// qualifies, which makes the finding an orphan.
func (c CommentableLines) Nearest(path string, line, maxDistance int) (int, bool) {
	lines, ok := c[path]
	if !ok {
		return 0, false
	}
	if lines[line] {
		return line, true
	}
	for d := 1; d <= maxDistance; d++ {
		if lines[line+d] {
			return line + d, true
		}
		if line-d >= 1 && lines[line-d] {
			return line - d, true
		}
	}
	return 0, false
}

// ChangedPaths returns the new-file path of every section in the diff,
// in order of appearance.
func ChangedPaths(diff string) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "diff --git") {
			continue
		}
		if p := newFilePath(line); p != "" && !seen[p] {
			paths = append(paths, p)
			seen[p] = true
		}
	}
	return paths
}

// LineCount returns the number of lines in the diff text. The review
// size limit compares against this count after path filtering.
func LineCount(diff string) int {
	if diff == "" {
		return 0
	}
	return strings.Count(diff, "\n") + 1
}

// newFilePath extracts the b-side path from a "diff --git a/x b/y"
// header. The b side still names the file for deletions, unlike the
// "+++" header which reads /dev/null there.
func newFilePath(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) < 4 {
		return ""
	}
	return strings.TrimPrefix(parts[3], "b/")
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
