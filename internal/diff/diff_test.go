package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -10,3 +10,4 @@ func main() {
 	a := 1
-	b := 2
+	b := 3
+	c := 4
 	fmt.Println(a, b)
@@ -30,2 +31,3 @@ func helper() {
 	x := 1
+	y := 2
 	}
diff --git a/docs/notes.md b/docs/notes.md
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/docs/notes.md
@@ -0,0 +1,2 @@
+hello
+world
diff --git a/old.txt b/old.txt
deleted file mode 100644
index 4444444..0000000
--- a/old.txt
+++ /dev/null
@@ -1,2 +0,0 @@
-gone
-gone too`

func TestParseCommentableLines(t *testing.T) {
	lines := ParseCommentableLines(sampleDiff)

	require.Contains(t, lines, "main.go")
	require.Contains(t, lines, "docs/notes.md")
	require.Contains(t, lines, "old.txt")

	// First hunk: context at 10, additions at 11 and 12, context at 13.
	for _, n := range []int{10, 11, 12, 13} {
		assert.True(t, lines.IsCommentable("main.go", n), "main.go:%d", n)
	}
	// The deletion does not produce a right-side line.
	assert.False(t, lines.IsCommentable("main.go", 14))

	// Second hunk resets the counter to 31.
	for _, n := range []int{31, 32, 33} {
		assert.True(t, lines.IsCommentable("main.go", n), "main.go:%d", n)
	}
	assert.False(t, lines.IsCommentable("main.go", 20))

	// New file: both added lines.
	assert.True(t, lines.IsCommentable("docs/notes.md", 1))
	assert.True(t, lines.IsCommentable("docs/notes.md", 2))

	// Deleted file has no commentable lines at all.
	assert.Empty(t, lines["old.txt"])
}

func TestParseCommentableLinesEmptyDiff(t *testing.T) {
	assert.Empty(t, ParseCommentableLines(""))
}

func TestIsCommentableUnknownPath(t *testing.T) {
	lines := ParseCommentableLines(sampleDiff)
	assert.False(t, lines.IsCommentable("unknown.go", 1))
}

func TestNearest(t *testing.T) {
	lines := CommentableLines{
		"a.go": {3: true, 7: true},
	}

	t.Run("exact hit", func(t *testing.T) {
		got, ok := lines.Nearest("a.go", 7, DefaultMaxSnapDistance)
		require.True(t, ok)
		assert.Equal(t, 7, got)
	})

	t.Run("snaps within distance", func(t *testing.T) {
		got, ok := lines.Nearest("a.go", 8, DefaultMaxSnapDistance)
		require.True(t, ok)
		assert.Equal(t, 7, got)
	})

	t.Run("tie prefers downward", func(t *testing.T) {
		// Line 5 is 2 away from both 3 and 7.
		got, ok := lines.Nearest("a.go", 5, DefaultMaxSnapDistance)
		require.True(t, ok)
		assert.Equal(t, 7, got)
	})

	t.Run("beyond max distance", func(t *testing.T) {
		_, ok := lines.Nearest("a.go", 20, DefaultMaxSnapDistance)
		assert.False(t, ok)
	})

	t.Run("unknown path", func(t *testing.T) {
		_, ok := lines.Nearest("b.go", 3, DefaultMaxSnapDistance)
		assert.False(t, ok)
	})

	t.Run("never snaps below line one", func(t *testing.T) {
		single := CommentableLines{"a.go": {1: true}}
		got, ok := single.Nearest("a.go", 2, DefaultMaxSnapDistance)
		require.True(t, ok)
		assert.Equal(t, 1, got)
	})
}

func TestChangedPaths(t *testing.T) {
	paths := ChangedPaths(sampleDiff)
	assert.Equal(t, []string{"main.go", "docs/notes.md", "old.txt"}, paths)
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, LineCount(""))
	assert.Equal(t, 1, LineCount("one line"))
	assert.Equal(t, 3, LineCount("a\nb\nc"))
}
