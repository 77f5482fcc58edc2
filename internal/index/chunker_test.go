package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTextShortInput(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, SplitText("  hello world \n", 100, 10))
	assert.Nil(t, SplitText("", 100, 10))
	assert.Nil(t, SplitText("   \n  ", 100, 10))
	assert.Nil(t, SplitText("anything", 0, 0))
}

func TestSplitTextPrefersWordBoundary(t *testing.T) {
	chunks := SplitText("aaaa bbbb cccc", 10, 0)
	assert.Equal(t, []string{"aaaa bbbb", "cccc"}, chunks)
}

func TestSplitTextPrefersParagraphBoundary(t *testing.T) {
	text := "first paragraph here\n\nsecond one"
	chunks := SplitText(text, 24, 0)
	assert.Equal(t, "first paragraph here", chunks[0])
}

func TestSplitTextOverlap(t *testing.T) {
	text := strings.Repeat("word ", 100)
	chunks := SplitText(text, 50, 10)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 50)
		assert.NotEmpty(t, c)
	}
	// Consecutive chunks share text from the overlap window.
	assert.True(t, strings.HasPrefix(chunks[1], "word"))
}

func TestSplitTextAlwaysTerminates(t *testing.T) {
	// No separators at all: hard cuts, overlap clamped below size.
	chunks := SplitText(strings.Repeat("x", 25), 10, 15)
	var total string
	for _, c := range chunks {
		total += c
	}
	assert.Contains(t, total, "xxxxx")
}
