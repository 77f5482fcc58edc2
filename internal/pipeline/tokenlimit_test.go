package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/internal/config"
)

// With no counter the limiter falls back to the len/4 approximation, so
// tokens(s) == len(s)/4 throughout these tests.
func text(tokens int) string { return strings.Repeat("x", tokens*4) }

func testLimiter(maxTokens, reserved, scaffold, minDocs int) *TokenLimiter {
	return NewTokenLimiter(config.TokenBudget{
		MaxTokens: maxTokens,
		Reserved:  reserved,
		MinDocs:   minDocs,
	}, scaffold, nil)
}

func TestPruneFitsUntouched(t *testing.T) {
	l := testLimiter(100, 10, 10, 1) // effective budget 80
	in := PruneInput{
		Question:  text(10),
		History:   []string{text(10), text(10)},
		Documents: [][]string{{text(10), text(10)}},
	}
	out, warn := l.Prune(in)
	assert.Nil(t, warn)
	assert.Len(t, out.History, 2)
	assert.Len(t, out.Documents[0], 2)
}

func TestPruneQuestionAloneOverBudget(t *testing.T) {
	l := testLimiter(100, 10, 10, 1)
	_, warn := l.Prune(PruneInput{Question: text(100)})
	require.NotNil(t, warn)
	assert.Equal(t, WarnInputTooLarge, warn.Code)
}

func TestPruneDropsOversizedHistoryFirst(t *testing.T) {
	l := testLimiter(100, 10, 10, 1) // budget 80, oversize threshold 40
	huge := text(50)
	small := text(10)
	in := PruneInput{
		Question: text(10),
		History:  []string{huge, small, small, small},
	}
	out, warn := l.Prune(in)
	assert.Nil(t, warn)
	assert.NotContains(t, out.History, huge)
	assert.Len(t, out.History, 3)
}

func TestPruneDropsOldestHistoryToFloor(t *testing.T) {
	l := testLimiter(100, 10, 10, 1) // budget 80
	in := PruneInput{
		Question: text(10),
		History:  []string{text(20), text(20), text(20), text(20), text(20), text(20)},
	}
	out, warn := l.Prune(in)
	assert.Nil(t, warn)
	// 10 + 3×20 = 70 fits; older messages are gone, newest survive.
	assert.Len(t, out.History, 3)
}

func TestPruneHistoryFloorHolds(t *testing.T) {
	budget := config.TokenBudget{MaxTokens: 100, Reserved: 10, MinHistoryMessages: 2, MinDocs: 0}
	l := NewTokenLimiter(budget, 10, nil)
	in := PruneInput{
		Question: text(10),
		History:  []string{text(39), text(39), text(39)},
	}
	out, warn := l.Prune(in)
	assert.Nil(t, warn)
	// Still over budget, but the floor of 2 messages is never crossed.
	assert.Len(t, out.History, 2)
}

func TestPruneTrimsDocumentsRoundRobin(t *testing.T) {
	l := testLimiter(100, 10, 10, 1) // budget 80
	in := PruneInput{
		Question: text(10),
		Documents: [][]string{
			{text(20), text(20), text(20)},
			{text(20), text(20)},
		},
	}
	out, warn := l.Prune(in)
	assert.Nil(t, warn)
	// One trim from each arm: 10 + 40 + 20 = 70.
	assert.Len(t, out.Documents[0], 2)
	assert.Len(t, out.Documents[1], 1)
}

func TestPruneTruncatesExtrasLast(t *testing.T) {
	l := testLimiter(100, 10, 10, 1) // budget 80
	in := PruneInput{
		Question: text(10),
		Extras:   map[string]string{"rubric": text(100)},
	}
	out, warn := l.Prune(in)
	assert.Nil(t, warn)
	// over = 110-80 = 30 tokens; keep 70 of 100 → 280 of 400 bytes.
	assert.Len(t, out.Extras["rubric"], 280)
}

func TestPruneExtrasCopyAndRuneBoundary(t *testing.T) {
	l := testLimiter(100, 10, 10, 1) // budget 80
	notes := "x" + strings.Repeat("é", 100) // 201 bytes → 50 tokens
	in := PruneInput{
		Question: text(40),
		Extras:   map[string]string{"notes": notes},
	}
	out, warn := l.Prune(in)
	assert.Nil(t, warn)

	// The caller's map is untouched; the cut lands on a rune boundary.
	assert.Equal(t, notes, in.Extras["notes"])
	got := out.Extras["notes"]
	assert.Less(t, len(got), len(notes))
	assert.True(t, utf8.ValidString(got))
}

func TestPruneQuestionNeverPruned(t *testing.T) {
	l := testLimiter(100, 10, 10, 0)
	q := text(70)
	in := PruneInput{
		Question:  q,
		History:   []string{text(30), text(30)},
		Documents: [][]string{{text(30)}},
	}
	out, warn := l.Prune(in)
	assert.Nil(t, warn)
	assert.Equal(t, q, out.Question)
}
