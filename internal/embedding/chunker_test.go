package embedding

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ShortTextIsSingleChunk(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, Chunk("  hello world \n", 100))
	assert.Nil(t, Chunk("   ", 100))
	assert.Equal(t, []string{"no limit"}, Chunk("no limit", 0))
}

func TestChunk_PacksParagraphs(t *testing.T) {
	text := "alpha one.\n\nbeta two.\n\ngamma three."
	chunks := Chunk(text, 22)
	assert.Equal(t, []string{"alpha one.\n\nbeta two.", "gamma three."}, chunks)
}

func TestChunk_LongParagraphSplitsOnSentences(t *testing.T) {
	text := "First sentence here. Second sentence here! Third one? Fourth."
	chunks := Chunk(text, 25)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 25, c)
	}
	assert.Equal(t, "First sentence here.", chunks[0])
	assert.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(strings.Fields(strings.Join(chunks, " ")), " "))
}

func TestChunk_HardSplitsLongRuns(t *testing.T) {
	text := strings.Repeat("é", 25)
	chunks := Chunk(text, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("é", 10), chunks[0])
	assert.Equal(t, strings.Repeat("é", 5), chunks[2])
}

func TestChunk_RespectsLimitAndIsDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The watcher debounces writes before ingesting. ")
		if i%7 == 6 {
			b.WriteString("\n\n")
		}
	}
	text := b.String()
	for _, limit := range []int{30, 64, 200, 500} {
		first := Chunk(text, limit)
		second := Chunk(text, limit)
		assert.Equal(t, first, second)
		for _, c := range first {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), limit)
			assert.NotEmpty(t, strings.TrimSpace(c))
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two! Three? v1.2 stays\nFour")
	assert.Equal(t, []string{"One.", "Two!", "Three?", "v1.2 stays", "Four"}, got)
}
