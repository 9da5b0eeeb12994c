package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selene-assistant/selene/internal/core/token"
)

func TestSplitEmptyInput(t *testing.T) {
	c := NewChunker(0)

	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("   \n\n\t  \n"))
}

func TestSplitSingleShortParagraph(t *testing.T) {
	c := NewChunker(0)

	chunks := c.Split("A single short paragraph about one idea.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "A single short paragraph about one idea.", chunks[0])
}

func TestSplitMergesShortParagraphs(t *testing.T) {
	c := NewChunker(0)

	content := "First idea.\n\nSecond idea.\n\nThird idea."
	chunks := c.Split(content)

	// 3つの短い段落は1チャンクに結合される
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "First idea.")
	assert.Contains(t, chunks[0], "Third idea.")
}

func TestSplitOnHeadings(t *testing.T) {
	c := NewChunker(32)

	content := "# Morning\n" + strings.Repeat("Some notes about the morning. ", 5) +
		"\n## Evening\n" + strings.Repeat("Some notes about the evening. ", 5)
	chunks := c.Split(content)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasPrefix(chunks[0], "# Morning"))
}

func TestSplitLongParagraphAtSentences(t *testing.T) {
	c := NewChunker(64)

	// 1段落で最大トークンを大きく超える入力
	content := strings.TrimSpace(strings.Repeat("This sentence talks about a recurring theme in my notes. ", 20))
	chunks := c.Split(content)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		// 文単位の分割なので、1文分の超過までは許容する
		assert.LessOrEqual(t, token.Estimate(chunk), 64+16)
		assert.True(t, strings.HasSuffix(chunk, "."))
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	c := NewChunker(0)

	content := "# Title\n\nParagraph one about planning.\n\nParagraph two about execution.\n\n" +
		strings.Repeat("A long trailing paragraph sentence. ", 40)

	first := c.Split(content)
	second := c.Split(content)
	assert.Equal(t, first, second)
}

func TestSplitRespectsTokenBudget(t *testing.T) {
	c := NewChunker(0)

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("A paragraph with a couple of sentences in it. It covers one idea.\n\n")
	}
	chunks := c.Split(sb.String())

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, token.Estimate(chunk), DefaultMaxTokens)
	}
}

func TestSplitTwoParagraphNote(t *testing.T) {
	c := NewChunker(128)

	// およそ900文字・2段落のノートは2チャンクになる
	para1 := strings.TrimSpace(strings.Repeat("The first paragraph keeps returning to the same plan. ", 8))
	para2 := strings.TrimSpace(strings.Repeat("The second paragraph is about something entirely new. ", 8))
	chunks := c.Split(para1 + "\n\n" + para2)

	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "first paragraph")
	assert.Contains(t, chunks[1], "second paragraph")
}
