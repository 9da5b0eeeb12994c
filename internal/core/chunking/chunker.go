package chunking

import (
	"regexp"
	"strings"

	"github.com/selene-assistant/selene/internal/core/token"
)

// DefaultMaxTokens はチャンクあたりのデフォルト最大トークン数
const DefaultMaxTokens = 256

// Chunker はノート本文を意味単位のチャンクに分割します
// 分割はルールベース（段落・見出し・文境界）で、同じ入力に対して決定的です
type Chunker struct {
	maxTokens int
}

// NewChunker は新しい Chunker を作成します
// maxTokens が 0 以下の場合はデフォルト値を使用します
func NewChunker(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{maxTokens: maxTokens}
}

// MaxTokens はチャンクあたりの最大トークン数を返します
func (c *Chunker) MaxTokens() int {
	return c.maxTokens
}

// headingPattern はMarkdownの見出し行を検出します
var headingPattern = regexp.MustCompile(`^#{1,6}\s`)

// Split はノート本文をおよそ最大トークン数以下のチャンク列に分割します
// 空または空白のみの入力は空のスライスを返します
//
// 手順:
//  1. 空行と見出しで段落境界に分割する
//  2. 最大トークン数を超える段落を文境界で再分割する
//  3. 連続する小さな段落を最大トークン数以下に収まる範囲で結合する
func (c *Chunker) Split(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	rawSegments := splitOnBoundaries(trimmed)

	var segments []string
	for _, segment := range rawSegments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if token.Estimate(segment) > c.maxTokens {
			segments = append(segments, c.splitAtSentences(segment)...)
		} else {
			segments = append(segments, segment)
		}
	}

	return c.mergeSmallSegments(segments)
}

// splitOnBoundaries は空行および見出し行の直前を境界として分割します
func splitOnBoundaries(text string) []string {
	lines := strings.Split(text, "\n")

	var segments []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		segment := strings.Join(current, "\n")
		if strings.TrimSpace(segment) != "" {
			segments = append(segments, segment)
		}
		current = nil
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			// 空行は段落境界
			flush()
			continue
		}
		if headingPattern.MatchString(line) {
			// 見出しは新しいセグメントを開始する
			flush()
		}
		current = append(current, line)
	}
	flush()

	if len(segments) == 0 {
		return []string{text}
	}
	return segments
}

// splitAtSentences は長すぎるセグメントを文境界で分割し、
// 見積もりが最大トークン数を超えない範囲で文を積み上げます
func (c *Chunker) splitAtSentences(text string) []string {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})

	var chunks []string
	var current string

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		var withSentence string
		if current == "" {
			withSentence = sentence + "."
		} else {
			withSentence = current + " " + sentence + "."
		}

		if token.Estimate(withSentence) > c.maxTokens && current != "" {
			chunks = append(chunks, current)
			current = sentence + "."
		} else {
			current = withSentence
		}
	}

	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, current)
	}

	return chunks
}

// mergeSmallSegments は連続するセグメントを最大トークン数以下に
// 収まる限り結合し、細かすぎるチャンクを減らします
func (c *Chunker) mergeSmallSegments(segments []string) []string {
	var merged []string
	var current string

	for _, segment := range segments {
		if current == "" {
			current = segment
			continue
		}

		combined := current + "\n\n" + segment
		if token.Estimate(combined) <= c.maxTokens {
			current = combined
		} else {
			merged = append(merged, current)
			current = segment
		}
	}

	if strings.TrimSpace(current) != "" {
		merged = append(merged, current)
	}

	return merged
}
