// Package render turns agent responses into terminal and web friendly
// output: markdown preprocessing, content metrics, layout selection, and
// styled terminal rendering.
package render

import (
	"regexp"
	"strings"
)

// Metrics describes a response body for rendering decisions.
type Metrics struct {
	Characters     int     `json:"character_count"`
	Words          int     `json:"word_count"`
	Lines          int     `json:"line_count"`
	CodeBlocks     int     `json:"code_blocks"`
	ReadingMinutes float64 `json:"estimated_reading_time"`
	NeedsScrolling bool    `json:"needs_scrolling"`
}

// scrollThreshold is the character count past which the UI should scroll
// the text instead of growing the page.
const scrollThreshold = 2000

var codeBlockRe = regexp.MustCompile("(?s)```.*?```")

// ComputeMetrics analyzes text for layout decisions. Reading time assumes
// 200 words per minute.
func ComputeMetrics(text string) Metrics {
	words := strings.Fields(text)
	return Metrics{
		Characters:     len(text),
		Words:          len(words),
		Lines:          len(strings.Split(text, "\n")),
		CodeBlocks:     len(codeBlockRe.FindAllString(text, -1)),
		ReadingMinutes: float64(len(words)) / 200,
		NeedsScrolling: len(text) > scrollThreshold,
	}
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Preprocess normalizes response text for display: collapses runs of blank
// lines outside code blocks and trims surrounding whitespace. Content inside
// fenced code blocks is preserved verbatim.
func Preprocess(text string) string {
	lines := strings.Split(text, "\n")
	processed := make([]string, 0, len(lines))
	inCodeBlock := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), "```"):
			inCodeBlock = !inCodeBlock
			processed = append(processed, line)
		case inCodeBlock:
			processed = append(processed, line)
		default:
			stripped := strings.TrimSpace(line)
			if stripped != "" || (len(processed) > 0 && strings.TrimSpace(processed[len(processed)-1]) != "") {
				processed = append(processed, line)
			}
		}
	}

	result := strings.Join(processed, "\n")
	result = blankRunRe.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}
