package pipeline

import (
	"context"
	"strings"
	"unicode"
)

// maxTitleRunes bounds the scene title derived from the opening sentence.
const maxTitleRunes = 60

// ParagraphSegmenter is the default analysis strategy: paragraphs become
// scenes, and when a chapter has more paragraphs than the cap allows,
// adjacent paragraphs are grouped into evenly sized scenes.
type ParagraphSegmenter struct{}

// NewParagraphSegmenter creates the default Segmenter.
func NewParagraphSegmenter() *ParagraphSegmenter {
	return &ParagraphSegmenter{}
}

// Ensure ParagraphSegmenter implements Segmenter interface
var _ Segmenter = (*ParagraphSegmenter)(nil)

// Segment implements Segmenter.
// Paragraph boundaries are blank lines. A chapter with no prose yields zero
// scenes; the analyze handler treats that as a failed run.
func (s *ParagraphSegmenter) Segment(ctx context.Context, chapterText string, capScenes int) ([]SceneDraft, error) {
	paragraphs := splitParagraphs(chapterText)
	if len(paragraphs) == 0 || capScenes <= 0 {
		return nil, nil
	}

	groups := groupParagraphs(paragraphs, capScenes)

	drafts := make([]SceneDraft, 0, len(groups))
	for _, group := range groups {
		text := strings.Join(group, "\n\n")
		drafts = append(drafts, SceneDraft{
			Title:       titleFrom(group[0]),
			Description: text,
		})
	}

	return drafts, nil
}

// splitParagraphs breaks text on blank lines, trimming each paragraph and
// dropping empty ones.
func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")

	var paragraphs []string
	for _, block := range strings.Split(normalized, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paragraphs = append(paragraphs, block)
		}
	}
	return paragraphs
}

// groupParagraphs distributes n paragraphs over at most capScenes groups,
// keeping adjacent paragraphs together and sizes within one of each other.
func groupParagraphs(paragraphs []string, capScenes int) [][]string {
	n := len(paragraphs)
	if n <= capScenes {
		groups := make([][]string, n)
		for i, p := range paragraphs {
			groups[i] = []string{p}
		}
		return groups
	}

	base := n / capScenes
	extra := n % capScenes

	groups := make([][]string, 0, capScenes)
	start := 0
	for i := 0; i < capScenes; i++ {
		size := base
		if i < extra {
			size++
		}
		groups = append(groups, paragraphs[start:start+size])
		start += size
	}
	return groups
}

// titleFrom derives a short title from the opening of a paragraph: the first
// sentence, truncated on a word boundary.
func titleFrom(paragraph string) string {
	sentence := paragraph
	for i, r := range paragraph {
		if r == '.' || r == '!' || r == '?' {
			sentence = paragraph[:i]
			break
		}
	}
	sentence = strings.TrimSpace(sentence)

	runes := []rune(sentence)
	if len(runes) <= maxTitleRunes {
		return sentence
	}

	cut := maxTitleRunes
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = maxTitleRunes
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
