package voice

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultChunkMax is the longest segment handed to an engine in one utterance.
const DefaultChunkMax = 150

var sentencePattern = regexp.MustCompile(`[^.!?;,]+[.!?;,]+`)

// Chunk splits text into engine-safe segments at sentence and clause boundaries.
//
// Short text comes back as a single segment with one leading space, which
// keeps engines from clipping the first word. Longer text is packed greedily
// sentence by sentence; a single sentence longer than maxLength is emitted
// whole. Text without any boundary is sliced every maxLength runes.
func Chunk(text string, maxLength int) []string {
	if text == "" {
		return []string{""}
	}
	if maxLength <= 0 {
		maxLength = DefaultChunkMax
	}

	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= maxLength {
		return []string{" " + trimmed}
	}

	sentences := splitSentences(trimmed)
	if len(sentences) == 0 {
		return sliceRunes(trimmed, maxLength)
	}

	var (
		chunks  []string
		current string
	)
	for _, sentence := range sentences {
		if current != "" && utf8.RuneCountInString(current+sentence) > maxLength {
			chunks = append(chunks, strings.TrimSpace(current))
			current = sentence
			continue
		}
		current += sentence
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	if len(chunks) == 0 {
		return sliceRunes(trimmed, maxLength)
	}
	return chunks
}

// splitSentences returns the punctuated runs of text plus any unpunctuated
// tail, so nothing is lost. It returns nil when text has no boundary at all.
func splitSentences(text string) []string {
	locs := sentencePattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	out := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			// Leading punctuation (e.g. "...hello") is glued to the next run.
			out = append(out, text[prev:loc[1]])
		} else {
			out = append(out, text[loc[0]:loc[1]])
		}
		prev = loc[1]
	}
	if prev < len(text) {
		out = append(out, text[prev:])
	}
	return out
}

func sliceRunes(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
