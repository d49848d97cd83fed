package stream

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitChunks groups text into proof_chunk payloads. Sentences accumulate until the
// buffer exceeds threshold runes or a paragraph break is crossed. Concatenating the
// result always yields text unchanged.
func SplitChunks(text string, threshold int) []string {
	if threshold < 1 {
		threshold = 1
	}
	var (
		chunks []string
		buf    strings.Builder
		runes  int
	)
	for _, s := range splitSentences(text) {
		buf.WriteString(s)
		runes += utf8.RuneCountInString(s)
		if runes > threshold || endsParagraph(s) {
			chunks = append(chunks, buf.String())
			buf.Reset()
			runes = 0
		}
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// splitSentences cuts after sentence terminators and line ends, keeping the trailing
// whitespace with the sentence it follows.
func splitSentences(text string) []string {
	var out []string
	start, i := 0, 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !isBoundary(r, text[i:]) {
			continue
		}
		for i < len(text) {
			next, n := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				break
			}
			i += n
		}
		out = append(out, text[start:i])
		start = i
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func isBoundary(r rune, rest string) bool {
	switch r {
	case '\n', '。', '！', '？':
		return true
	case '.', '!', '?':
		if rest == "" {
			return true
		}
		next, _ := utf8.DecodeRuneInString(rest)
		return unicode.IsSpace(next)
	}
	return false
}

// endsParagraph reports whether the whitespace trailing s holds a blank line.
func endsParagraph(s string) bool {
	trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
	return strings.Count(s[len(trimmed):], "\n") >= 2
}
