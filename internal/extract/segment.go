// internal/extract/segment.go
package extract

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Sentences yields the trimmed, non-empty sentences of text in document order.
//
// A boundary is a whitespace run that directly follows '.', '!' or '?'. The run is
// consumed and belongs to neither side. Abbreviations and decimals are not special
// cased. The returned sequence can be ranged over any number of times.
func Sentences(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		emit := func(piece string) bool {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				return true
			}
			return yield(piece)
		}

		start := 0
		var prev rune
		for i := 0; i < len(text); {
			r, size := utf8.DecodeRuneInString(text[i:])
			if !isTerminal(prev) || !unicode.IsSpace(r) {
				prev = r
				i += size
				continue
			}

			end := i
			for i < len(text) {
				r, size = utf8.DecodeRuneInString(text[i:])
				if !unicode.IsSpace(r) {
					break
				}
				i += size
			}
			if !emit(text[start:end]) {
				return
			}
			start = i
			prev = ' '
		}
		emit(text[start:])
	}
}

// SplitSentences collects Sentences into a slice.
func SplitSentences(text string) []string {
	var out []string
	for s := range Sentences(text) {
		out = append(out, s)
	}
	return out
}
