// internal/extract/normalize.go
package extract

import "strings"

// Normalize joins per-page text into one flat line suitable for sentence splitting.
//
// Every page is followed by a newline, hyphen+newline pairs are deleted so that a
// word wrapped across lines is rejoined without the hyphen, and the remaining
// newlines become single spaces. Nothing else is touched: runs of spaces survive.
func Normalize(pages []string) string {
	var b strings.Builder
	for _, page := range pages {
		b.WriteString(page)
		b.WriteByte('\n')
	}

	text := strings.ReplaceAll(b.String(), "-\n", "")
	return strings.ReplaceAll(text, "\n", " ")
}
