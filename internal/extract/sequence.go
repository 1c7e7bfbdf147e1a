// internal/extract/sequence.go
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Corphon/GeneGenie/internal/models"
)

// MinSequenceLength is the shortest letter run reported as a sequence.
const MinSequenceLength = 8

var (
	dnaPattern = regexp.MustCompile(`[ATGC]{8,}`)
	rnaPattern = regexp.MustCompile(`[AUGC]{8,}`)
)

// FindMatches returns the raw DNA matches followed by the raw RNA matches of a
// sentence, each list in left-to-right order. A run made only of A, G and C shows
// up in both lists.
func FindMatches(sentence string) []string {
	dna := dnaPattern.FindAllString(sentence, -1)
	rna := rnaPattern.FindAllString(sentence, -1)
	if len(dna)+len(rna) == 0 {
		return nil
	}

	matches := make([]string, 0, len(dna)+len(rna))
	matches = append(matches, dna...)
	return append(matches, rna...)
}

// ExtractSentence turns one sentence into extraction records.
//
// Matches are ordered longest first (stable, so DNA wins ties over RNA and earlier
// positions win over later ones) and a match is dropped when it is contained in a
// match already seen. Records keep that order, not reading order.
func ExtractSentence(sentence string) []models.Record {
	matches := FindMatches(sentence)
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i]) > len(matches[j])
	})

	var records []models.Record
	seen := make([]string, 0, len(matches))
	for _, candidate := range matches {
		if !containedIn(candidate, seen) {
			records = append(records, models.Record{
				Sequence: candidate,
				Context:  sentence,
			})
		}
		seen = append(seen, candidate)
	}

	return records
}

func containedIn(candidate string, seen []string) bool {
	for _, s := range seen {
		if strings.Contains(s, candidate) {
			return true
		}
	}
	return false
}
