// Package convergence scores how similar the two agents' messages on a
// turn have become. The score is a weighted sum of lexical, structural and
// stylistic components, clamped to [0,1].
package convergence

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "if": {}, "in": {}, "into": {}, "is": {},
	"it": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "such": {},
	"that": {}, "the": {}, "their": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "will": {}, "with": {},
	"i": {}, "you": {}, "we": {}, "my": {}, "your": {}, "our": {},
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func wordSet(text string, stripStopWords bool) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(text) {
		if stripStopWords {
			if _, stop := stopWords[w]; stop {
				continue
			}
		}
		set[w] = struct{}{}
	}
	return set
}

// VocabularyOverlap is the Jaccard similarity over lowercased word sets.
func VocabularyOverlap(a, b string, stripStopWords bool) float64 {
	if a == "" || b == "" {
		return 0
	}
	setA := wordSet(a, stripStopWords)
	setB := wordSet(b, stripStopWords)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// ratio returns min/max for two non-negative quantities, 1 when both zero.
func ratio(a, b float64) float64 {
	if a == b {
		return 1
	}
	if a > b {
		a, b = b, a
	}
	if b == 0 {
		return 1
	}
	return a / b
}

func countPunctuation(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsPunct(r) {
			n++
		}
	}
	return n
}

func countSentences(text string) int {
	n := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			n++
		}
	}
	if n == 0 && strings.TrimSpace(text) != "" {
		n = 1
	}
	return n
}

// StructuralSimilarity averages length, punctuation-rate and sentence-count
// ratios.
func StructuralSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	lengthRatio := ratio(float64(len(a)), float64(len(b)))

	punctA := float64(countPunctuation(a)) / float64(len(a))
	punctB := float64(countPunctuation(b)) / float64(len(b))
	punctRatio := ratio(punctA, punctB)

	sentenceRatio := ratio(float64(countSentences(a)), float64(countSentences(b)))

	return (lengthRatio + punctRatio + sentenceRatio) / 3
}

func rateOf(text string, target rune) float64 {
	sentences := countSentences(text)
	if sentences == 0 {
		return 0
	}
	n := 0
	for _, r := range text {
		if r == target {
			n++
		}
	}
	return float64(n) / float64(sentences)
}

// StyleMatch compares question-mark and exclamation rates.
func StyleMatch(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	question := 1 - clamp(abs(rateOf(a, '?')-rateOf(b, '?')))
	exclaim := 1 - clamp(abs(rateOf(a, '!')-rateOf(b, '!')))
	return (question + exclaim) / 2
}

// MimicryScore is the bigram overlap between a message and the other
// side's immediately preceding message.
func MimicryScore(message, preceding string) float64 {
	if message == "" || preceding == "" {
		return 0
	}
	if message == preceding {
		return 1
	}
	grams := func(text string) map[string]struct{} {
		ws := words(text)
		set := make(map[string]struct{})
		for i := 0; i+1 < len(ws); i++ {
			set[ws[i]+" "+ws[i+1]] = struct{}{}
		}
		return set
	}
	setA := grams(message)
	setB := grams(preceding)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for g := range setA {
		if _, ok := setB[g]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
