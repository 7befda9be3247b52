// Package fuzzy scores how well a piece of text matches a set of keywords
// using substring containment and normalised Levenshtein similarity.
package fuzzy

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Threshold is the similarity a keyword must exceed to count as a fuzzy match.
const Threshold = 0.7

// Match returns a score in [0, 1]. Every keyword contained in text scores
// 1.0; otherwise its similarity to text counts when above Threshold. The
// result is the sum of keyword scores divided by the number of keywords.
func Match(text string, keywords []string) float64 {
	if len(keywords) == 0 || text == "" {
		return 0
	}
	text = strings.ToLower(text)

	var sum float64
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			sum += 1
			continue
		}
		if sim := Similarity(text, kw); sim > Threshold {
			sum += sim
		}
	}
	return sum / float64(len(keywords))
}

// Similarity returns 1 - distance/max(len(a), len(b)) measured in runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// Best returns the highest Match score of keywords against any of texts.
func Best(texts []string, keywords []string) float64 {
	var best float64
	for _, t := range texts {
		if s := Match(t, keywords); s > best {
			best = s
		}
	}
	return best
}
