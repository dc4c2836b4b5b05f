// Package summarizer condenses raw customer reviews into the short review
// summary stored on each venue.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"bitechat/internal/embedding/tfidf"
)

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]*`)

// ReviewSummarizer picks the most representative review sentences, scoring
// each by how frequent its words are across all reviews of the venue.
type ReviewSummarizer struct {
	minWords int
}

// New returns a summarizer that ignores sentences shorter than three words.
func New() *ReviewSummarizer {
	return &ReviewSummarizer{minWords: 3}
}

// SummarizeReviews joins the reviews and summarizes them as one text.
func (s *ReviewSummarizer) SummarizeReviews(reviews []string, maxSentences int) (string, error) {
	parts := make([]string, 0, len(reviews))
	for _, r := range reviews {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !strings.ContainsAny(r[len(r)-1:], ".!?") {
			r += "."
		}
		parts = append(parts, r)
	}
	return s.Summarize(strings.Join(parts, " "), maxSentences)
}

// Summarize returns up to maxSentences sentences of text in their original order.
func (s *ReviewSummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	var sentences []string
	for _, m := range sentencePattern.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			sentences = append(sentences, m)
		}
	}
	if len(sentences) <= maxSentences {
		return strings.Join(sentences, " "), nil
	}

	tokens := make([][]string, len(sentences))
	freq := map[string]float64{}
	maxF := 0.0
	for i, sent := range sentences {
		tokens[i] = tfidf.Tokenize(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
			if freq[tok] > maxF {
				maxF = freq[tok]
			}
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, toks := range tokens {
		score := 0.0
		for _, tok := range toks {
			score += freq[tok] / maxF
		}
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		if len(strings.Fields(sentences[i])) < s.minWords {
			score = 0
		}
		ranked[i] = scored{i, score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = ranked[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}
