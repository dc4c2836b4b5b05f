// Package tfidf scores venue documents against a free-text query with TF-IDF.
// It backs the keyword leg of the in-memory hybrid search when keyword
// matching is enabled.
package tfidf

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\d+`)

// Index holds term statistics for a fixed document collection.
type Index struct {
	idf  map[string]float64
	docs []map[string]float64 // per-document L2-normalised tf-idf weights
}

// Hit is a document position with its relevance to a query.
type Hit struct {
	Doc   int
	Score float64
}

// Build computes IDF values and document weights for the corpus.
// Document positions in hits refer to indexes into corpus.
func Build(corpus []string) (*Index, error) {
	if len(corpus) == 0 {
		return nil, errors.New("empty corpus for TF-IDF index")
	}
	tokenized := make([][]string, len(corpus))
	df := make(map[string]int)
	for i, text := range corpus {
		tokenized[i] = Tokenize(text)
		seen := make(map[string]struct{}, len(tokenized[i]))
		for _, tok := range tokenized[i] {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	n := float64(len(corpus))
	idx := &Index{
		idf:  make(map[string]float64, len(df)),
		docs: make([]map[string]float64, len(corpus)),
	}
	for term, count := range df {
		// smoothed
		idx.idf[term] = math.Log((1+n)/(1+float64(count))) + 1.0
	}
	for i, toks := range tokenized {
		idx.docs[i] = idx.weigh(toks)
	}
	return idx, nil
}

// Len returns the number of indexed documents.
func (x *Index) Len() int { return len(x.docs) }

// Search returns documents sharing at least one term with the query, best first.
// Ties keep corpus order.
func (x *Index) Search(query string, limit int) []Hit {
	q := x.weigh(Tokenize(query))
	if len(q) == 0 {
		return nil
	}
	var hits []Hit
	for i, doc := range x.docs {
		score := 0.0
		for term, w := range q {
			score += w * doc[term]
		}
		if score > 0 {
			hits = append(hits, Hit{Doc: i, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (x *Index) weigh(tokens []string) map[string]float64 {
	tf := make(map[string]int)
	total := 0
	for _, tok := range tokens {
		if _, ok := x.idf[tok]; ok {
			tf[tok]++
			total++
		}
	}
	if total == 0 {
		return nil
	}
	out := make(map[string]float64, len(tf))
	norm := 0.0
	for term, count := range tf {
		w := float64(count) / float64(total) * x.idf[term]
		out[term] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for term := range out {
		out[term] /= norm
	}
	return out
}

// Tokenize lowercases text and splits it into word tokens with stopwords removed.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"near", "restaurant", "place", "food",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
