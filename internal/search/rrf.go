package search

import "sort"

// Defaults matching Elasticsearch's rank.rrf.
const (
	DefaultRankConstant   = 60
	DefaultRankWindowSize = 100
)

// FuseRRF merges ranked lists of document positions with reciprocal rank fusion:
// each document scores sum(1 / (rankConstant + rank)) over the lists it appears
// in within the first window entries, rank starting at 1. Ties go to the lower
// document position.
func FuseRRF(legs [][]int, rankConstant, window int) []int {
	if rankConstant <= 0 {
		rankConstant = DefaultRankConstant
	}
	if window <= 0 {
		window = DefaultRankWindowSize
	}
	scores := make(map[int]float64)
	for _, leg := range legs {
		for i, doc := range leg {
			if i >= window {
				break
			}
			scores[doc] += 1.0 / float64(rankConstant+i+1)
		}
	}
	out := make([]int, 0, len(scores))
	for doc := range scores {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := scores[out[i]], scores[out[j]]
		if si != sj {
			return si > sj
		}
		return out[i] < out[j]
	})
	return out
}
