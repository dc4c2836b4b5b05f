// Package search implements the hybrid venue search: a dense kNN leg over the
// review embeddings, a keyword leg and an optional geo-distance filter, fused
// with reciprocal rank fusion.
package search

import (
	"context"
	"math"
	"strconv"

	"bitechat/internal/config"
	"bitechat/internal/domain"
)

// Keyword modes for the lexical leg of the hybrid query.
const (
	KeywordMatchAll = "match_all"
	KeywordMatch    = "match"
)

// Fields read from every hit.
var sourceFields = []string{"info", "food", "review_summary"}

// Params shapes the hybrid request.
type Params struct {
	Size          int
	K             int
	NumCandidates int
	RadiusMeters  float64
	VectorField   string
	LocationField string
	KeywordMode   string
}

// ParamsFromConfig copies the query shape out of the search config.
func ParamsFromConfig(cfg config.SearchConfig) Params {
	return Params{
		Size:          cfg.Size,
		K:             cfg.K,
		NumCandidates: cfg.NumCandidates,
		RadiusMeters:  cfg.GeoRadiusMeters,
		VectorField:   cfg.VectorField,
		LocationField: cfg.LocationField,
		KeywordMode:   cfg.KeywordMode,
	}
}

// Request is one backend call: the embedded query plus its optional geo anchor.
type Request struct {
	Text       string
	Vector     []float32
	Coordinate *domain.Coordinate
}

// Source is the raw document of a hit. Nil fields were absent or null.
type Source struct {
	Info          *string `json:"info"`
	Food          *string `json:"food"`
	ReviewSummary *string `json:"review_summary"`
}

// Backend executes a hybrid request and returns hits best first.
type Backend interface {
	Name() string
	Search(ctx context.Context, req Request) ([]Source, error)
}

// BuildBody renders the Elasticsearch search body for req.
// The geo_distance filter is present only when req carries a coordinate.
func BuildBody(p Params, req Request) map[string]any {
	knn := map[string]any{
		"field":          p.VectorField,
		"query_vector":   req.Vector,
		"k":              p.K,
		"num_candidates": p.NumCandidates,
	}
	if req.Coordinate != nil {
		knn["filter"] = []any{
			map[string]any{
				"geo_distance": map[string]any{
					"distance": FormatDistance(p.RadiusMeters),
					p.LocationField: map[string]any{
						"lat": req.Coordinate.Lat,
						"lon": req.Coordinate.Lon,
					},
				},
			},
		}
	}

	var must map[string]any
	if p.KeywordMode == KeywordMatch && req.Text != "" {
		must = map[string]any{
			"multi_match": map[string]any{
				"query":  req.Text,
				"fields": sourceFields,
			},
		}
	} else {
		must = map[string]any{"match_all": map[string]any{}}
	}

	return map[string]any{
		"size":    p.Size,
		"query":   map[string]any{"bool": map[string]any{"must": must}},
		"_source": sourceFields,
		"knn":     knn,
		"rank":    map[string]any{"rrf": map[string]any{}},
	}
}

// FormatDistance renders meters as an Elasticsearch distance string,
// using kilometres for whole-kilometre values ("2km") and meters otherwise.
func FormatDistance(meters float64) string {
	if meters >= 1000 && math.Mod(meters, 1000) == 0 {
		return strconv.FormatFloat(meters/1000, 'f', -1, 64) + "km"
	}
	return strconv.FormatFloat(meters, 'f', -1, 64) + "m"
}
