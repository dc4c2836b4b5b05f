package search

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitechat/internal/domain"
	"bitechat/internal/embedding"
	"bitechat/internal/embedding/tfidf"
)

const earthRadiusMeters = 6371008.8

// Venue is one record of the local venue file. It mirrors a document of the
// Elasticsearch index, plus optional raw reviews.
type Venue struct {
	Info          string             `json:"info"`
	Food          string             `json:"food,omitempty"`
	ReviewSummary string             `json:"review_summary,omitempty"`
	Reviews       []string           `json:"reviews,omitempty"`
	Location      *domain.Coordinate `json:"location,omitempty"`
	ReviewVector  []float32          `json:"review_vector,omitempty"`
}

// LoadVenues reads a JSON array of venues.
func LoadVenues(path string) ([]Venue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrConfig, "read venues %s: %v", path, err)
	}
	var venues []Venue
	if err := json.Unmarshal(data, &venues); err != nil {
		return nil, errors.Wrapf(domain.ErrConfig, "parse venues %s: %v", path, err)
	}
	return venues, nil
}

// ReviewSummarizer condenses a venue's raw reviews.
type ReviewSummarizer interface {
	SummarizeReviews(reviews []string, maxSentences int) (string, error)
}

// MemoryOptions tunes index preparation.
type MemoryOptions struct {
	Summarizer          ReviewSummarizer
	SummaryMaxSentences int
	RankConstant        int
	RankWindow          int
}

// MemoryBackend is an in-process venue index using brute-force cosine similarity.
type MemoryBackend struct {
	mu      sync.RWMutex
	venues  []Venue
	vectors [][]float32
	dim     int
	keyword *tfidf.Index

	params       Params
	rankConstant int
	rankWindow   int
	logger       *zap.Logger
}

// NewMemoryBackend prepares venues for search. Venues without a review summary
// but with raw reviews are summarised; venues without a vector are embedded
// from their review summary, falling back to info.
func NewMemoryBackend(ctx context.Context, venues []Venue, embedder domain.Embedder, params Params, opts MemoryOptions, logger *zap.Logger) (*MemoryBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MemoryBackend{
		params:       params,
		rankConstant: opts.RankConstant,
		rankWindow:   opts.RankWindow,
		logger:       logger.Named("memory"),
	}
	if err := b.Load(ctx, venues, embedder, opts); err != nil {
		return nil, err
	}
	return b, nil
}

// Load replaces the indexed venues.
func (b *MemoryBackend) Load(ctx context.Context, venues []Venue, embedder domain.Embedder, opts MemoryOptions) error {
	prepared := make([]Venue, len(venues))
	vectors := make([][]float32, len(venues))
	corpus := make([]string, len(venues))
	dim := 0
	embedded, summarised := 0, 0
	for i, v := range venues {
		if v.ReviewSummary == "" && len(v.Reviews) > 0 && opts.Summarizer != nil {
			summary, err := opts.Summarizer.SummarizeReviews(v.Reviews, opts.SummaryMaxSentences)
			if err != nil {
				return errors.Wrapf(err, "summarise venue %d", i)
			}
			v.ReviewSummary = summary
			summarised++
		}
		if len(v.ReviewVector) == 0 {
			if embedder == nil {
				return errors.Wrapf(domain.ErrConfig, "venue %d has no review_vector and no embedder is configured", i)
			}
			text := v.ReviewSummary
			if text == "" {
				text = v.Info
			}
			vec, err := embedder.Embed(ctx, text)
			if err != nil {
				return errors.Wrapf(err, "embed venue %d", i)
			}
			v.ReviewVector = vec
			embedded++
		}
		vec := embedding.Normalize(v.ReviewVector)
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return errors.Wrapf(domain.ErrConfig, "venue %d: vector dimension %d, want %d", i, len(vec), dim)
		}
		prepared[i] = v
		vectors[i] = vec
		corpus[i] = strings.Join([]string{v.Info, v.Food, v.ReviewSummary}, " ")
	}

	var keyword *tfidf.Index
	if b.params.KeywordMode == KeywordMatch && len(corpus) > 0 {
		idx, err := tfidf.Build(corpus)
		if err != nil {
			return errors.Wrap(err, "build keyword index")
		}
		keyword = idx
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.venues = prepared
	b.vectors = vectors
	b.dim = dim
	b.keyword = keyword
	b.logger.Info("venues loaded",
		zap.Int("venues", len(prepared)),
		zap.Int("embedded", embedded),
		zap.Int("summarised", summarised))
	return nil
}

func (b *MemoryBackend) Name() string { return "memory" }

// Len returns the number of indexed venues.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.venues)
}

// Search mirrors the Elasticsearch request: the geo filter restricts only the
// kNN leg, the keyword leg is either every venue in index order or TF-IDF hits.
func (b *MemoryBackend) Search(ctx context.Context, req Request) ([]Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(domain.ErrProviderUnavailable, "memory search: %v", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	// a different embeddings model than the one that built the index
	if b.dim > 0 && len(req.Vector) != b.dim {
		return nil, errors.Wrapf(domain.ErrProviderUnavailable, "query vector dimension %d, index %d", len(req.Vector), b.dim)
	}
	query := embedding.Normalize(req.Vector)
	knn := b.nearest(query, req.Coordinate)
	keyword := b.keywordLeg(req.Text)

	fused := FuseRRF([][]int{keyword, knn}, b.rankConstant, b.rankWindow)
	size := b.params.Size
	if size <= 0 || size > len(fused) {
		size = len(fused)
	}
	out := make([]Source, 0, size)
	for _, doc := range fused[:size] {
		v := b.venues[doc]
		out = append(out, Source{
			Info:          strPtr(v.Info),
			Food:          strPtr(v.Food),
			ReviewSummary: strPtr(v.ReviewSummary),
		})
	}
	return out, nil
}

func (b *MemoryBackend) nearest(query []float32, anchor *domain.Coordinate) []int {
	type scored struct {
		doc   int
		score float64
	}
	candidates := make([]scored, 0, len(b.vectors))
	for i, vec := range b.vectors {
		if anchor != nil {
			loc := b.venues[i].Location
			if loc == nil || Haversine(*anchor, *loc) > b.params.RadiusMeters {
				continue
			}
		}
		candidates = append(candidates, scored{i, embedding.Cosine(query, vec)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	k := b.params.K
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}
	out := make([]int, k)
	for i := range out {
		out[i] = candidates[i].doc
	}
	return out
}

func (b *MemoryBackend) keywordLeg(text string) []int {
	if b.keyword != nil {
		hits := b.keyword.Search(text, 0)
		out := make([]int, len(hits))
		for i, h := range hits {
			out[i] = h.Doc
		}
		return out
	}
	out := make([]int, len(b.venues))
	for i := range out {
		out[i] = i
	}
	return out
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b domain.Coordinate) float64 {
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
