package search

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitechat/internal/domain"
)

// Service is the hybrid search tool: it embeds the query, runs the backend and
// projects hits. It implements domain.Searcher.
type Service struct {
	embedder domain.Embedder
	backend  Backend
	size     int
	logger   *zap.Logger
}

// NewService wires an embedder to a backend. size caps the number of results.
func NewService(embedder domain.Embedder, backend Backend, size int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, backend: backend, size: size, logger: logger.Named("search")}
}

// Search returns at most size venues for the query. An empty slice means no
// venue matched and is not an error.
func (s *Service) Search(ctx context.Context, q domain.SearchQuery) ([]domain.VenueResult, error) {
	text := strings.TrimSpace(q.Query)
	if text == "" {
		return nil, errors.Wrap(domain.ErrMalformedInput, "query is required")
	}
	if q.Coordinate != nil && !q.Coordinate.Valid() {
		return nil, errors.Wrapf(domain.ErrMalformedInput, "coordinate out of range: %v,%v", q.Coordinate.Lat, q.Coordinate.Lon)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := s.backend.Search(ctx, Request{Text: text, Vector: vec, Coordinate: q.Coordinate})
	if err != nil {
		return nil, err
	}
	if s.size > 0 && len(hits) > s.size {
		hits = hits[:s.size]
	}
	out := make([]domain.VenueResult, len(hits))
	for i, h := range hits {
		out[i] = Project(h)
	}
	s.logger.Debug("hybrid search",
		zap.String("backend", s.backend.Name()),
		zap.String("query", text),
		zap.Bool("geo", q.Coordinate != nil),
		zap.Int("results", len(out)))
	return out, nil
}
