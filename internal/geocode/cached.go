package geocode

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitechat/internal/domain"
	"bitechat/internal/metrics"
)

// Cached wraps a Geocoder with a result cache. Provider errors are never cached,
// and a failing cache only costs a provider call.
type Cached struct {
	next    domain.Geocoder
	cache   Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewCached(next domain.Geocoder, c Cache, m *metrics.Metrics, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, cache: c, metrics: m, logger: logger.Named("geocode_cache")}
}

func (c *Cached) Resolve(ctx context.Context, location string) (domain.Coordinate, bool, error) {
	key := NormalizeKey(location)
	if key == "" {
		return domain.Coordinate{}, false, errors.Wrap(domain.ErrMalformedInput, "location is required")
	}

	e, hit, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	c.metrics.CacheLookup(hit)
	if hit {
		return e.Coordinate, e.Found, nil
	}

	coord, found, err := c.next.Resolve(ctx, location)
	if err != nil {
		return coord, found, err
	}
	if err := c.cache.Set(ctx, key, Entry{Coordinate: coord, Found: found}); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return coord, found, nil
}

// NormalizeKey lowercases the location and collapses whitespace.
func NormalizeKey(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}
