// Package geocode resolves free-text locations to coordinates with the Google
// Maps Geocoding API, behind a result cache.
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"bitechat/internal/domain"
)

const zeroResults = "ZERO_RESULTS"

// GoogleConfig configures the Maps client.
type GoogleConfig struct {
	APIKey     string
	BaseURL    string
	RateLimit  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Google resolves locations with the first Geocoding API candidate.
type Google struct {
	client  *maps.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewGoogle builds the client. A missing API key is a configuration error.
func NewGoogle(cfg GoogleConfig, logger *zap.Logger) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrap(domain.ErrConfig, "geocode: Google Maps API key missing")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []maps.ClientOption{maps.WithAPIKey(cfg.APIKey)}
	if cfg.HTTPClient != nil {
		opts = append(opts, maps.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, maps.WithRateLimit(cfg.RateLimit))
	}
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrConfig, "geocode: %v", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Google{client: client, timeout: timeout, logger: logger.Named("geocode")}, nil
}

// Resolve returns the coordinate of the first candidate. found is false when
// the provider has no candidate for the location.
func (g *Google) Resolve(ctx context.Context, location string) (domain.Coordinate, bool, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return domain.Coordinate{}, false, errors.Wrap(domain.ErrMalformedInput, "location is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: location})
	if err != nil {
		if strings.Contains(err.Error(), zeroResults) {
			return domain.Coordinate{}, false, nil
		}
		return domain.Coordinate{}, false, errors.Wrapf(domain.ErrProviderUnavailable, "geocode %q: %v", location, err)
	}
	if len(results) == 0 {
		return domain.Coordinate{}, false, nil
	}
	loc := results[0].Geometry.Location
	g.logger.Debug("resolved", zap.String("location", location), zap.Float64("lat", loc.Lat), zap.Float64("lon", loc.Lng))
	return domain.Coordinate{Lat: loc.Lat, Lon: loc.Lng}, true, nil
}
