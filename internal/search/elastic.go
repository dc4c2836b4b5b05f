package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitechat/internal/domain"
)

// ElasticConfig holds connection details for an Elasticsearch deployment.
// Either CloudID or Addresses must be set.
type ElasticConfig struct {
	CloudID   string
	Addresses []string
	Username  string
	Password  string
	Index     string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// ElasticBackend sends the hybrid body to an Elasticsearch index.
type ElasticBackend struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	params  Params
	logger  *zap.Logger
}

// NewElasticBackend validates credentials and builds the client. No request is
// made here; an unreachable cluster surfaces on the first search.
func NewElasticBackend(cfg ElasticConfig, params Params, logger *zap.Logger) (*ElasticBackend, error) {
	if cfg.CloudID == "" && len(cfg.Addresses) == 0 {
		return nil, errors.Wrap(domain.ErrConfig, "elasticsearch: cloud id or addresses required")
	}
	if cfg.CloudID != "" && cfg.Password == "" {
		return nil, errors.Wrap(domain.ErrConfig, "elasticsearch: password required for cloud deployments")
	}
	if cfg.Index == "" {
		return nil, errors.Wrap(domain.ErrConfig, "elasticsearch: index required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	}
	if cfg.CloudID != "" {
		esCfg.CloudID = NormalizeCloudID(cfg.CloudID)
		esCfg.Addresses = nil
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrConfig, "elasticsearch: %v", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ElasticBackend{
		client:  client,
		index:   cfg.Index,
		timeout: timeout,
		params:  params,
		logger:  logger.Named("elastic"),
	}, nil
}

// NormalizeCloudID restores the base64 padding that cloud IDs copied from the
// console commonly lose.
func NormalizeCloudID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasSuffix(id, "==") {
		return id
	}
	return id + "=="
}

func (b *ElasticBackend) Name() string { return "elasticsearch" }

// Search runs the hybrid request against the configured index.
func (b *ElasticBackend) Search(ctx context.Context, req Request) ([]Source, error) {
	body, err := json.Marshal(BuildBody(b.params, req))
	if err != nil {
		return nil, errors.Wrap(err, "encode search body")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.index),
		b.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrProviderUnavailable, "elasticsearch: %v", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		b.logger.Warn("search failed", zap.Int("status", res.StatusCode), zap.ByteString("body", msg))
		return nil, errors.Wrapf(domain.ErrProviderUnavailable, "elasticsearch: status %d", res.StatusCode)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source Source `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrapf(domain.ErrProviderUnavailable, "elasticsearch: decode response: %v", err)
	}

	out := make([]Source, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	b.logger.Debug("search done",
		zap.Int("hits", len(out)),
		zap.Bool("geo", req.Coordinate != nil),
		zap.Duration("took", time.Since(start)))
	return out, nil
}
