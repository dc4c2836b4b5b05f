package openai

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"bitechat/internal/domain"
	"bitechat/internal/embedding"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// Vectors are L2-normalised before they are returned.
type Client struct {
	client     *goopenai.Client
	model      string
	prefix     string
	maxRetries int
	limiter    *rate.Limiter

	mu        sync.RWMutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	QueryPrefix       string
	MaxRetries        int
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
// The hosted OpenAI endpoint requires an API key; self-hosted endpoints may run without one.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		return nil, errors.Wrap(domain.ErrConfig, "embedding model is required")
	}
	if cfg.APIKey == "" && strings.Contains(cfg.BaseURL, "api.openai.com") {
		return nil, errors.Wrap(domain.ErrConfig, "missing embeddings API key")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		client:     goopenai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		prefix:     cfg.QueryPrefix,
		maxRetries: cfg.MaxRetries,
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the dimensionality observed on the first successful call.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Embed returns a unit-length embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Wrap(domain.ErrMalformedInput, "empty text")
	}
	req := goopenai.EmbeddingRequest{
		Input: []string{c.prefix + text},
		Model: goopenai.EmbeddingModel(c.model),
	}
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrapf(domain.ErrProviderUnavailable, "embeddings: %v", err)
		}
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err == nil {
			if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
				return nil, errors.Wrap(domain.ErrProviderUnavailable, "embeddings: no embedding returned")
			}
			v := embedding.Normalize(resp.Data[0].Embedding)
			c.observeDimension(len(v))
			return v, nil
		}
		if attempt >= c.maxRetries || !retryable(ctx, err) {
			return nil, errors.Wrapf(domain.ErrProviderUnavailable, "embeddings: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(domain.ErrProviderUnavailable, "embeddings: %v", ctx.Err())
		case <-time.After(retryDelay(attempt)):
		}
	}
}

func (c *Client) observeDimension(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = n
	}
}

// retryable reports whether a failed call is worth repeating: rate limiting,
// server errors and transport failures are; client errors are not.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
