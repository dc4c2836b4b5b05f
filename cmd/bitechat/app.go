package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bitechat/internal/agent"
	"bitechat/internal/config"
	"bitechat/internal/domain"
	"bitechat/internal/embedding/openai"
	"bitechat/internal/geocode"
	"bitechat/internal/llm"
	"bitechat/internal/metrics"
	"bitechat/internal/search"
	"bitechat/internal/service"
	"bitechat/internal/session"
	"bitechat/internal/summarizer"
	"bitechat/internal/transport"
)

type app struct {
	chat     *service.ChatService
	registry *prometheus.Registry
	closers  []func() error
	logger   *zap.Logger
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}

// build assembles the provider clients, tools, agent and chat service.
func build(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	a := &app{registry: reg, logger: log}

	emb, err := openai.NewClient(openai.Config{
		BaseURL:           cfg.Embedder.BaseURL,
		APIKey:            config.Env(cfg.Embedder.APIKeyEnv),
		Model:             cfg.Embedder.Model,
		QueryPrefix:       cfg.Embedder.QueryPrefix,
		MaxRetries:        cfg.Embedder.MaxRetries,
		RequestsPerSecond: cfg.Embedder.RequestsPerS,
		HTTPClient:        transport.NewHTTPClient("embeddings", seconds(cfg.Embedder.TimeoutSecs)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "embedder")
	}

	backend, err := buildBackend(ctx, cfg, emb, log)
	if err != nil {
		return nil, err
	}
	searcher := search.NewService(emb, backend, cfg.Search.Size, log)

	geo, closeGeo, err := buildGeocoder(cfg, m, log)
	if err != nil {
		return nil, err
	}
	if closeGeo != nil {
		a.closers = append(a.closers, closeGeo)
	}

	model, err := llm.NewService(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      config.Env(cfg.LLM.APIKeyEnv),
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     seconds(cfg.LLM.TimeoutSecs),
		HTTPClient:  transport.NewHTTPClient("llm", seconds(cfg.LLM.TimeoutSecs)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "llm")
	}

	tools := agent.NewToolbox(geo, searcher, cfg.ToolTimeout(), m, agent.Tracer(), log)
	agentLog := log.Named("agent")
	ag := agent.New(model, tools, agent.Config{
		Instruction:   cfg.Agent.Instruction,
		MaxIterations: cfg.Agent.MaxIterations,
	}, log,
		agent.WithMetrics(m),
		agent.WithTransitionHook(func(from, to agent.State) {
			agentLog.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
		}),
	)

	store := session.NewStore(cfg.SessionTTL(), cfg.SessionCleanup(), m, log)
	a.chat = service.NewChatService(store, ag, log)

	log.Info("bitechat ready",
		zap.String("search_backend", backend.Name()),
		zap.String("embedder", emb.Name()),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("geocode_cache", cfg.Geocoder.CacheBackend),
	)
	return a, nil
}

func buildBackend(ctx context.Context, cfg *config.AppConfig, emb domain.Embedder, log *zap.Logger) (search.Backend, error) {
	params := search.ParamsFromConfig(cfg.Search)
	switch cfg.Search.Backend {
	case "elasticsearch":
		es := cfg.Search.Elastic
		timeout := seconds(es.TimeoutSecs)
		b, err := search.NewElasticBackend(search.ElasticConfig{
			CloudID:   config.Env(es.CloudIDEnv),
			Addresses: es.Addresses,
			Username:  es.Username,
			Password:  config.Env(es.PasswordEnv),
			Index:     es.Index,
			Timeout:   timeout,
			Transport: transport.NewHTTPClient("elasticsearch", timeout).Transport,
		}, params, log)
		if err != nil {
			return nil, errors.Wrap(err, "elasticsearch backend")
		}
		return b, nil
	case "memory":
		venues, err := search.LoadVenues(cfg.Search.Memory.VenuesFile)
		if err != nil {
			return nil, err
		}
		b, err := search.NewMemoryBackend(ctx, venues, emb, params, search.MemoryOptions{
			Summarizer:          summarizer.New(),
			SummaryMaxSentences: cfg.Search.Memory.SummaryMaxSentences,
		}, log)
		if err != nil {
			return nil, errors.Wrap(err, "memory backend")
		}
		return b, nil
	}
	return nil, errors.Wrapf(domain.ErrConfig, "unknown search backend %q", cfg.Search.Backend)
}

func buildGeocoder(cfg *config.AppConfig, m *metrics.Metrics, log *zap.Logger) (domain.Geocoder, func() error, error) {
	gc := cfg.Geocoder
	g, err := geocode.NewGoogle(geocode.GoogleConfig{
		APIKey:     config.Env(gc.APIKeyEnv),
		BaseURL:    gc.BaseURL,
		RateLimit:  gc.RateLimit,
		Timeout:    seconds(gc.TimeoutSecs),
		HTTPClient: transport.NewHTTPClient("geocode", seconds(gc.TimeoutSecs)),
	}, log)
	if err != nil {
		return nil, nil, errors.Wrap(err, "geocoder")
	}

	ttl := time.Duration(gc.CacheTTLMins) * time.Minute
	switch gc.CacheBackend {
	case "none":
		return g, nil, nil
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{gc.Redis.Addr},
			Password: config.Env(gc.Redis.PasswordEnv),
			DB:       gc.Redis.DB,
		})
		return geocode.NewCached(g, geocode.NewRedisCache(rdb, gc.RedisKeyspace, ttl), m, log), rdb.Close, nil
	}
	return geocode.NewCached(g, geocode.NewMemoryCache(ttl), m, log), nil, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
