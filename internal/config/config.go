package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LLMConfig configures the OpenAI-compatible chat model driving the agent.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// EmbedderConfig configures the OpenAI-compatible embeddings endpoint. The model
// must be the one that produced the indexed review vectors.
type EmbedderConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	Model        string  `yaml:"model"`
	QueryPrefix  string  `yaml:"query_prefix"`
	TimeoutSecs  int     `yaml:"timeout_secs"`
	MaxRetries   int     `yaml:"max_retries"`
	RequestsPerS float64 `yaml:"requests_per_second"`
}

// ElasticConfig contains connection details for the Elasticsearch index.
type ElasticConfig struct {
	CloudIDEnv  string   `yaml:"cloud_id_env"`
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
	Index       string   `yaml:"index"`
	TimeoutSecs int      `yaml:"timeout_secs"`
}

// MemoryConfig configures the in-process venue index.
type MemoryConfig struct {
	VenuesFile          string `yaml:"venues_file"`
	SummaryMaxSentences int    `yaml:"summary_max_sentences"`
}

// SearchConfig selects the search backend and the shape of the hybrid query.
type SearchConfig struct {
	Backend         string         `yaml:"backend"`
	KeywordMode     string         `yaml:"keyword_mode"`
	Size            int            `yaml:"size"`
	K               int            `yaml:"k"`
	NumCandidates   int            `yaml:"num_candidates"`
	GeoRadiusMeters float64        `yaml:"geo_radius_meters"`
	VectorField     string         `yaml:"vector_field"`
	LocationField   string         `yaml:"location_field"`
	Elastic         *ElasticConfig `yaml:"elastic,omitempty"`
	Memory          *MemoryConfig  `yaml:"memory,omitempty"`
}

// GeocoderConfig configures the Google Maps geocoding client and its cache.
type GeocoderConfig struct {
	APIKeyEnv     string       `yaml:"api_key_env"`
	BaseURL       string       `yaml:"base_url"`
	RateLimit     int          `yaml:"rate_limit"`
	TimeoutSecs   int          `yaml:"timeout_secs"`
	CacheTTLMins  int          `yaml:"cache_ttl_mins"`
	CacheBackend  string       `yaml:"cache_backend"`
	Redis         *RedisConfig `yaml:"redis,omitempty"`
	RedisKeyspace string       `yaml:"redis_keyspace"`
}

// RedisConfig contains connection details for the shared geocode cache.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

// AgentConfig configures the tool-calling loop.
type AgentConfig struct {
	Instruction     string `yaml:"instruction"`
	MaxIterations   int    `yaml:"max_iterations"`
	ToolTimeoutSecs int    `yaml:"tool_timeout_secs"`
	TurnTimeoutSecs int    `yaml:"turn_timeout_secs"`
}

// SessionConfig configures in-memory session eviction.
type SessionConfig struct {
	TTLMins     int `yaml:"ttl_mins"`
	CleanupMins int `yaml:"cleanup_mins"`
}

// AssistantConfig configures the hosted-assistant CLI.
type AssistantConfig struct {
	AssistantIDEnv  string `yaml:"assistant_id_env"`
	ThreadFile      string `yaml:"thread_file"`
	Instructions    string `yaml:"instructions"`
	PollInitialMs   int    `yaml:"poll_initial_ms"`
	PollMaxMs       int    `yaml:"poll_max_ms"`
	PollMaxWaitSecs int    `yaml:"poll_max_wait_secs"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Search    SearchConfig    `yaml:"search"`
	Geocoder  GeocoderConfig  `yaml:"geocoder"`
	Agent     AgentConfig     `yaml:"agent"`
	Session   SessionConfig   `yaml:"session"`
	Assistant AssistantConfig `yaml:"assistant"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
}

// DefaultInstruction is the system instruction given to the chat model.
const DefaultInstruction = `You are BiteChat, a friendly restaurant recommendation assistant.
When the user mentions a place, call coordinate_search first and pass the returned lat/lon to restaurant_search.
If a location cannot be resolved, search without coordinates.
Always base recommendations on restaurant_search results; mention popular dishes and what reviewers liked.
Preferences in square brackets at the end of a message are the user's active filters.
If a tool fails, apologise briefly and answer with what you know.`

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/bitechat/config.yaml.
// If neither exists, it writes defaults to ~/.config/bitechat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports settings that cannot be defaulted.
func (c *AppConfig) Validate() error {
	switch c.Search.Backend {
	case "elasticsearch":
		if c.Search.Elastic == nil {
			return errors.New("search.elastic section missing")
		}
		if c.Search.Elastic.Index == "" {
			return errors.New("search.elastic.index is required")
		}
	case "memory":
		if c.Search.Memory == nil || c.Search.Memory.VenuesFile == "" {
			return errors.New("search.memory.venues_file is required")
		}
	default:
		return errors.Errorf("unknown search backend %q", c.Search.Backend)
	}
	switch c.Search.KeywordMode {
	case "match_all", "match":
	default:
		return errors.Errorf("unknown keyword mode %q", c.Search.KeywordMode)
	}
	switch c.Geocoder.CacheBackend {
	case "memory", "none":
	case "redis":
		if c.Geocoder.Redis == nil || c.Geocoder.Redis.Addr == "" {
			return errors.New("geocoder.redis.addr is required for the redis cache")
		}
	default:
		return errors.Errorf("unknown geocode cache backend %q", c.Geocoder.CacheBackend)
	}
	if c.Search.K < c.Search.Size {
		return errors.Errorf("search.k (%d) must be at least search.size (%d)", c.Search.K, c.Search.Size)
	}
	if c.Search.NumCandidates < c.Search.K {
		return errors.Errorf("search.num_candidates (%d) must be at least search.k (%d)", c.Search.NumCandidates, c.Search.K)
	}
	return nil
}

// ToolTimeout returns the per-tool-call deadline.
func (c *AppConfig) ToolTimeout() time.Duration {
	return time.Duration(c.Agent.ToolTimeoutSecs) * time.Second
}

// TurnTimeout returns the deadline for one whole agent turn.
func (c *AppConfig) TurnTimeout() time.Duration {
	return time.Duration(c.Agent.TurnTimeoutSecs) * time.Second
}

// SessionTTL returns the idle lifetime of a session.
func (c *AppConfig) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMins) * time.Minute
}

// SessionCleanup returns the eviction sweep interval.
func (c *AppConfig) SessionCleanup() time.Duration {
	return time.Duration(c.Session.CleanupMins) * time.Minute
}

// Env returns the trimmed value of the environment variable named by key, or "".
func Env(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(key))
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bitechat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Search: SearchConfig{
			Backend: "elasticsearch",
			Elastic: &ElasticConfig{},
		},
		Geocoder: GeocoderConfig{CacheBackend: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 60
	}

	if cfg.Embedder.BaseURL == "" {
		cfg.Embedder.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embedder.APIKeyEnv == "" {
		cfg.Embedder.APIKeyEnv = "EMBEDDINGS_API_KEY"
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "intfloat/e5-small-v2"
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Embedder.MaxRetries == 0 {
		cfg.Embedder.MaxRetries = 3
	}
	if cfg.Embedder.RequestsPerS == 0 {
		cfg.Embedder.RequestsPerS = 10
	}

	if cfg.Search.Backend == "" {
		cfg.Search.Backend = "elasticsearch"
	}
	if cfg.Search.KeywordMode == "" {
		cfg.Search.KeywordMode = "match_all"
	}
	if cfg.Search.Size == 0 {
		cfg.Search.Size = 3
	}
	if cfg.Search.K == 0 {
		cfg.Search.K = 5
	}
	if cfg.Search.NumCandidates == 0 {
		cfg.Search.NumCandidates = 15
	}
	if cfg.Search.GeoRadiusMeters == 0 {
		cfg.Search.GeoRadiusMeters = 2000
	}
	if cfg.Search.VectorField == "" {
		cfg.Search.VectorField = "review_vector"
	}
	if cfg.Search.LocationField == "" {
		cfg.Search.LocationField = "location"
	}
	if cfg.Search.Backend == "elasticsearch" {
		if cfg.Search.Elastic == nil {
			cfg.Search.Elastic = &ElasticConfig{}
		}
		es := cfg.Search.Elastic
		if es.CloudIDEnv == "" && len(es.Addresses) == 0 {
			es.CloudIDEnv = "ELASTICSEARCH_ID"
		}
		if es.Username == "" {
			es.Username = "elastic"
		}
		if es.PasswordEnv == "" {
			es.PasswordEnv = "ELASTICSEARCH_PWD"
		}
		if es.Index == "" {
			es.Index = "bitechat"
		}
		if es.TimeoutSecs == 0 {
			es.TimeoutSecs = 15
		}
	}
	if cfg.Search.Memory != nil && cfg.Search.Memory.SummaryMaxSentences == 0 {
		cfg.Search.Memory.SummaryMaxSentences = 3
	}

	if cfg.Geocoder.APIKeyEnv == "" {
		cfg.Geocoder.APIKeyEnv = "GOOGLE_API"
	}
	if cfg.Geocoder.RateLimit == 0 {
		cfg.Geocoder.RateLimit = 10
	}
	if cfg.Geocoder.TimeoutSecs == 0 {
		cfg.Geocoder.TimeoutSecs = 10
	}
	if cfg.Geocoder.CacheTTLMins == 0 {
		cfg.Geocoder.CacheTTLMins = 24 * 60
	}
	if cfg.Geocoder.CacheBackend == "" {
		cfg.Geocoder.CacheBackend = "memory"
	}
	if cfg.Geocoder.RedisKeyspace == "" {
		cfg.Geocoder.RedisKeyspace = "bitechat:geocode:"
	}

	if cfg.Agent.Instruction == "" {
		cfg.Agent.Instruction = DefaultInstruction
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 6
	}
	if cfg.Agent.ToolTimeoutSecs == 0 {
		cfg.Agent.ToolTimeoutSecs = 15
	}
	if cfg.Agent.TurnTimeoutSecs == 0 {
		cfg.Agent.TurnTimeoutSecs = 120
	}

	if cfg.Session.TTLMins == 0 {
		cfg.Session.TTLMins = 60
	}
	if cfg.Session.CleanupMins == 0 {
		cfg.Session.CleanupMins = 10
	}

	if cfg.Assistant.AssistantIDEnv == "" {
		cfg.Assistant.AssistantIDEnv = "ASSISTANT_ID"
	}
	if cfg.Assistant.ThreadFile == "" {
		cfg.Assistant.ThreadFile = "thread_id.txt"
	}
	if cfg.Assistant.Instructions == "" {
		cfg.Assistant.Instructions = "Please address the user as Husky. Be attentive and passionate."
	}
	if cfg.Assistant.PollInitialMs == 0 {
		cfg.Assistant.PollInitialMs = 1000
	}
	if cfg.Assistant.PollMaxMs == 0 {
		cfg.Assistant.PollMaxMs = 8000
	}
	if cfg.Assistant.PollMaxWaitSecs == 0 {
		cfg.Assistant.PollMaxWaitSecs = 120
	}

	if cfg.Log.File == "" {
		cfg.Log.File = "logs/bitechat.log"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}
