package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides (CCA_DATABASE_DSN,
// CCA_EMBEDDING_RETRY_MAX_DELAY, ...).
const EnvPrefix = "CCA"

// Config is the root configuration for cca.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database" split_words:"true"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" split_words:"true"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest" split_words:"true"`
	Search    SearchConfig    `json:"search" yaml:"search" split_words:"true"`
	Server    ServerConfig    `json:"server" yaml:"server" split_words:"true"`
	Log       LogConfig       `json:"log" yaml:"log" split_words:"true"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing" split_words:"true"`
}

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	// Backend is "postgres" or "sqlite". Empty means postgres when DSN is set, sqlite otherwise.
	Backend       string `json:"backend" yaml:"backend" split_words:"true"`
	DSN           string `json:"dsn" yaml:"dsn" split_words:"true"`
	Path          string `json:"path" yaml:"path"` // sqlite database file
	MaxOpenConns  int    `json:"max_open_conns" yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns  int    `json:"max_idle_conns" yaml:"max_idle_conns" split_words:"true"`
	BulkBatchSize int    `json:"bulk_batch_size" yaml:"bulk_batch_size" split_words:"true"`
}

// EmbeddingConfig configures the external embedding service and the generator around it.
type EmbeddingConfig struct {
	Provider          string      `json:"provider" yaml:"provider" split_words:"true"` // "ollama" (default) or "openai"
	BaseURL           string      `json:"base_url" yaml:"base_url" split_words:"true"`
	APIKey            string      `json:"api_key" yaml:"api_key" split_words:"true"`
	Model             string      `json:"model" yaml:"model" split_words:"true"`
	Dimensions        int         `json:"dimensions" yaml:"dimensions" split_words:"true"`
	BatchSize         int         `json:"batch_size" yaml:"batch_size" split_words:"true"`
	Concurrency       int         `json:"concurrency" yaml:"concurrency" split_words:"true"`
	MaxInputChars     int         `json:"max_input_chars" yaml:"max_input_chars" split_words:"true"`
	MinChars          int         `json:"min_chars" yaml:"min_chars" split_words:"true"`
	Timeout           Duration    `json:"timeout" yaml:"timeout" split_words:"true"`
	RequestsPerSecond float64     `json:"requests_per_second" yaml:"requests_per_second" split_words:"true"`
	Retry             RetryConfig `json:"retry" yaml:"retry" split_words:"true"`
	CacheSize         int         `json:"cache_size" yaml:"cache_size" split_words:"true"`
	CachePath         string      `json:"cache_path" yaml:"cache_path" split_words:"true"`
}

// RetryConfig controls exponential backoff for embedding calls.
type RetryConfig struct {
	MaxRetries int      `json:"max_retries" yaml:"max_retries" split_words:"true"`
	BaseDelay  Duration `json:"base_delay" yaml:"base_delay" split_words:"true"`
	MaxDelay   Duration `json:"max_delay" yaml:"max_delay" split_words:"true"`
}

// IngestConfig configures log discovery and the ingestion pipeline.
type IngestConfig struct {
	ProjectsDir string   `json:"projects_dir" yaml:"projects_dir" split_words:"true"`
	Concurrency int      `json:"concurrency" yaml:"concurrency" split_words:"true"`
	Debounce    Duration `json:"debounce" yaml:"debounce" split_words:"true"`
	// Schedule is a cron expression for periodic ingest + backfill in serve mode. Empty disables it.
	Schedule string `json:"schedule" yaml:"schedule" split_words:"true"`
}

// SearchConfig configures query defaults and ranking guidance.
type SearchConfig struct {
	DefaultLimit        int         `json:"default_limit" yaml:"default_limit" split_words:"true"`
	MaxLimit            int         `json:"max_limit" yaml:"max_limit" split_words:"true"`
	DefaultMaxDistance  float64     `json:"default_max_distance" yaml:"default_max_distance" split_words:"true"`
	CandidateMultiplier int         `json:"candidate_multiplier" yaml:"candidate_multiplier" split_words:"true"`
	ModelPolicy         string      `json:"model_policy" yaml:"model_policy" split_words:"true"` // "reject" or "warn"
	Bands               BandsConfig `json:"bands" yaml:"bands" split_words:"true"`
}

// BandsConfig holds the distance cutoffs used to label results.
// They never filter results; MaxDistance does that.
type BandsConfig struct {
	VerySimilar     float64 `json:"very_similar" yaml:"very_similar" split_words:"true"`
	Relevant        float64 `json:"relevant" yaml:"relevant" split_words:"true"`
	SomewhatRelated float64 `json:"somewhat_related" yaml:"somewhat_related" split_words:"true"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen         string   `json:"listen" yaml:"listen" split_words:"true"`
	Token          string   `json:"token" yaml:"token" split_words:"true"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" split_words:"true"`
	RateLimitRPM   int      `json:"rate_limit_rpm" yaml:"rate_limit_rpm" split_words:"true"`
	RateLimitBurst int      `json:"rate_limit_burst" yaml:"rate_limit_burst" split_words:"true"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" split_words:"true"`
	Format string `json:"format" yaml:"format" split_words:"true"` // "json" or "console"
}

// TracingConfig configures the OTLP exporter. Empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint" split_words:"true"`
	Protocol    string `json:"protocol" yaml:"protocol" split_words:"true"`
	Insecure    bool   `json:"insecure" yaml:"insecure" split_words:"true"`
	ServiceName string `json:"service_name" yaml:"service_name" split_words:"true"`
}

// Load reads the config file at path (json5 or yaml, by extension) on top of
// Default(), then applies CCA_* environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		switch {
		case err == nil:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Embedding.CachePath = ExpandHome(cfg.Embedding.CachePath)
	cfg.Ingest.ProjectsDir = ExpandHome(cfg.Ingest.ProjectsDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "", BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("database.backend: unknown backend %q", c.Database.Backend)
	}
	if c.ResolvedBackend() == BackendPostgres && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres backend")
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.Concurrency <= 0 {
		return fmt.Errorf("embedding.batch_size and embedding.concurrency must be positive")
	}
	switch c.Search.ModelPolicy {
	case "reject", "warn":
	default:
		return fmt.Errorf("search.model_policy: must be reject or warn, got %q", c.Search.ModelPolicy)
	}
	b := c.Search.Bands
	if !(b.VerySimilar <= b.Relevant && b.Relevant <= b.SomewhatRelated) {
		return fmt.Errorf("search.bands must be ascending: %.2f / %.2f / %.2f", b.VerySimilar, b.Relevant, b.SomewhatRelated)
	}
	if c.Search.DefaultMaxDistance < 0 || c.Search.DefaultMaxDistance > 2 {
		return fmt.Errorf("search.default_max_distance must be within [0, 2]")
	}
	return nil
}

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// ResolvedBackend returns the effective storage backend.
func (c *Config) ResolvedBackend() string {
	if c.Database.Backend != "" {
		return c.Database.Backend
	}
	if c.Database.DSN != "" {
		return BackendPostgres
	}
	return BackendSQLite
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
