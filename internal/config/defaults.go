package config

import "time"

// DefaultConfigPath is used when neither --config nor CCA_CONFIG is given.
const DefaultConfigPath = "~/.cca/config.json5"

// Default returns a config with every field populated.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "~/.cca/cca.db",
			MaxOpenConns:  25,
			MaxIdleConns:  10,
			BulkBatchSize: 500,
		},
		Embedding: EmbeddingConfig{
			Provider:          "ollama",
			BaseURL:           "http://localhost:11434",
			Model:             "nomic-embed-text",
			Dimensions:        768,
			BatchSize:         32,
			Concurrency:       4,
			MaxInputChars:     8192,
			MinChars:          10,
			Timeout:           Duration{60 * time.Second},
			RequestsPerSecond: 0,
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  Duration{2 * time.Second},
				MaxDelay:   Duration{30 * time.Second},
			},
			CacheSize: 4096,
		},
		Ingest: IngestConfig{
			ProjectsDir: "~/.claude/projects",
			Concurrency: 4,
			Debounce:    Duration{2 * time.Second},
		},
		Search: SearchConfig{
			DefaultLimit:        10,
			MaxLimit:            100,
			DefaultMaxDistance:  0.7,
			CandidateMultiplier: 4,
			ModelPolicy:         "reject",
			Bands: BandsConfig{
				VerySimilar:     0.3,
				Relevant:        0.5,
				SomewhatRelated: 0.7,
			},
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8787",
			RateLimitRPM:   600,
			RateLimitBurst: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			ServiceName: "cca",
		},
	}
}
