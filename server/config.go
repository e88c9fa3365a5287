package server

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fieldnotesco/ragserve/pkg/rag"
)

// Version reported by the health endpoint.
const Version = "1.0"

// Config is the full service configuration. It is loaded from an
// optional TOML file with credentials and the vector-search endpoint
// overridable from the environment, and handed to the components
// explicitly so tests can substitute fakes without touching the
// process environment.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Generation GenerationConfig `toml:"generation"`
	Retrieval  RetrievalConfig  `toml:"retrieval"`
	Qdrant     QdrantConfig     `toml:"qdrant"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr string `toml:"listen"`

	// RateLimitRPS bounds chat requests per second; 0 disables limiting.
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"-"` // environment only, never from file
	Model       string `toml:"model"`
	Dimension   int    `toml:"dimension"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

// GenerationConfig configures the generative-model provider.
type GenerationConfig struct {
	BaseURL      string `toml:"base_url"`
	Model        string `toml:"model"`
	SystemPrompt string `toml:"system_prompt"`
	TimeoutSecs  int    `toml:"timeout_secs"`
}

// RetrievalConfig tunes the retrieval step and the retry policy shared
// by all three upstream calls.
type RetrievalConfig struct {
	TopK        int `toml:"top_k"`
	TimeoutSecs int `toml:"timeout_secs"`
	MaxRetries  int `toml:"max_retries"`
	RetryBaseMS int `toml:"retry_base_ms"`
}

// QdrantConfig configures the remote vector-search service. When URL is
// empty the service falls back to the local SQLite index.
type QdrantConfig struct {
	URL        string `toml:"url"`
	APIKey     string `toml:"-"` // environment only
	Collection string `toml:"collection"`
}

// SQLiteConfig configures the local sqlite-vec index.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Embedding: EmbeddingConfig{
			Model:       "text-embedding-3-small",
			Dimension:   1536,
			TimeoutSecs: 30,
		},
		Generation: GenerationConfig{
			Model:       "gpt-4o-mini",
			TimeoutSecs: 120,
		},
		Retrieval: RetrievalConfig{
			TopK:        4,
			TimeoutSecs: 30,
			MaxRetries:  2,
			RetryBaseMS: 200,
		},
		Qdrant: QdrantConfig{
			Collection: "passages",
		},
		SQLite: SQLiteConfig{
			Path: "ragserve.db",
		},
	}
}

// LoadConfig reads the TOML file at path on top of the defaults, then
// applies environment overrides. A missing file is not an error; a
// missing credential is, at Validate time.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, rag.ConfigurationError{Reason: "parse " + path + ": " + err.Error()}
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv pulls credentials and the vector-search endpoint from the
// environment. These always win over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
		if c.Generation.BaseURL == "" {
			c.Generation.BaseURL = v
		}
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		c.Qdrant.URL = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		c.Qdrant.APIKey = v
	}
}

// Validate checks that everything required to serve traffic is present.
// Failures here are fatal at startup, never per-request.
func (c *Config) Validate() error {
	if c.Embedding.APIKey == "" {
		return rag.ConfigurationError{Reason: "OPENAI_API_KEY is not set"}
	}
	if c.Qdrant.URL == "" && c.SQLite.Path == "" {
		return rag.ConfigurationError{Reason: "no vector store configured: set qdrant.url (or QDRANT_URL) or sqlite.path"}
	}
	if c.Embedding.Dimension <= 0 {
		return rag.ConfigurationError{Reason: "embedding.dimension must be positive"}
	}
	return nil
}

// OrchestratorOptions converts the configured tuning values into
// rag.Options.
func (c *Config) OrchestratorOptions() rag.Options {
	return rag.Options{
		TopK:            c.Retrieval.TopK,
		SystemPrompt:    c.Generation.SystemPrompt,
		EmbedTimeout:    time.Duration(c.Embedding.TimeoutSecs) * time.Second,
		RetrieveTimeout: time.Duration(c.Retrieval.TimeoutSecs) * time.Second,
		GenerateTimeout: time.Duration(c.Generation.TimeoutSecs) * time.Second,
		MaxRetries:      c.Retrieval.MaxRetries,
		RetryBase:       time.Duration(c.Retrieval.RetryBaseMS) * time.Millisecond,
	}
}
