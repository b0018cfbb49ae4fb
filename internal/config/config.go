package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Collection string          `mapstructure:"collection"`
	Chunker    ChunkerConfig   `mapstructure:"chunker"`
	Embedding  EmbeddingConfig `mapstructure:"embedding"`
	Rerank     RerankConfig    `mapstructure:"rerank"`
	Vector     VectorConfig    `mapstructure:"vector"`
	Tracing    TracingConfig   `mapstructure:"tracing"`
	Log        LogConfig       `mapstructure:"log"`
}

type ChunkerConfig struct {
	Strategy            string  `mapstructure:"strategy"`
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	Tokenizer           string  `mapstructure:"tokenizer"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	CacheSize  int64  `mapstructure:"cache_size"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type RerankConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

type VectorConfig struct {
	Backend         string `mapstructure:"backend"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Collection      string `mapstructure:"collection"`
	OverFetchFactor int    `mapstructure:"over_fetch_factor"`
	PersistPath     string `mapstructure:"persist_path"`
}

// TracingConfig configures OTLP trace export. An empty endpoint leaves
// tracing disabled.
type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Embedding.Provider != "" && c.Embedding.Provider != "mock" && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", c.Embedding.Provider))
	}

	if c.Rerank.Enabled && c.Rerank.APIKey == "" {
		warnings = append(warnings, "rerank is enabled but api_key is empty")
	}

	if c.Chunker.ChunkSize > 0 && c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		warnings = append(warnings, fmt.Sprintf("chunk_overlap %d is not smaller than chunk_size %d", c.Chunker.ChunkOverlap, c.Chunker.ChunkSize))
	}

	if c.Chunker.SimilarityThreshold < 0 || c.Chunker.SimilarityThreshold > 1.0 {
		warnings = append(warnings, fmt.Sprintf("similarity_threshold %.2f is outside range [0.0, 1.0]", c.Chunker.SimilarityThreshold))
	}

	if c.Vector.Backend != "" && c.Vector.Backend != "local" && c.Vector.Backend != "qdrant" {
		warnings = append(warnings, fmt.Sprintf("unknown vector backend '%s', expected 'local' or 'qdrant'", c.Vector.Backend))
	}

	return warnings
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LODESTONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("collection", "knowledge")

	v.SetDefault("chunker.strategy", "recursive")
	v.SetDefault("chunker.chunk_size", 512)
	v.SetDefault("chunker.chunk_overlap", 50)
	v.SetDefault("chunker.tokenizer", "cl100k_base")
	v.SetDefault("chunker.similarity_threshold", 0.7)

	v.SetDefault("embedding.provider", "mock")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.cache_size", 64<<20)
	v.SetDefault("embedding.max_retries", 3)

	v.SetDefault("rerank.enabled", false)
	v.SetDefault("rerank.provider", "cohere")
	v.SetDefault("rerank.model", "rerank-v3.5")

	v.SetDefault("vector.backend", "local")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "knowledge")
	v.SetDefault("vector.over_fetch_factor", 3)

	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
