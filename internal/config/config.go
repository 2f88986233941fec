package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Store     StoreConfig     `mapstructure:"store"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// OpsPort serves liveness/readiness probes and Prometheus metrics.
	// Zero disables the ops listener.
	OpsPort int `mapstructure:"ops_port"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// EmbeddingConfig selects how documents and queries are vectorized.
// Source "local" uses the built-in hashing embedder; "llm" delegates to the
// configured LLM provider's embedding endpoint.
type EmbeddingConfig struct {
	Source    string `mapstructure:"source"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// VectorConfig selects the vector repository backend: "memory" or "qdrant".
type VectorConfig struct {
	Backend    string `mapstructure:"backend"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ChunkerConfig tunes server-side text splitting for /chat/ingest/text.
type ChunkerConfig struct {
	Size    int `mapstructure:"size"`    // target chunk length in runes
	Overlap int `mapstructure:"overlap"` // runes shared between adjacent chunks
}

type RAGConfig struct {
	TopK         int           `mapstructure:"top_k"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	HistoryLimit int           `mapstructure:"history_limit"`
	GenTimeout   time.Duration `mapstructure:"gen_timeout"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Environment  string  `mapstructure:"environment"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// AuditConfig controls the JSONL audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // file path, "stdout", or "stderr"
}

// SecretsConfig selects the secrets backend: "env", "file", or "vault".
// Environment variables remain the fallback for every backend.
type SecretsConfig struct {
	Provider string `mapstructure:"provider"`

	// FilePath locates the JSON secrets file for the "file" backend.
	FilePath string `mapstructure:"file_path"`

	// Vault connection settings for the "vault" backend.
	VaultAddress string `mapstructure:"vault_address"`
	VaultToken   string `mapstructure:"vault_token"`
	VaultMount   string `mapstructure:"vault_mount"`
	VaultPath    string `mapstructure:"vault_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// keylessProviders run without an API key.
var keylessProviders = map[string]bool{
	"":       true,
	"none":   true,
	"ollama": true,
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if !keylessProviders[c.LLM.Provider] && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}

	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}

	switch c.Vector.Backend {
	case "", "memory", "qdrant":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown vector backend '%s', falling back to memory", c.Vector.Backend))
	}

	switch c.Embedding.Source {
	case "", "local", "llm":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown embedding source '%s', falling back to local", c.Embedding.Source))
	}

	if c.Embedding.Source == "llm" && (c.LLM.Provider == "" || c.LLM.Provider == "none") {
		warnings = append(warnings, "embedding source 'llm' requires a configured LLM provider")
	}

	switch c.Secrets.Provider {
	case "", "env", "file", "vault":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown secrets provider '%s'", c.Secrets.Provider))
	}

	if c.Secrets.Provider == "vault" && c.Secrets.VaultToken == "" {
		warnings = append(warnings, "secrets provider 'vault' is configured but vault_token is empty")
	}

	if c.RAG.TopK < 0 {
		warnings = append(warnings, fmt.Sprintf("rag top_k %d is negative", c.RAG.TopK))
	}

	return warnings
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RAGSERVE")
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
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ops_port", 8081)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("embedding.source", "local")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "documents")
	v.SetDefault("store.dsn", "ragserve.db")
	v.SetDefault("chunker.size", 1000)
	v.SetDefault("chunker.overlap", 200)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.history_limit", 20)
	v.SetDefault("rag.gen_timeout", "60s")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", "stdout")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
