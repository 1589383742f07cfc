package rhizome

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bbiangul/rhizome/mapping"
	"github.com/bbiangul/rhizome/relay"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "RHIZOME_"

// Config holds all configuration for the rhizome engine and server.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.rhizome/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path" env:"DB_PATH"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name" env:"DB_NAME"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. "home" (default) uses ~/.rhizome/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" env:"STORAGE_DIR"`

	// LLM providers. Embedding is optional; without it node similarity
	// search is disabled.
	Chat      LLMConfig `json:"chat" yaml:"chat" envPrefix:"CHAT_"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding" envPrefix:"EMBEDDING_"`

	// RelayURL sends every completion through a remote relay instead of
	// calling the chat provider directly. RelayToken is the relay's API key.
	RelayURL   string `json:"relay_url" yaml:"relay_url" env:"RELAY_URL"`
	RelayToken string `json:"relay_token" yaml:"relay_token" env:"RELAY_TOKEN"`

	// Completion parameters
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" yaml:"temperature" env:"TEMPERATURE"`

	// Mapping
	Rounds     int           `json:"rounds" yaml:"rounds" env:"ROUNDS"`
	RoundDelay time.Duration `json:"round_delay" yaml:"round_delay" env:"ROUND_DELAY"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim" env:"EMBEDDING_DIM"`

	// CatalogPath replaces the built-in card catalog.
	CatalogPath string `json:"catalog_path" yaml:"catalog_path" env:"CATALOG_PATH"`

	Relay  relay.Config `json:"relay" yaml:"relay" envPrefix:"RELAY_"`
	Server ServerConfig `json:"server" yaml:"server" envPrefix:"SERVER_"`

	LogLevel string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider" env:"PROVIDER"` // anthropic, openai, ollama, lmstudio, openrouter, groq, gemini, custom
	Model    string `json:"model" yaml:"model" env:"MODEL"`
	BaseURL  string `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	APIKey   string `json:"api_key" yaml:"api_key" env:"API_KEY"`
}

// ServerConfig configures cmd/server.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" env:"ADDR"`
	APIKey          string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	CORSOrigins     string        `json:"cors_origins" yaml:"cors_origins" env:"CORS_ORIGINS"`
	RequestTimeout  time.Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns a Config that talks to Anthropic directly and keeps
// its archive in ~/.rhizome/rhizome.db.
func DefaultConfig() Config {
	return Config{
		DBName:     "rhizome",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
		},
		MaxTokens:    4000,
		Rounds:       mapping.DefaultRounds,
		RoundDelay:   mapping.DefaultRoundDelay,
		EmbeddingDim: 768,
		Relay:        relay.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":3000",
			RequestTimeout:  10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// LoadConfig layers configuration sources over DefaultConfig: the YAML file
// at path (skipped when path is empty), then a .env file in the working
// directory if present, then RHIZOME_* environment variables. An Anthropic
// chat provider without a key falls back to ANTHROPIC_API_KEY.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if cfg.Chat.Provider == "anthropic" && cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Rounds < 1:
		return fmt.Errorf("%w: rounds must be at least 1", ErrInvalidConfig)
	case c.RoundDelay < 0:
		return fmt.Errorf("%w: round_delay must not be negative", ErrInvalidConfig)
	case c.MaxTokens < 1:
		return fmt.Errorf("%w: max_tokens must be at least 1", ErrInvalidConfig)
	case c.Embedding.Provider != "" && c.EmbeddingDim < 1:
		return fmt.Errorf("%w: embedding_dim must be set when an embedding provider is configured", ErrInvalidConfig)
	case c.Chat.Provider == "" && c.RelayURL == "":
		return fmt.Errorf("%w: either chat.provider or relay_url is required", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "rhizome"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".rhizome", name+".db")
	}
}
