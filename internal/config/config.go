// Package config loads tiermem settings from ~/.tiermem/config.yaml and
// TIERMEM_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. TIERMEM_STORE_PATH.
const EnvPrefix = "TIERMEM"

// Config holds all configuration values.
type Config struct {
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Backup     BackupConfig     `mapstructure:"backup" yaml:"backup"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" yaml:"embedding"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval" yaml:"retrieval"`
	Reflection ReflectionConfig `mapstructure:"reflection" yaml:"reflection"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

type StoreConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

type BackupConfig struct {
	// Dir defaults to a "backups" directory next to the store file.
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
	MaxCount int           `mapstructure:"max_count" yaml:"max_count"`
	// Auto enables backups triggered by writes.
	Auto bool `mapstructure:"auto" yaml:"auto"`
}

type EmbeddingConfig struct {
	// Provider is one of local, ollama, openai, onnx or none.
	Provider      string `mapstructure:"provider" yaml:"provider"`
	Model         string `mapstructure:"model" yaml:"model"`
	Dims          int    `mapstructure:"dims" yaml:"dims"`
	URL           string `mapstructure:"url" yaml:"url"`
	APIKey        string `mapstructure:"api_key" yaml:"api_key"`
	CacheSize     int    `mapstructure:"cache_size" yaml:"cache_size"`
	ModelPath     string `mapstructure:"model_path" yaml:"model_path"`
	TokenizerPath string `mapstructure:"tokenizer_path" yaml:"tokenizer_path"`
	LibraryPath   string `mapstructure:"library_path" yaml:"library_path"`
}

type LLMConfig struct {
	// Provider is one of anthropic, openai, ollama or none.
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	URL       string `mapstructure:"url" yaml:"url"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

type RetrievalConfig struct {
	DefaultLimit         int     `mapstructure:"default_limit" yaml:"default_limit"`
	KeywordFloor         float64 `mapstructure:"keyword_floor" yaml:"keyword_floor"`
	SpecificKeywordFloor float64 `mapstructure:"specific_keyword_floor" yaml:"specific_keyword_floor"`
}

type ReflectionConfig struct {
	MaxChars int `mapstructure:"max_chars" yaml:"max_chars"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// Dir returns the tiermem home directory (~/.tiermem).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tiermem"
	}
	return filepath.Join(home, ".tiermem")
}

// DefaultPath is the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Store: StoreConfig{
			Path:        filepath.Join(dir, "memory.db"),
			MaxRetries:  5,
			RetryDelay:  50 * time.Millisecond,
			BusyTimeout: 5 * time.Second,
		},
		Backup: BackupConfig{
			Interval: 24 * time.Hour,
			MaxAge:   7 * 24 * time.Hour,
			MaxCount: 10,
			Auto:     true,
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Dims:      384,
			CacheSize: 1000,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			MaxTokens: 2048,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:         10,
			KeywordFloor:         1.0,
			SpecificKeywordFloor: 0.5,
		},
		Reflection: ReflectionConfig{
			MaxChars: 12000,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dir, "logs", "tiermem.log"),
		},
	}
}

// Load reads the default config file, creating it when missing.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// LoadFromPath reads configuration from path and merges environment
// overrides. A missing file is created with default values.
func LoadFromPath(path string) (*Config, error) {
	path = ExpandPath(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := Default().SaveToPath(path); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.Backup.Dir = ExpandPath(cfg.Backup.Dir)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	cfg.Embedding.ModelPath = ExpandPath(cfg.Embedding.ModelPath)
	cfg.Embedding.TokenizerPath = ExpandPath(cfg.Embedding.TokenizerPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveToPath writes the configuration as YAML.
func (c *Config) SaveToPath(path string) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate rejects values the rest of the system cannot work with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}
	switch c.Embedding.Provider {
	case "local", "ollama", "openai", "onnx", "none", "":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama", "none", "":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.Retrieval.KeywordFloor < 0 || c.Retrieval.SpecificKeywordFloor < 0 {
		return fmt.Errorf("config: keyword floors must not be negative")
	}
	return nil
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	return ParseLogLevel(c.Logging.Level)
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.max_retries", d.Store.MaxRetries)
	v.SetDefault("store.retry_delay", d.Store.RetryDelay)
	v.SetDefault("store.busy_timeout", d.Store.BusyTimeout)
	v.SetDefault("backup.dir", d.Backup.Dir)
	v.SetDefault("backup.interval", d.Backup.Interval)
	v.SetDefault("backup.max_age", d.Backup.MaxAge)
	v.SetDefault("backup.max_count", d.Backup.MaxCount)
	v.SetDefault("backup.auto", d.Backup.Auto)
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dims", d.Embedding.Dims)
	v.SetDefault("embedding.url", d.Embedding.URL)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)
	v.SetDefault("embedding.model_path", d.Embedding.ModelPath)
	v.SetDefault("embedding.tokenizer_path", d.Embedding.TokenizerPath)
	v.SetDefault("embedding.library_path", d.Embedding.LibraryPath)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.url", d.LLM.URL)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("retrieval.default_limit", d.Retrieval.DefaultLimit)
	v.SetDefault("retrieval.keyword_floor", d.Retrieval.KeywordFloor)
	v.SetDefault("retrieval.specific_keyword_floor", d.Retrieval.SpecificKeywordFloor)
	v.SetDefault("reflection.max_chars", d.Reflection.MaxChars)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// ParseLogLevel maps a level name to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
