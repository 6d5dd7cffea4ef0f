package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docutag/curator"
	"github.com/docutag/curator/classifier"
	"github.com/docutag/curator/db"
	"github.com/docutag/curator/health"
	"github.com/docutag/curator/storage"
)

// Config holds all curator configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Storage  StorageConfig  `yaml:"storage"`
	Curator  CuratorConfig  `yaml:"curator"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the API service.
type ServerConfig struct {
	Port        string `yaml:"port"`
	CORSEnabled bool   `yaml:"cors_enabled"`
}

// DatabaseConfig selects the tree store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or sqlite
	DSN    string `yaml:"dsn"`
}

// AIConfig configures the classification backend.
type AIConfig struct {
	Backend     string `yaml:"backend"` // gemini, chat, ollama
	Endpoint    string `yaml:"endpoint"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	Timeout     string `yaml:"timeout"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// StorageConfig configures where tree snapshots are written. S3 is used
// when a bucket is set.
type StorageConfig struct {
	Path string   `yaml:"path"`
	S3   S3Config `yaml:"s3"`
}

// S3Config configures S3-compatible snapshot storage.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// CuratorConfig holds reorganization defaults.
type CuratorConfig struct {
	RootID        string   `yaml:"root_id"`
	BatchSize     int      `yaml:"batch_size"`
	MaxCategories int      `yaml:"max_categories"`
	Allowed       []string `yaml:"allowed"`
	MaxDepth      int      `yaml:"max_depth"`
	Overflow      string   `yaml:"overflow"`
	Flatten       bool     `yaml:"flatten"`
	Promote       bool     `yaml:"promote"`
	Review        bool     `yaml:"review"`
	Reorder       bool     `yaml:"reorder"`
}

// HealthConfig configures link probing.
type HealthConfig struct {
	Timeout string `yaml:"timeout"`
	Window  int    `yaml:"window"`
	Retries int    `yaml:"retries"`
	Strict  bool   `yaml:"strict"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Default returns the built-in configuration.
func Default() *Config {
	dbDefaults := db.DefaultConfig()
	aiDefaults := classifier.DefaultConfig()
	curatorDefaults := curator.DefaultConfig()
	healthDefaults := health.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			CORSEnabled: true,
		},
		Database: DatabaseConfig{
			Driver: dbDefaults.Driver,
			DSN:    dbDefaults.DSN,
		},
		AI: AIConfig{
			Backend:     aiDefaults.Backend,
			Model:       aiDefaults.Model,
			Timeout:     aiDefaults.Timeout.String(),
			MaxAttempts: aiDefaults.MaxAttempts,
		},
		Storage: StorageConfig{
			Path: storage.DefaultConfig().BasePath,
		},
		Curator: CuratorConfig{
			RootID:        curatorDefaults.RootID,
			BatchSize:     curatorDefaults.BatchSize,
			MaxCategories: curatorDefaults.MaxCategories,
			MaxDepth:      curatorDefaults.MaxDepth,
			Overflow:      curatorDefaults.Overflow,
		},
		Health: HealthConfig{
			Timeout: healthDefaults.Timeout.String(),
			Window:  healthDefaults.Window,
			Retries: healthDefaults.Retries,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}

	if driver := os.Getenv("CURATOR_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("CURATOR_DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}

	if backend := os.Getenv("CURATOR_AI_BACKEND"); backend != "" {
		c.AI.Backend = backend
	}
	if endpoint := os.Getenv("CURATOR_AI_ENDPOINT"); endpoint != "" {
		c.AI.Endpoint = endpoint
	}
	if model := os.Getenv("CURATOR_AI_MODEL"); model != "" {
		c.AI.Model = model
	}
	// Provider key as a fallback, the curator key wins
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.AI.APIKey == "" {
		c.AI.APIKey = key
	}
	if key := os.Getenv("CURATOR_AI_KEY"); key != "" {
		c.AI.APIKey = key
	}

	if path := os.Getenv("CURATOR_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
	if endpoint := os.Getenv("CURATOR_S3_ENDPOINT"); endpoint != "" {
		c.Storage.S3.Endpoint = endpoint
	}
	if region := os.Getenv("CURATOR_S3_REGION"); region != "" {
		c.Storage.S3.Region = region
	}
	if bucket := os.Getenv("CURATOR_S3_BUCKET"); bucket != "" {
		c.Storage.S3.Bucket = bucket
	}
	if id := os.Getenv("CURATOR_S3_ACCESS_KEY_ID"); id != "" {
		c.Storage.S3.AccessKeyID = id
	}
	if secret := os.Getenv("CURATOR_S3_SECRET_ACCESS_KEY"); secret != "" {
		c.Storage.S3.SecretAccessKey = secret
	}
	if v := os.Getenv("CURATOR_S3_USE_PATH_STYLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.S3.UsePathStyle = b
		}
	}

	if level := os.Getenv("CURATOR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid database driver %q: want postgres or sqlite", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch strings.ToLower(c.AI.Backend) {
	case classifier.BackendGemini, classifier.BackendChat, classifier.BackendOllama, "openai":
	default:
		return fmt.Errorf("invalid ai backend %q", c.AI.Backend)
	}

	if c.Curator.BatchSize < 0 {
		return fmt.Errorf("batch_size cannot be negative")
	}
	if c.Curator.MaxCategories < 0 {
		return fmt.Errorf("max_categories cannot be negative")
	}
	if c.Curator.MaxDepth < 0 {
		return fmt.Errorf("max_depth cannot be negative")
	}
	if c.Health.Window < 0 {
		return fmt.Errorf("health window cannot be negative")
	}
	return nil
}

// GetAITimeout returns the classification timeout as a duration.
func (c *Config) GetAITimeout() time.Duration {
	d, err := time.ParseDuration(c.AI.Timeout)
	if err != nil || d <= 0 {
		return classifier.DefaultConfig().Timeout
	}
	return d
}

// GetHealthTimeout returns the per-probe timeout as a duration.
func (c *Config) GetHealthTimeout() time.Duration {
	d, err := time.ParseDuration(c.Health.Timeout)
	if err != nil || d <= 0 {
		return health.DefaultConfig().Timeout
	}
	return d
}

// DBConfig returns the database settings.
func (c *Config) DBConfig() db.Config {
	return db.Config{Driver: c.Database.Driver, DSN: c.Database.DSN}
}

// ClassifierConfig returns the classifier settings over its defaults.
func (c *Config) ClassifierConfig() classifier.Config {
	cfg := classifier.DefaultConfig()
	cfg.Backend = strings.ToLower(c.AI.Backend)
	cfg.Endpoint = c.AI.Endpoint
	if c.AI.Model != "" {
		cfg.Model = c.AI.Model
	}
	cfg.APIKey = c.AI.APIKey
	cfg.Timeout = c.GetAITimeout()
	if c.AI.MaxAttempts > 0 {
		cfg.MaxAttempts = c.AI.MaxAttempts
	}
	return cfg
}

// CuratorConfig returns the orchestrator settings.
func (c *Config) CuratorConfig() curator.Config {
	cfg := curator.DefaultConfig()
	if c.Curator.RootID != "" {
		cfg.RootID = c.Curator.RootID
	}
	if c.Curator.BatchSize > 0 {
		cfg.BatchSize = c.Curator.BatchSize
	}
	cfg.MaxCategories = c.Curator.MaxCategories
	cfg.Allowed = c.Curator.Allowed
	if c.Curator.MaxDepth > 0 {
		cfg.MaxDepth = c.Curator.MaxDepth
	}
	if c.Curator.Overflow != "" {
		cfg.Overflow = c.Curator.Overflow
	}
	return cfg
}

// HealthConfig returns the link checker settings.
func (c *Config) HealthConfig() health.Config {
	cfg := health.DefaultConfig()
	cfg.Timeout = c.GetHealthTimeout()
	if c.Health.Window > 0 {
		cfg.Window = c.Health.Window
	}
	if c.Health.Retries >= 0 {
		cfg.Retries = c.Health.Retries
	}
	return cfg
}

// UseS3 reports whether snapshots go to S3.
func (c *Config) UseS3() bool {
	return c.Storage.S3.Bucket != ""
}

// S3Config returns the S3 snapshot store settings.
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Endpoint:        c.Storage.S3.Endpoint,
		Region:          c.Storage.S3.Region,
		Bucket:          c.Storage.S3.Bucket,
		AccessKeyID:     c.Storage.S3.AccessKeyID,
		SecretAccessKey: c.Storage.S3.SecretAccessKey,
		UsePathStyle:    c.Storage.S3.UsePathStyle,
	}
}
