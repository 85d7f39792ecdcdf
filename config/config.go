package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pool      PoolConfig      `yaml:"pool"`
	Storage   StorageConfig   `yaml:"storage"`
	VCS       VCSConfig       `yaml:"vcs"`
	Datastore DatastoreConfig `yaml:"datastore"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestSize  int64         `yaml:"max_request_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// PoolConfig contains repository handle pool configuration
type PoolConfig struct {
	MaxRepositories int           `yaml:"max_repositories"`
	MaxIdleTime     time.Duration `yaml:"max_idle_time"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig contains on-disk repository storage configuration
type StorageConfig struct {
	ReposRoot string `yaml:"repos_root"`
	GitBinary string `yaml:"git_binary"`
}

// VCSConfig contains version control behaviour settings
type VCSConfig struct {
	DefaultBranch       string        `yaml:"default_branch"`
	CheckoutSettleDelay time.Duration `yaml:"checkout_settle_delay"`
	AuthorName          string        `yaml:"author_name"`
	AuthorEmail         string        `yaml:"author_email"`
	MirrorTimeout       time.Duration `yaml:"mirror_timeout"`
}

// DatastoreConfig selects and configures the document store
type DatastoreConfig struct {
	Type             string        `yaml:"type"` // memory, bolt, mongodb
	Connection       string        `yaml:"connection"`
	Database         string        `yaml:"database"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// BroadcastConfig contains event fan-out configuration
type BroadcastConfig struct {
	Workers      int    `yaml:"workers"`
	QueueSize    int    `yaml:"queue_size"`
	ClientBuffer int    `yaml:"client_buffer"`
	RedisEnabled bool   `yaml:"redis_enabled"`
	RedisURL     string `yaml:"redis_url"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Component string `yaml:"component"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxRequestSize:  10 * 1024 * 1024, // 10MB
			AllowedOrigins:  []string{},
		},
		Pool: PoolConfig{
			MaxRepositories: 100,
			MaxIdleTime:     30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Storage: StorageConfig{
			ReposRoot: "./data/repos",
			GitBinary: "git",
		},
		VCS: VCSConfig{
			DefaultBranch: "main",
			AuthorName:    "Collaborative Editor",
			AuthorEmail:   "editor@localhost",
			MirrorTimeout: 5 * time.Second,
		},
		Datastore: DatastoreConfig{
			Type:             "memory",
			Database:         "editor",
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		Broadcast: BroadcastConfig{
			Workers:      4,
			QueueSize:    1024,
			ClientBuffer: 64,
			RedisURL:     "redis://localhost:6379/0",
		},
		Logging: LoggingConfig{
			Level:     "INFO",
			Format:    "json",
			Component: "vcsd",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	// Load from YAML file if provided and exists
	if configFile != "" {
		if err := loadFromFile(config, configFile); err != nil {
			// Don't fail if file doesn't exist, just use defaults
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config file %s: %w", configFile, err)
			}
		}
	}

	// Override with environment variables
	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	// Expand environment variables in YAML content
	expanded := os.ExpandEnv(string(data))

	return yaml.Unmarshal([]byte(expanded), config)
}

// loadFromEnv loads configuration from VCSD_* environment variables.
// Malformed numbers and durations are reported rather than ignored.
func loadFromEnv(config *Config) error {
	var errs []string

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.ToLower(v) == "true"
		}
	}

	// Server configuration
	str("VCSD_HOST", &config.Server.Host)
	integer("VCSD_PORT", &config.Server.Port)
	duration("VCSD_READ_TIMEOUT", &config.Server.ReadTimeout)
	duration("VCSD_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	duration("VCSD_SHUTDOWN_TIMEOUT", &config.Server.ShutdownTimeout)
	if origins := os.Getenv("VCSD_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	// Pool configuration
	integer("VCSD_POOL_MAX_REPOS", &config.Pool.MaxRepositories)
	duration("VCSD_POOL_IDLE_TIME", &config.Pool.MaxIdleTime)
	duration("VCSD_POOL_CLEANUP_INTERVAL", &config.Pool.CleanupInterval)

	// Storage configuration
	str("VCSD_REPOS_ROOT", &config.Storage.ReposRoot)
	str("VCSD_GIT_BINARY", &config.Storage.GitBinary)

	// VCS configuration
	str("VCSD_DEFAULT_BRANCH", &config.VCS.DefaultBranch)
	duration("VCSD_CHECKOUT_SETTLE_DELAY", &config.VCS.CheckoutSettleDelay)
	str("VCSD_AUTHOR_NAME", &config.VCS.AuthorName)
	str("VCSD_AUTHOR_EMAIL", &config.VCS.AuthorEmail)
	duration("VCSD_MIRROR_TIMEOUT", &config.VCS.MirrorTimeout)

	// Datastore configuration
	if t := os.Getenv("VCSD_DATASTORE_TYPE"); t != "" {
		config.Datastore.Type = strings.ToLower(t)
	}
	str("VCSD_DATASTORE_CONNECTION", &config.Datastore.Connection)
	str("VCSD_DATASTORE_DATABASE", &config.Datastore.Database)

	// Broadcast configuration
	integer("VCSD_BROADCAST_WORKERS", &config.Broadcast.Workers)
	integer("VCSD_BROADCAST_QUEUE_SIZE", &config.Broadcast.QueueSize)
	boolean("VCSD_REDIS_ENABLED", &config.Broadcast.RedisEnabled)
	str("VCSD_REDIS_URL", &config.Broadcast.RedisURL)

	// Logging configuration
	if level := os.Getenv("VCSD_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToUpper(level)
	}
	if format := os.Getenv("VCSD_LOG_FORMAT"); format != "" {
		config.Logging.Format = strings.ToLower(format)
	}

	// Metrics configuration
	boolean("VCSD_METRICS_ENABLED", &config.Metrics.Enabled)
	str("VCSD_METRICS_PATH", &config.Metrics.Path)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	// Pool validation
	if c.Pool.MaxRepositories <= 0 {
		return fmt.Errorf("pool max repositories must be positive")
	}
	if c.Pool.MaxIdleTime <= 0 {
		return fmt.Errorf("pool max idle time must be positive")
	}
	if c.Pool.CleanupInterval <= 0 {
		return fmt.Errorf("pool cleanup interval must be positive")
	}

	// Storage validation
	if c.Storage.ReposRoot == "" {
		return fmt.Errorf("storage repos root is required")
	}
	if c.Storage.GitBinary == "" {
		return fmt.Errorf("storage git binary is required")
	}

	// VCS validation
	if c.VCS.DefaultBranch == "" {
		return fmt.Errorf("default branch is required")
	}
	if c.VCS.CheckoutSettleDelay < 0 {
		return fmt.Errorf("checkout settle delay cannot be negative")
	}
	if c.VCS.AuthorName == "" || c.VCS.AuthorEmail == "" {
		return fmt.Errorf("system author name and email are required")
	}
	if c.VCS.MirrorTimeout <= 0 {
		return fmt.Errorf("mirror timeout must be positive")
	}

	// Datastore validation
	switch c.Datastore.Type {
	case "memory":
	case "bolt", "mongodb":
		if c.Datastore.Connection == "" {
			return fmt.Errorf("datastore connection is required for %s", c.Datastore.Type)
		}
	default:
		return fmt.Errorf("invalid datastore type: %s", c.Datastore.Type)
	}

	// Broadcast validation
	if c.Broadcast.Workers <= 0 {
		return fmt.Errorf("broadcast workers must be positive")
	}
	if c.Broadcast.QueueSize <= 0 || c.Broadcast.ClientBuffer <= 0 {
		return fmt.Errorf("broadcast queue sizes must be positive")
	}
	if c.Broadcast.RedisEnabled && c.Broadcast.RedisURL == "" {
		return fmt.Errorf("redis url is required when the redis relay is enabled")
	}

	// Logging validation
	validLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}

	return nil
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
