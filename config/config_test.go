package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", config.Server.Port)
	}
	if config.VCS.DefaultBranch != "main" {
		t.Errorf("Expected default branch main, got %s", config.VCS.DefaultBranch)
	}
	if config.VCS.CheckoutSettleDelay != 0 {
		t.Errorf("Expected no checkout settle delay by default, got %v", config.VCS.CheckoutSettleDelay)
	}
	if config.Datastore.Type != "memory" {
		t.Errorf("Expected memory datastore by default, got %s", config.Datastore.Type)
	}
	if config.Broadcast.RedisEnabled {
		t.Error("Expected redis relay to be disabled by default")
	}
	if config.Logging.Level != "INFO" {
		t.Errorf("Expected default log level INFO, got %s", config.Logging.Level)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "vcsd.yaml")

	t.Setenv("TEST_REPOS_ROOT", filepath.Join(tmpDir, "repos"))

	configContent := `
server:
  port: 9090
  host: "127.0.0.1"

pool:
  max_repositories: 50
  max_idle_time: "15m"

storage:
  repos_root: "${TEST_REPOS_ROOT}"

vcs:
  default_branch: "trunk"
  checkout_settle_delay: "200ms"

datastore:
  type: bolt
  connection: "/tmp/vcsd.db"

logging:
  level: "DEBUG"
  format: "text"

metrics:
  enabled: false
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", config.Server.Port)
	}
	if config.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1, got %s", config.Server.Host)
	}
	if config.Pool.MaxRepositories != 50 {
		t.Errorf("Expected pool max repos 50, got %d", config.Pool.MaxRepositories)
	}
	if config.Pool.MaxIdleTime != 15*time.Minute {
		t.Errorf("Expected idle time 15m, got %v", config.Pool.MaxIdleTime)
	}
	if config.Storage.ReposRoot != filepath.Join(tmpDir, "repos") {
		t.Errorf("Expected env-expanded repos root, got %s", config.Storage.ReposRoot)
	}
	if config.VCS.DefaultBranch != "trunk" {
		t.Errorf("Expected default branch trunk, got %s", config.VCS.DefaultBranch)
	}
	if config.VCS.CheckoutSettleDelay != 200*time.Millisecond {
		t.Errorf("Expected settle delay 200ms, got %v", config.VCS.CheckoutSettleDelay)
	}
	if config.Datastore.Type != "bolt" {
		t.Errorf("Expected bolt datastore, got %s", config.Datastore.Type)
	}
	if config.Metrics.Enabled {
		t.Error("Expected metrics to be disabled")
	}
	// untouched sections keep defaults
	if config.Broadcast.Workers != 4 {
		t.Errorf("Expected default broadcast workers, got %d", config.Broadcast.Workers)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Missing config file should not fail: %v", err)
	}
	if config.Server.Port != 8080 {
		t.Errorf("Expected default port, got %d", config.Server.Port)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("server: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(configFile); err == nil {
		t.Error("Expected an error for malformed YAML")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("VCSD_PORT", "7070")
	t.Setenv("VCSD_REPOS_ROOT", "/srv/repos")
	t.Setenv("VCSD_DEFAULT_BRANCH", "develop")
	t.Setenv("VCSD_CHECKOUT_SETTLE_DELAY", "1s")
	t.Setenv("VCSD_DATASTORE_TYPE", "MongoDB")
	t.Setenv("VCSD_DATASTORE_CONNECTION", "mongodb://localhost:27017")
	t.Setenv("VCSD_REDIS_ENABLED", "true")
	t.Setenv("VCSD_LOG_LEVEL", "warn")
	t.Setenv("VCSD_ALLOWED_ORIGINS", "http://a.example,http://b.example")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Port != 7070 {
		t.Errorf("Expected port 7070, got %d", config.Server.Port)
	}
	if config.Storage.ReposRoot != "/srv/repos" {
		t.Errorf("Expected repos root /srv/repos, got %s", config.Storage.ReposRoot)
	}
	if config.VCS.DefaultBranch != "develop" {
		t.Errorf("Expected default branch develop, got %s", config.VCS.DefaultBranch)
	}
	if config.VCS.CheckoutSettleDelay != time.Second {
		t.Errorf("Expected settle delay 1s, got %v", config.VCS.CheckoutSettleDelay)
	}
	if config.Datastore.Type != "mongodb" {
		t.Errorf("Expected mongodb datastore, got %s", config.Datastore.Type)
	}
	if !config.Broadcast.RedisEnabled {
		t.Error("Expected redis relay to be enabled")
	}
	if config.Logging.Level != "WARN" {
		t.Errorf("Expected log level WARN, got %s", config.Logging.Level)
	}
	if len(config.Server.AllowedOrigins) != 2 {
		t.Errorf("Expected 2 allowed origins, got %v", config.Server.AllowedOrigins)
	}
}

func TestLoadConfigFromEnv_Malformed(t *testing.T) {
	t.Setenv("VCSD_PORT", "eighty")
	t.Setenv("VCSD_POOL_IDLE_TIME", "soon")

	_, err := LoadConfig("")
	if err == nil {
		t.Fatal("Expected malformed env values to be reported")
	}
	if !strings.Contains(err.Error(), "VCSD_PORT") || !strings.Contains(err.Error(), "VCSD_POOL_IDLE_TIME") {
		t.Errorf("Expected both keys in the error, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "read timeout"},
		{"zero pool size", func(c *Config) { c.Pool.MaxRepositories = 0 }, "pool max repositories"},
		{"empty repos root", func(c *Config) { c.Storage.ReposRoot = "" }, "repos root"},
		{"empty default branch", func(c *Config) { c.VCS.DefaultBranch = "" }, "default branch"},
		{"negative settle delay", func(c *Config) { c.VCS.CheckoutSettleDelay = -time.Second }, "settle delay"},
		{"missing author", func(c *Config) { c.VCS.AuthorEmail = "" }, "author"},
		{"unknown datastore", func(c *Config) { c.Datastore.Type = "postgres" }, "invalid datastore type"},
		{"bolt without path", func(c *Config) { c.Datastore.Type = "bolt" }, "connection is required"},
		{"redis without url", func(c *Config) {
			c.Broadcast.RedisEnabled = true
			c.Broadcast.RedisURL = ""
		}, "redis url"},
		{"bad log level", func(c *Config) { c.Logging.Level = "LOUD" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics path"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.modify(config)

			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("Expected error containing %q, got %v", tc.errMsg, err)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	config := DefaultConfig()
	config.Server.Host = "localhost"
	config.Server.Port = 3000
	if got := config.Address(); got != "localhost:3000" {
		t.Errorf("Expected localhost:3000, got %s", got)
	}
}
