package datastore

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config represents the configuration for a datastore
type Config struct {
	Type       string `yaml:"type" json:"type"`
	Connection string `yaml:"connection" json:"connection"`
	Database   string `yaml:"database" json:"database"`

	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	OperationTimeout  time.Duration `yaml:"operation_timeout" json:"operation_timeout"`
}

// DatabaseType constants
const (
	TypeMemory  = "memory"
	TypeBolt    = "bolt"
	TypeMongoDB = "mongodb"
)

// DefaultConfig returns default configuration for a database type
func DefaultConfig(dbType string) Config {
	switch dbType {
	case TypeMemory:
		return Config{Type: TypeMemory}

	case TypeBolt:
		return Config{
			Type:              TypeBolt,
			Connection:        "./data/vcsd.db",
			ConnectionTimeout: 10 * time.Second,
		}

	case TypeMongoDB:
		return Config{
			Type:              TypeMongoDB,
			Connection:        "mongodb://localhost:27017",
			Database:          "editor",
			ConnectionTimeout: 10 * time.Second,
			OperationTimeout:  5 * time.Second,
		}

	default:
		return Config{Type: dbType}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("database type is required")
	}

	switch c.Type {
	case TypeMemory:
		// Memory doesn't need connection string

	case TypeBolt:
		if c.Connection == "" {
			return fmt.Errorf("%s requires a file path", c.Type)
		}

	case TypeMongoDB:
		if c.Connection == "" {
			return fmt.Errorf("%s requires a connection string", c.Type)
		}
	}

	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("connection_timeout must be positive")
	}
	if c.OperationTimeout < 0 {
		return fmt.Errorf("operation_timeout must be positive")
	}

	return nil
}

// Factory creates an uninitialised store for a configuration.
type Factory func(config Config) (DocumentStore, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under a type name. Backends call it
// from init.
func Register(dbType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[dbType] = factory
}

// Types lists registered backend names.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Open validates config, creates the registered backend and initialises it.
func Open(config Config) (DocumentStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid datastore config: %w", err)
	}

	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported datastore type %q (registered: %v)", config.Type, Types())
	}

	store, err := factory(config)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(config); err != nil {
		return nil, err
	}
	return store, nil
}
