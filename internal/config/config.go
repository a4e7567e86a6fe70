// Package config handles configuration loading for the PunchOut gateway.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials and the admin key to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, TLS, base URL, admin key)
//   - storage: Database connection (MongoDB URI, database name)
//   - secrets: Shared-secret resolution mode (env or static)
//   - punchout: Protocol engine settings (session TTL, delivery timeout)
//   - retention: Audit log retention window
//   - observability: Metrics endpoint
//
// # Example Configuration
//
//	server:
//	  port: 8080
//	  baseUrl: https://punchout.example.com
//	  adminKey: ${PUNCHOUT_ADMIN_KEY}
//
//	storage:
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: punchout
//
//	punchout:
//	  sessionTTL: 1h
//	  deliveryTimeout: 30s
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	PunchOut  PunchOutConfig  `yaml:"punchout"`
	Retention RetentionConfig `yaml:"retention"`
	Metrics   MetricsConfig   `yaml:"observability"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int `yaml:"port"`
	// BaseURL is the externally visible origin used when building the
	// storefront start-page URL handed back in setup responses.
	BaseURL  string `yaml:"baseUrl"`
	AdminKey string `yaml:"adminKey"` // API key for admin endpoints
	TLS      struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// SecretsConfig holds shared-secret resolution settings
type SecretsConfig struct {
	// Mode determines how shared-secret references are resolved
	// - "env": references name environment variables
	// - "static": references key the Static map below (tests/development)
	Mode   string            `yaml:"mode"`
	Static map[string]string `yaml:"static"`
}

// PunchOutConfig holds protocol engine settings
type PunchOutConfig struct {
	SessionTTL      time.Duration `yaml:"sessionTTL"`
	DeliveryTimeout time.Duration `yaml:"deliveryTimeout"`
}

// RetentionConfig holds audit retention settings
type RetentionConfig struct {
	LogDays int `yaml:"logDays"`
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "punchout"
	}
	if c.Secrets.Mode == "" {
		c.Secrets.Mode = "env"
	}
	if c.PunchOut.SessionTTL == 0 {
		c.PunchOut.SessionTTL = time.Hour
	}
	if c.PunchOut.DeliveryTimeout == 0 {
		c.PunchOut.DeliveryTimeout = 30 * time.Second
	}
	if c.Retention.LogDays == 0 {
		c.Retention.LogDays = 90
	}
	if c.Metrics.Metrics.Path == "" {
		c.Metrics.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("storage.mongodb.uri is required")
	}

	switch c.Secrets.Mode {
	case "env", "static":
		// Valid modes
	default:
		return fmt.Errorf("secrets.mode must be 'env' or 'static', got '%s'", c.Secrets.Mode)
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.certFile and keyFile are required when TLS is enabled")
	}

	return nil
}
