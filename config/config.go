// Package config defines the TOML configuration for the mailsift service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mailsift/mailsift/helpers"
)

// Config is the top-level configuration loaded from config.toml.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Database  DatabaseConfig  `toml:"database"`
	Cache     CacheConfig     `toml:"cache"`
	S3        S3Config        `toml:"s3"`
	Sanitizer SanitizerConfig `toml:"sanitizer"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	HTTPAPI   HTTPAPIConfig   `toml:"http_api"`
}

// LoggingConfig controls log output, format and level.
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// DatabaseEndpointConfig holds configuration for a single database endpoint.
type DatabaseEndpointConfig struct {
	// List of database hosts. A single hostname is the common case;
	// multiple hosts are useful for read replica load balancing.
	Hosts           []string `toml:"hosts"`
	Port            string   `toml:"port"` // Database port (default: "5432")
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	Name            string   `toml:"name"`
	TLSMode         bool     `toml:"tls"`
	MaxConns        int      `toml:"max_conns"`          // Maximum number of connections in the pool
	MinConns        int      `toml:"min_conns"`          // Minimum number of connections in the pool
	MaxConnLifetime string   `toml:"max_conn_lifetime"`  // Maximum lifetime of a connection
	MaxConnIdleTime string   `toml:"max_conn_idle_time"` // Maximum idle time before a connection is closed
}

// GetMaxConnLifetime parses the max connection lifetime duration for an endpoint
func (e *DatabaseEndpointConfig) GetMaxConnLifetime() (time.Duration, error) {
	if e.MaxConnLifetime == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(e.MaxConnLifetime)
}

// GetMaxConnIdleTime parses the max connection idle time duration for an endpoint
func (e *DatabaseEndpointConfig) GetMaxConnIdleTime() (time.Duration, error) {
	if e.MaxConnIdleTime == "" {
		return 30 * time.Minute, nil
	}
	return helpers.ParseDuration(e.MaxConnIdleTime)
}

// DatabaseConfig holds database configuration with separate read/write endpoints.
type DatabaseConfig struct {
	Debug        bool                    `toml:"debug"`         // Enable SQL query logging
	QueryTimeout string                  `toml:"query_timeout"` // Default timeout for database queries (default: "30s")
	WriteTimeout string                  `toml:"write_timeout"` // Timeout for write operations (default: "10s")
	Write        *DatabaseEndpointConfig `toml:"write"`         // Write database configuration
	Read         *DatabaseEndpointConfig `toml:"read"`          // Read database configuration
}

// GetQueryTimeout parses the general query timeout duration.
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	if d.QueryTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(d.QueryTimeout)
}

// GetWriteTimeout parses the write timeout duration.
func (d *DatabaseConfig) GetWriteTimeout() (time.Duration, error) {
	if d.WriteTimeout == "" {
		return 10 * time.Second, nil
	}
	return helpers.ParseDuration(d.WriteTimeout)
}

// CacheConfig controls the pipeline result cache.
//
// The memory tier is always on; the disk tier is enabled by setting a path.
type CacheConfig struct {
	TTL             string `toml:"ttl"`              // TTL for cached results (default: "24h")
	MaxSize         int    `toml:"max_size"`         // Maximum number of in-memory entries (default: 10000)
	CleanupInterval string `toml:"cleanup_interval"` // How often to clean expired entries (default: "5m")
	Path            string `toml:"path"`             // Directory for the on-disk tier (empty disables it)
	Capacity        string `toml:"capacity"`         // On-disk capacity, e.g. "1gb"
	PurgeInterval   string `toml:"purge_interval"`   // How often the disk tier purges over-capacity entries (default: "1h")
}

// GetTTL parses the result TTL.
func (c *CacheConfig) GetTTL() (time.Duration, error) {
	if c.TTL == "" {
		return 24 * time.Hour, nil
	}
	return helpers.ParseDuration(c.TTL)
}

// GetCleanupInterval parses the memory tier cleanup interval.
func (c *CacheConfig) GetCleanupInterval() (time.Duration, error) {
	if c.CleanupInterval == "" {
		return 5 * time.Minute, nil
	}
	return helpers.ParseDuration(c.CleanupInterval)
}

// GetPurgeInterval parses the disk tier purge interval.
func (c *CacheConfig) GetPurgeInterval() (time.Duration, error) {
	if c.PurgeInterval == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(c.PurgeInterval)
}

// GetCapacity parses the disk tier capacity size.
func (c *CacheConfig) GetCapacity() (int64, error) {
	if c.Capacity == "" {
		c.Capacity = "1gb"
	}
	return helpers.ParseSize(c.Capacity)
}

// S3Config configures the raw message archive.
type S3Config struct {
	Enabled       bool   `toml:"enabled"`
	Endpoint      string `toml:"endpoint"`
	DisableTLS    bool   `toml:"disable_tls"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	Debug         bool   `toml:"debug"` // Enable detailed S3 request/response tracing
	Encrypt       bool   `toml:"encrypt"`
	EncryptionKey string `toml:"encryption_key"`
}

// SanitizerConfig points at the versioned ruleset file.
type SanitizerConfig struct {
	RulesetPath string `toml:"ruleset_path"` // Path to the TOML ruleset file
}

// PipelineConfig bounds pipeline processing.
type PipelineConfig struct {
	MaxPartDepth      int    `toml:"max_part_depth"`      // Maximum multipart nesting depth (default: 50)
	MaxAttachmentText string `toml:"max_attachment_text"` // Size cap for attachment text extraction, e.g. "1mb"
	ProcessTimeout    string `toml:"process_timeout"`     // Per-request processing timeout (default: "30s")
}

// GetMaxPartDepth returns the multipart depth guard.
func (p *PipelineConfig) GetMaxPartDepth() int {
	if p.MaxPartDepth <= 0 {
		return 50
	}
	return p.MaxPartDepth
}

// GetMaxAttachmentText parses the attachment text size cap.
func (p *PipelineConfig) GetMaxAttachmentText() (int64, error) {
	if p.MaxAttachmentText == "" {
		return 1 << 20, nil
	}
	return helpers.ParseSize(p.MaxAttachmentText)
}

// GetProcessTimeout parses the per-request processing timeout.
func (p *PipelineConfig) GetProcessTimeout() (time.Duration, error) {
	if p.ProcessTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(p.ProcessTimeout)
}

// HTTPAPIConfig configures the HTTP API listener.
type HTTPAPIConfig struct {
	Start        bool     `toml:"start"`
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`      // Plaintext API key (compared in constant time)
	APIKeyHash   string   `toml:"api_key_hash"` // bcrypt hash of the API key; takes precedence over api_key
	AllowedHosts []string `toml:"allowed_hosts"`
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
}

// NewDefaultConfig returns a Config with application defaults applied.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Cache: CacheConfig{
			TTL:             "24h",
			MaxSize:         10000,
			CleanupInterval: "5m",
		},
		Pipeline: PipelineConfig{
			MaxPartDepth:   50,
			ProcessTimeout: "30s",
		},
		HTTPAPI: HTTPAPIConfig{
			Start: true,
			Addr:  ":8080",
		},
	}
}

// Load reads and validates the configuration file at path, applying
// defaults for missing values.
func Load(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("configuration file '%s' not found: %w", path, err)
		}
		return cfg, fmt.Errorf("failed to parse configuration file '%s': %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that TOML decoding cannot express.
func (c *Config) Validate() error {
	if c.Database.Write != nil {
		if len(c.Database.Write.Hosts) == 0 {
			return fmt.Errorf("database.write.hosts must not be empty")
		}
		if c.Database.Write.Name == "" {
			return fmt.Errorf("database.write.name is required")
		}
	}
	if c.HTTPAPI.Start {
		if c.HTTPAPI.APIKey == "" && c.HTTPAPI.APIKeyHash == "" {
			return fmt.Errorf("http_api requires api_key or api_key_hash")
		}
		if c.HTTPAPI.TLS && (c.HTTPAPI.TLSCertFile == "" || c.HTTPAPI.TLSKeyFile == "") {
			return fmt.Errorf("http_api TLS requires tls_cert_file and tls_key_file")
		}
	}
	if c.S3.Enabled {
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("s3 archive requires endpoint and bucket")
		}
		if c.S3.Encrypt && c.S3.EncryptionKey == "" {
			return fmt.Errorf("s3 encryption requires encryption_key")
		}
	}
	if _, err := c.Cache.GetTTL(); err != nil {
		return fmt.Errorf("invalid cache.ttl: %w", err)
	}
	if _, err := c.Pipeline.GetProcessTimeout(); err != nil {
		return fmt.Errorf("invalid pipeline.process_timeout: %w", err)
	}
	return nil
}
