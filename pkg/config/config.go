// Package config loads and validates the unisearch TOML configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// Config is the full service configuration.
type Config struct {
	// DefaultBuckets is the bounded bucket set for the object-listing
	// fallback when the index backend is unavailable.
	DefaultBuckets     []string `toml:"default_buckets"`
	MaxFallbackBuckets int      `toml:"max_fallback_buckets"`

	// SearchLog is the SQLite diagnostics log path. Empty disables it.
	SearchLog string `toml:"search_log"`

	Catalog       CatalogConfig     `toml:"catalog"`
	Elasticsearch ElasticConfig     `toml:"elasticsearch"`
	ObjectStore   ObjectStoreConfig `toml:"objectstore"`
	Server        ServerConfig      `toml:"server"`
}

// CatalogConfig configures the GraphQL catalog backend.
type CatalogConfig struct {
	Endpoint string `toml:"endpoint"`

	// Token is the bearer token. Usually left empty in the file and
	// supplied via the environment variable named by TokenEnv.
	Token    string `toml:"token"`
	TokenEnv string `toml:"token_env"`

	// Operation names are configuration, not constants: deployments are
	// known to disagree on the objects operation name.
	PackagesOperation string `toml:"packages_operation"`
	ObjectsOperation  string `toml:"objects_operation"`

	LatestOnly bool     `toml:"latest_only"`
	Timeout    Duration `toml:"timeout"`
}

// ElasticConfig configures the object index backend.
type ElasticConfig struct {
	Addresses       []string `toml:"addresses"`
	Index           string   `toml:"index"`
	MaxResultWindow int      `toml:"max_result_window"`
	Timeout         Duration `toml:"timeout"`
}

// ObjectStoreConfig configures the bucket-listing backend.
type ObjectStoreConfig struct {
	Enabled  bool     `toml:"enabled"`
	Region   string   `toml:"region"`
	MaxPages int      `toml:"max_pages"`
	PageSize int32    `toml:"page_size"`
	Timeout  Duration `toml:"timeout"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Duration wraps time.Duration for TOML round-tripping.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// DefaultConfig returns a configuration with every default filled in and
// no backends enabled.
func DefaultConfig() *Config {
	return &Config{
		MaxFallbackBuckets: 5,
		Catalog: CatalogConfig{
			TokenEnv:          "UNISEARCH_TOKEN",
			PackagesOperation: "searchPackages",
			ObjectsOperation:  "searchObjects",
			Timeout:           Duration{10 * time.Second},
		},
		Elasticsearch: ElasticConfig{
			MaxResultWindow: 10000,
			Timeout:         Duration{8 * time.Second},
		},
		ObjectStore: ObjectStoreConfig{
			MaxPages: 8,
			PageSize: 1000,
			Timeout:  Duration{15 * time.Second},
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// LoadConfig reads and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if len(c.Elasticsearch.Addresses) > 0 && c.Elasticsearch.Index == "" {
		return fmt.Errorf("elasticsearch.index is required when addresses are set")
	}
	if c.MaxFallbackBuckets <= 0 {
		c.MaxFallbackBuckets = 5
	}
	return nil
}

// ResolveToken returns the bearer token: the literal token field when
// set, else the environment variable named by token_env.
func (c *CatalogConfig) ResolveToken() string {
	if c.Token != "" {
		return c.Token
	}
	if c.TokenEnv != "" {
		return os.Getenv(c.TokenEnv)
	}
	return ""
}

// WriteSample writes the annotated sample configuration to path,
// refusing to overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPath returns ~/.config/unisearch/config.toml.
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting user config directory: %w", err)
	}
	return filepath.Join(configDir, "unisearch", "config.toml"), nil
}
