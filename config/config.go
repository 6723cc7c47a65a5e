package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override, e.g. OFFLINE_CACHE_VERSION.
const EnvPrefix = "OFFLINE_CACHE_"

type Config struct {
	// Cache version; bump it to invalidate all previously cached resources.
	Version string `yaml:"version" env:"VERSION"`
	// Origin URL of the application.
	Origin string `yaml:"origin" env:"ORIGIN"`
	// Shell document served to offline navigations.
	Shell string `yaml:"shell" env:"SHELL"`
	// Resources to pre-cache at install time.
	Manifest []string `yaml:"manifest" env:"MANIFEST" envSeparator:","`

	Port                int    `yaml:"port" env:"PORT"`
	PopulateConcurrency int    `yaml:"populateConcurrency" env:"POPULATE_CONCURRENCY"`
	FetchTimeout        string `yaml:"fetchTimeout" env:"FETCH_TIMEOUT"`
	OtelEndpoint        string `yaml:"otelEndpoint" env:"OTEL_ENDPOINT"`

	Storage struct {
		// One of sqlite, leveldb or memory.
		Provider string `yaml:"provider" env:"PROVIDER"`
		Path     string `yaml:"path" env:"PATH"`
	} `yaml:"storage" envPrefix:"STORAGE_"`

	// compiled
	originURL    *url.URL
	fetchTimeout time.Duration
}

// Load reads the config file (if a filename is given),
// applies environment overrides, sets defaults and validates the result.
func Load(filename string) (Config, error) {
	cfg, err := Read(filename)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Compile()
}

// Read reads the config file (if a filename is given) and applies environment overrides.
// The result is neither defaulted nor validated, see Compile.
func Read(filename string) (Config, error) {
	var cfg Config
	if filename != "" {
		b, err := os.ReadFile(filename)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Compile sets defaults and validates the config.
// It must be called again after changing fields by hand (e.g. from CLI flags).
func (cfg *Config) Compile() error {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "sqlite"
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Provider {
		case "sqlite":
			cfg.Storage.Path = "cache.db"
		case "leveldb":
			cfg.Storage.Path = "./data/leveldb"
		}
	}
	switch cfg.Storage.Provider {
	case "sqlite", "leveldb", "memory":
	default:
		return fmt.Errorf("storage.provider: unsupported provider %q", cfg.Storage.Provider)
	}

	if cfg.Version == "" {
		return fmt.Errorf("version is required")
	}
	if cfg.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.Origin, "/"))
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin: %q is not an absolute URL", cfg.Origin)
	}
	cfg.originURL = u

	cfg.fetchTimeout = 0
	if cfg.FetchTimeout != "" {
		d, err := time.ParseDuration(cfg.FetchTimeout)
		if err != nil {
			return fmt.Errorf("fetchTimeout: %w", err)
		}
		cfg.fetchTimeout = d
	}
	return nil
}

// OriginURL returns the parsed origin. Only valid after Compile.
func (cfg Config) OriginURL() url.URL {
	if cfg.originURL == nil {
		return url.URL{}
	}
	return *cfg.originURL
}

// FetchTimeoutDuration returns the network timeout; zero means no timeout of our own.
func (cfg Config) FetchTimeoutDuration() time.Duration {
	return cfg.fetchTimeout
}
