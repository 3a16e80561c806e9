package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen      = ":8090"
	defaultAdminScope  = "vault:admin"
	defaultStorage     = "leveldb"
	defaultStoragePath = "data/vaultd"
)

// Config captures the runtime settings for the vault service daemon. Values
// from the YAML file can be overridden with VAULTD_* environment variables.
type Config struct {
	ListenAddress string          `yaml:"listen" env:"LISTEN"`
	Environment   string          `yaml:"environment" env:"ENV"`
	TLS           TLSConfig       `yaml:"tls" envPrefix:"TLS_"`
	Auth          AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Storage       StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Engine        EngineConfig    `yaml:"engine" envPrefix:"ENGINE_"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Logging       LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	Telemetry     TelemetryConfig `yaml:"telemetry" envPrefix:"OTEL_"`
}

// TLSConfig describes the certificate served by the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert" env:"CERT"`
	KeyPath       string `yaml:"key" env:"KEY"`
	AllowInsecure bool   `yaml:"allow_insecure" env:"ALLOW_INSECURE"`
}

// AuthConfig configures JWT verification.
type AuthConfig struct {
	// HMACSecretEnv names the environment variable holding the signing
	// secret so the secret itself never lands in the config file.
	HMACSecretEnv string   `yaml:"hmac_secret_env" env:"HMAC_SECRET_ENV"`
	Issuer        string   `yaml:"issuer" env:"ISSUER"`
	Audience      []string `yaml:"audience" env:"AUDIENCE"`
	AdminScope    string   `yaml:"admin_scope" env:"ADMIN_SCOPE"`
	Optional      bool     `yaml:"optional" env:"OPTIONAL"`
}

// StorageConfig selects the record and ledger backend.
type StorageConfig struct {
	// Backend is one of memory, leveldb, bolt, sqlite or postgres.
	Backend string `yaml:"backend" env:"BACKEND"`
	Path    string `yaml:"path" env:"PATH"`
	DSN     string `yaml:"dsn" env:"DSN"`
}

// EngineConfig points at the TOML module configuration.
type EngineConfig struct {
	ConfigPath string `yaml:"config" env:"CONFIG"`
	RepaySplit string `yaml:"repay_split" env:"REPAY_SPLIT"`
	Paused     bool   `yaml:"paused" env:"PAUSED"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rps" env:"RPS"`
	Burst         int     `yaml:"burst" env:"BURST"`
}

// LoggingConfig controls log level and the optional rotating file.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint" env:"ENDPOINT"`
	Insecure    bool              `yaml:"insecure" env:"INSECURE"`
	Headers     map[string]string `yaml:"headers" env:"HEADERS"`
	Traces      bool              `yaml:"traces" env:"TRACES"`
	Metrics     bool              `yaml:"metrics" env:"METRICS"`
	SampleRatio float64           `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// Default returns the configuration used before the file and environment are
// applied.
func Default() Config {
	return Config{
		ListenAddress: defaultListen,
		Auth:          AuthConfig{HMACSecretEnv: "VAULTD_JWT_SECRET", AdminScope: defaultAdminScope},
		Storage:       StorageConfig{Backend: defaultStorage, Path: defaultStoragePath},
		RateLimit:     RateLimitConfig{RatePerSecond: 20, Burst: 40},
		Logging:       LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
	}
}

// Load reads the YAML configuration from disk, applies environment overrides
// and validates the result. An empty path uses defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "VAULTD_"}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HMACSecret resolves the signing secret from the configured variable.
func (cfg AuthConfig) HMACSecret() string {
	if cfg.HMACSecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv))
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)

	cfg.Auth.HMACSecretEnv = strings.TrimSpace(cfg.Auth.HMACSecretEnv)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.AdminScope = strings.TrimSpace(cfg.Auth.AdminScope)
	if cfg.Auth.AdminScope == "" {
		cfg.Auth.AdminScope = defaultAdminScope
	}
	audience := make([]string, 0, len(cfg.Auth.Audience))
	for _, aud := range cfg.Auth.Audience {
		if trimmed := strings.TrimSpace(aud); trimmed != "" {
			audience = append(audience, trimmed)
		}
	}
	cfg.Auth.Audience = audience

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaultStorage
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Storage.DSN = strings.TrimSpace(cfg.Storage.DSN)

	cfg.Engine.ConfigPath = strings.TrimSpace(cfg.Engine.ConfigPath)
	cfg.Engine.RepaySplit = strings.ToLower(strings.TrimSpace(cfg.Engine.RepaySplit))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !cfg.TLS.AllowInsecure && !hasCert {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if !cfg.Auth.Optional && cfg.Auth.HMACSecretEnv == "" {
		return fmt.Errorf("auth: hmac_secret_env is required unless optional=true")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	case "sqlite", "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage: dsn required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	switch cfg.Engine.RepaySplit {
	case "", "outstanding", "rate":
	default:
		return fmt.Errorf("engine: unknown repay_split %q", cfg.Engine.RepaySplit)
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}
