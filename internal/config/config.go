package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the barsync pipeline.
type Config struct {
	Database    Database    `yaml:"database"`
	ObjectStore ObjectStore `yaml:"object_store"`
	Reference   Reference   `yaml:"reference"`
	Ingest      Ingest      `yaml:"ingest"`
	Server      Server      `yaml:"server"`
	Schedule    Schedule    `yaml:"schedule"`
	Logging     Logging     `yaml:"logging"`
}

// Database selects and configures the relational store. Driver is
// "postgres" or "sqlite"; SQLitePath is only read for the sqlite driver.
type Database struct {
	Driver     string `yaml:"driver"`
	URL        string `yaml:"url"`
	MaxConns   int    `yaml:"max_conns"`
	SQLitePath string `yaml:"sqlite_path"`
}

// ObjectStore holds credentials and the endpoint of the S3-compatible
// flat-file storage.
type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Reference holds credentials for the instrument reference-data API.
type Reference struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Ingest holds parameters for bulk ingestion runs. Zero values fall back
// to the consumer defaults (concurrency 15, 3 retry attempts, 1s base
// delay). ArchiveDir enables the per-date parquet archive when set.
type Ingest struct {
	Market        string `yaml:"market"`
	DataType      string `yaml:"data_type"`
	Concurrency   int    `yaml:"concurrency"`
	RetryAttempts int    `yaml:"retry_attempts"`
	RetryBaseMS   int    `yaml:"retry_base_ms"`
	ArchiveDir    string `yaml:"archive_dir"`
}

// Server holds network listener configuration for the status API.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Schedule configures the ingestd daemon. DailyCron is a cron expression
// with a seconds field.
type Schedule struct {
	DailyCron string `yaml:"daily_cron"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DATABASE_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MaxConns = n
		}
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}

	if v := os.Getenv("OBJECT_STORE_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("OBJECT_STORE_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}

	if v := os.Getenv("REFERENCE_BASE_URL"); v != "" {
		cfg.Reference.BaseURL = v
	}
	if v := os.Getenv("REFERENCE_API_KEY"); v != "" {
		cfg.Reference.APIKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard S3 env vars take highest priority since every S3 tool
	// reads the same names.
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
}
