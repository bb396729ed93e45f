// Package config loads the configuration of the flatvecd host process.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/wal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLATVEC_"

// Config represents the service configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Backup    BackupConfig    `yaml:"backup"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StoreConfig contains defaults for every store the service opens.
type StoreConfig struct {
	Metric      string `yaml:"metric"`      // cosine, euclidean, dot
	Durability  string `yaml:"durability"`  // sync, async
	Compression string `yaml:"compression"` // none, lz4, zstd
	// CompactionRateLimit throttles compaction writes in bytes per second.
	// Zero disables throttling.
	CompactionRateLimit int `yaml:"compaction_rate_limit"`
}

// EmbeddingConfig contains settings of the remote embedding API.
type EmbeddingConfig struct {
	APIKey    string  `yaml:"api_key"` // Supports ${ENV_VAR} expansion
	Model     string  `yaml:"model"`
	BaseURL   string  `yaml:"base_url"`
	Dimension int     `yaml:"dimension"`
	MaxBatch  int     `yaml:"max_batch"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int     `yaml:"burst"`
}

// BackupConfig selects the blob store that receives snapshots.
type BackupConfig struct {
	Type      string `yaml:"type"` // "", local, s3, minio
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	PathStyle bool   `yaml:"path_style"`
}

// Enabled reports whether a backup target is configured.
func (b BackupConfig) Enabled() bool { return b.Type != "" }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    8 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Metric:      "cosine",
			Durability:  "sync",
			Compression: "none",
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-v3",
			BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Dimension: 1024,
			MaxBatch:  10,
		},
	}
}

// Load reads the YAML file at path over the defaults, expands ${ENV_VAR}
// references in secrets, applies FLATVEC_* overrides and validates the
// result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.expandEnvVars()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) expandEnvVars() {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.Embedding.APIKey = os.ExpandEnv(c.Embedding.APIKey)
	c.Backup.Dir = os.ExpandEnv(c.Backup.Dir)
	c.Backup.AccessKey = os.ExpandEnv(c.Backup.AccessKey)
	c.Backup.SecretKey = os.ExpandEnv(c.Backup.SecretKey)
}

// applyEnv overrides settings from FLATVEC_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DATA_DIR":          &c.DataDir,
		"ADDR":              &c.Server.Addr,
		"LOG_LEVEL":         &c.Log.Level,
		"LOG_FORMAT":        &c.Log.Format,
		"METRIC":            &c.Store.Metric,
		"DURABILITY":        &c.Store.Durability,
		"COMPRESSION":       &c.Store.Compression,
		"EMBEDDING_API_KEY": &c.Embedding.APIKey,
		"EMBEDDING_MODEL":   &c.Embedding.Model,
		"EMBEDDING_URL":     &c.Embedding.BaseURL,
		"BACKUP_TYPE":       &c.Backup.Type,
		"BACKUP_DIR":        &c.Backup.Dir,
		"BACKUP_BUCKET":     &c.Backup.Bucket,
		"BACKUP_PREFIX":     &c.Backup.Prefix,
		"BACKUP_ENDPOINT":   &c.Backup.Endpoint,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"EMBEDDING_DIMENSION": &c.Embedding.Dimension,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if c.Embedding.APIKey == "" {
		if v, ok := lookup("DASHSCOPE_API_KEY"); ok {
			c.Embedding.APIKey = v
		}
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", f))
	}
	if _, err := c.Metric(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Durability(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Compression(); err != nil {
		errs = append(errs, err)
	}
	if c.Store.CompactionRateLimit < 0 {
		errs = append(errs, errors.New("store.compaction_rate_limit must not be negative"))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("embedding.dimension must be positive"))
	}
	switch c.Backup.Type {
	case "":
	case "local":
		if c.Backup.Dir == "" {
			errs = append(errs, errors.New("backup.dir is required for local backups"))
		}
	case "s3", "minio":
		if c.Backup.Bucket == "" {
			errs = append(errs, fmt.Errorf("backup.bucket is required for %s backups", c.Backup.Type))
		}
		if c.Backup.Type == "minio" && c.Backup.Endpoint == "" {
			errs = append(errs, errors.New("backup.endpoint is required for minio backups"))
		}
	default:
		errs = append(errs, fmt.Errorf("backup.type %q must be local, s3 or minio", c.Backup.Type))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Metric returns the default distance metric for new stores.
func (c *Config) Metric() (distance.Metric, error) {
	m, err := distance.Parse(c.Store.Metric)
	if err != nil {
		return 0, fmt.Errorf("store.metric: %w", err)
	}
	return m, nil
}

// Durability returns the WAL durability mode.
func (c *Config) Durability() (wal.DurabilityMode, error) {
	switch strings.ToLower(c.Store.Durability) {
	case "sync":
		return wal.DurabilitySync, nil
	case "async":
		return wal.DurabilityAsync, nil
	default:
		return 0, fmt.Errorf("store.durability %q must be sync or async", c.Store.Durability)
	}
}

// Compression returns the WAL payload codec.
func (c *Config) Compression() (wal.Compression, error) {
	codec, err := wal.ParseCompression(c.Store.Compression)
	if err != nil {
		return 0, fmt.Errorf("store.compression: %w", err)
	}
	return codec, nil
}
