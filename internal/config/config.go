// Package config provides unified configuration for the frostwatch service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/frostwatch/frostwatch/internal/logging"
	"github.com/frostwatch/frostwatch/internal/validation"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "FROSTWATCH_"

// Config holds the unified configuration for frostwatch.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir" validate:"required"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Telemetry store configuration
	Store StoreConfig `json:"store" yaml:"store"`

	// Ingest journal configuration
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// Retention configuration
	Retention RetentionConfig `json:"retention" yaml:"retention"`

	// Archive configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Storage configuration for archived partitions
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Log configuration
	Log logging.Config `json:"log" yaml:"log"`

	// Live feed configuration
	Stream StreamConfig `json:"stream" yaml:"stream"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr            string        `json:"addr" yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`

	// CORSOrigins lists allowed origins; empty allows any.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`

	// IngestRateLimit is the per-IP request budget per minute for ingestion.
	// Zero disables the limiter.
	IngestRateLimit int `json:"ingest_rate_limit" yaml:"ingest_rate_limit" validate:"gte=0"`

	// MaxBodyBytes caps the ingestion request body.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// StoreConfig holds telemetry store configuration.
type StoreConfig struct {
	// PartitionDir holds the esp32_data_<date>.json files
	PartitionDir string `json:"partition_dir" yaml:"partition_dir"`

	// DeviceField is the record field queries filter on
	DeviceField string `json:"device_field" yaml:"device_field" validate:"required"`

	// QueryFileWindow is how many most-recently-modified partitions Query reads
	QueryFileWindow int `json:"query_file_window" yaml:"query_file_window" validate:"gte=1"`

	// SensorIndex enables per-partition bloom filters over device identifiers
	SensorIndex bool `json:"sensor_index" yaml:"sensor_index"`
}

// JournalConfig holds ingest journal configuration.
type JournalConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	Dir              string `json:"dir" yaml:"dir"`
	MaxSegmentSizeMB int    `json:"max_segment_size_mb" yaml:"max_segment_size_mb" validate:"gte=1,lte=1024"`
}

// RetentionConfig holds retention daemon configuration.
type RetentionConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Days          int           `json:"days" yaml:"days" validate:"gte=0,lte=3650"`
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval" validate:"gt=0"`
}

// ArchiveConfig holds partition archive configuration.
type ArchiveConfig struct {
	// Enabled archives partitions to object storage before pruning them
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CatalogPath is the SQLite archive catalog
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" validate:"oneof=local s3"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// StreamConfig holds live feed configuration.
type StreamConfig struct {
	// BufferSize is the per-subscriber notification buffer
	BufferSize int `json:"buffer_size" yaml:"buffer_size" validate:"gte=1"`

	// KeepAlive is the interval between SSE comment frames
	KeepAlive time.Duration `json:"keep_alive" yaml:"keep_alive" validate:"gt=0"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			IngestRateLimit: 0,
			MaxBodyBytes:    1 << 20,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: false,
		},
		Store: StoreConfig{
			DeviceField:     types.FieldDeviceID,
			QueryFileWindow: 7,
			SensorIndex:     true,
		},
		Journal: JournalConfig{
			Enabled:          false,
			MaxSegmentSizeMB: 64,
		},
		Retention: RetentionConfig{
			Enabled:       true,
			Days:          types.DefaultRetentionDays,
			CheckInterval: time.Hour,
		},
		Archive: ArchiveConfig{
			Enabled: false,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Log: logging.DefaultConfig(),
		Stream: StreamConfig{
			BufferSize: 64,
			KeepAlive:  15 * time.Second,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Store.PartitionDir == "" {
		c.Store.PartitionDir = filepath.Join(c.DataDir, "esp32")
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(c.DataDir, "journal")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Archive.CatalogPath == "" {
		c.Archive.CatalogPath = filepath.Join(c.DataDir, "archive.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Variables already set are not overridden. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FROSTWATCH_ prefix.
func LoadFromEnv(cfg *Config) {
	envString("DATA_DIR", &cfg.DataDir)

	// HTTP configuration
	envString("HTTP_ADDR", &cfg.HTTP.Addr)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	envInt("HTTP_INGEST_RATE_LIMIT", &cfg.HTTP.IngestRateLimit)
	if v := os.Getenv(EnvPrefix + "HTTP_CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}

	// gRPC configuration
	envString("GRPC_ADDR", &cfg.GRPC.Addr)
	envBool("GRPC_ENABLED", &cfg.GRPC.Enabled)

	// Store configuration
	envString("STORE_PARTITION_DIR", &cfg.Store.PartitionDir)
	envString("STORE_DEVICE_FIELD", &cfg.Store.DeviceField)
	envInt("STORE_QUERY_FILE_WINDOW", &cfg.Store.QueryFileWindow)
	envBool("STORE_SENSOR_INDEX", &cfg.Store.SensorIndex)

	// Journal configuration
	envBool("JOURNAL_ENABLED", &cfg.Journal.Enabled)
	envString("JOURNAL_DIR", &cfg.Journal.Dir)

	// Retention configuration
	envBool("RETENTION_ENABLED", &cfg.Retention.Enabled)
	envInt("RETENTION_DAYS", &cfg.Retention.Days)
	envDuration("RETENTION_CHECK_INTERVAL", &cfg.Retention.CheckInterval)

	// Archive configuration
	envBool("ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	envString("ARCHIVE_CATALOG_PATH", &cfg.Archive.CatalogPath)

	// Storage configuration
	envString("STORAGE_TYPE", &cfg.Storage.Type)
	envString("STORAGE_PATH", &cfg.Storage.Path)
	envString("S3_BUCKET", &cfg.Storage.S3.Bucket)
	envString("S3_REGION", &cfg.Storage.S3.Region)
	envString("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)

	// Log configuration
	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)
	envString("LOG_FILE", &cfg.Log.File)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Store.PartitionDir}
	if c.Journal.Enabled {
		dirs = append(dirs, c.Journal.Dir)
	}
	if c.Archive.Enabled {
		dirs = append(dirs, filepath.Dir(c.Archive.CatalogPath))
		if c.Storage.Type == "local" {
			dirs = append(dirs, c.Storage.Path)
		}
	}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
