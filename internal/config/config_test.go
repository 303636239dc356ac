package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join("./data", "esp32"), cfg.Store.PartitionDir)
	assert.Equal(t, 7, cfg.Store.QueryFileWindow)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, "device_id", cfg.Store.DeviceField)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad storage type", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"zero file window", func(c *Config) { c.Store.QueryFileWindow = 0 }},
		{"negative retention", func(c *Config) { c.Retention.Days = -1 }},
		{"huge retention", func(c *Config) { c.Retention.Days = 5000 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"grpc without addr", func(c *Config) { c.GRPC.Enabled = true; c.GRPC.Addr = "" }},
		{"empty device field", func(c *Config) { c.Store.DeviceField = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frostwatch.yaml")
	content := `
data_dir: /var/lib/frostwatch
http:
  addr: ":9000"
  cors_origins: ["https://dash.example.com"]
store:
  query_file_window: 14
retention:
  days: 90
  check_interval: 10m
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/frostwatch", cfg.DataDir)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 14, cfg.Store.QueryFileWindow)
	assert.Equal(t, 90, cfg.Retention.Days)
	assert.Equal(t, 10*time.Minute, cfg.Retention.CheckInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched fields keep defaults
	assert.Equal(t, "device_id", cfg.Store.DeviceField)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frostwatch.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir":"/tmp/fw","grpc":{"enabled":true}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/fw", cfg.DataDir)
	assert.True(t, cfg.GRPC.Enabled)
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frostwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FROSTWATCH_DATA_DIR", "/srv/data")
	t.Setenv("FROSTWATCH_RETENTION_DAYS", "45")
	t.Setenv("FROSTWATCH_RETENTION_CHECK_INTERVAL", "2h")
	t.Setenv("FROSTWATCH_JOURNAL_ENABLED", "1")
	t.Setenv("FROSTWATCH_HTTP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FROSTWATCH_STORE_QUERY_FILE_WINDOW", "not-a-number")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/srv/data", cfg.DataDir)
	assert.Equal(t, 45, cfg.Retention.Days)
	assert.Equal(t, 2*time.Hour, cfg.Retention.CheckInterval)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 7, cfg.Store.QueryFileWindow, "unparseable values are ignored")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FROSTWATCH_TEST_DOTENV=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("FROSTWATCH_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(envFile, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("FROSTWATCH_TEST_DOTENV"))
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "fw")
	cfg.Journal.Enabled = true
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DataDir, cfg.Store.PartitionDir, cfg.Journal.Dir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
