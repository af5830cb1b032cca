package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
bundle:
  path: /results/run.xcresult
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultSourceBackend, cfg.Bundle.Source.Backend)
	assert.Equal(t, DefaultToolBinary, cfg.Bundle.Source.ToolBinary)
	assert.Equal(t, DefaultOutputPath, cfg.Pipeline.OutputPath)
	assert.Positive(t, cfg.Pipeline.Concurrency)
	assert.Equal(t, DefaultServeListen, cfg.Serve.Listen)

	require.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitValuesPreserved(t *testing.T) {
	path := writeConfig(t, `
global:
  log_level: debug
bundle:
  path: /results/run.xcresult
  attachments_dir: /results/attachments
  source:
    backend: db
pipeline:
  concurrency: 3
  output_path: /tmp/report.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, "db", cfg.Bundle.Source.Backend)
	assert.Equal(t, "/results/attachments", cfg.Bundle.AttachmentsDir)
	assert.Equal(t, 3, cfg.Pipeline.Concurrency)
	assert.Equal(t, "/tmp/report.json", cfg.Pipeline.OutputPath)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "bundle: [not: valid")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_BundlePathRequired(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle path")
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := Config{
		Bundle: BundleConfig{
			Path:   "/results/run.xcresult",
			Source: SourceConfig{Backend: "carrier-pigeon"},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
}

func TestHistoryDefaults(t *testing.T) {
	path := writeConfig(t, `
bundle:
  path: /results/run.xcresult
history:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.History)

	assert.Equal(t, "sqlite", cfg.History.Database.Driver)
	assert.Equal(t, DefaultHistoryPath, cfg.History.Database.SQLite.Path)
	require.NoError(t, cfg.Validate())
}

func TestHistoryPostgresDefaults(t *testing.T) {
	path := writeConfig(t, `
bundle:
  path: /results/run.xcresult
history:
  enabled: true
  database:
    driver: postgres
    postgres:
      host: db.internal
      database: xctimeline
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.History.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.History.Database.Postgres.SSLMode)
	require.NoError(t, cfg.Validate())
}

func TestHistoryValidate_PostgresRequiresHost(t *testing.T) {
	cfg := &HistoryConfig{
		Database: HistoryDatabaseConfig{Driver: "postgres"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")
}

func TestHistoryValidate_UnsupportedDriver(t *testing.T) {
	cfg := &HistoryConfig{
		Database: HistoryDatabaseConfig{Driver: "dbase"},
	}

	assert.Error(t, cfg.Validate())
}

func TestUploadValidate(t *testing.T) {
	disabled := &UploadConfig{}
	assert.NoError(t, disabled.Validate())

	enabled := &UploadConfig{Enabled: true}
	err := enabled.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")

	enabled.S3.Bucket = "reports"
	assert.NoError(t, enabled.Validate())
}

func TestServeRateLimitDefaults(t *testing.T) {
	path := writeConfig(t, `
bundle:
  path: /results/run.xcresult
serve:
  rate_limit:
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Serve.RateLimit.RequestsPerMinute)
}
