package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "ingest.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Server.SessionTTL())
	assert.Equal(t, time.Minute, cfg.Server.SweepInterval())
	assert.Equal(t, "public", cfg.Warehouse.Schema)
	assert.Equal(t, 30, cfg.API.TimeoutSecs)
	assert.Equal(t, 2, cfg.API.Retries)
	assert.Equal(t, "ingest-cli", cfg.Auth.KeyringService)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, []string{".csv", ".xlsx"}, cfg.Upload.AllowedTypes)
	assert.Equal(t, 300, cfg.Upload.TimeoutSecs)
	assert.InDelta(t, 90, cfg.Upload.QuickUploadThreshold, 0.001)
	assert.True(t, cfg.Upload.AutoRetry)
	assert.Equal(t, BackendRemote, cfg.Upload.Backend)
	assert.Equal(t, BackendRemote, cfg.Analysis.Backend)
	assert.InDelta(t, 50, cfg.Analysis.ConfidenceThreshold, 0.001)
	assert.Equal(t, 1000, cfg.Analysis.SampleRows)
	assert.Equal(t, 3, cfg.Advisor.FailureThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/ingest
log:
  level: debug
  format: console
server:
  port: 9090
upload:
  backend: warehouse
warehouse:
  database_url: postgres://localhost/dw
  schema: staging
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, BackendWarehouse, cfg.Upload.Backend)
	assert.Equal(t, "staging", cfg.Warehouse.Schema)
	// Defaults still apply for unset values
	assert.Equal(t, 300, cfg.Upload.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("INGEST_STORE_DRIVER", "postgres")
	t.Setenv("INGEST_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("INGEST_SERVER_PORT", "3000")
	t.Setenv("INGEST_ANALYSIS_BACKEND", "local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, BackendLocal, cfg.Analysis.Backend)
}

func TestLoadBadFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the loaded defaults for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Server.Port = 8080
	cfg.API.BaseURL = "http://localhost:8000/api"
	cfg.Upload.Backend = BackendRemote
	cfg.Upload.QuickUploadThreshold = 90
	cfg.Analysis.Backend = BackendRemote
	cfg.Analysis.ConfidenceThreshold = 50
	cfg.Advisor.Backend = BackendRemote
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{ModeServe, ModeUpload, ModeAnalyze, ModeStore} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate(ModeStore)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/ingest"
	assert.NoError(t, cfg.Validate(ModeStore))
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate(ModeStore)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateStore_IgnoresBackends(t *testing.T) {
	cfg := validDefaults()
	cfg.Analysis.Backend = "bogus"
	cfg.API.BaseURL = ""

	assert.NoError(t, cfg.Validate(ModeStore))
}

func TestValidateUpload_WarehouseNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Upload.Backend = BackendWarehouse

	err := cfg.Validate(ModeUpload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse.database_url is required")

	cfg.Warehouse.DatabaseURL = "postgres://localhost/dw"
	assert.NoError(t, cfg.Validate(ModeUpload))
}

func TestValidateAnthropicKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Advisor.Backend = BackendAnthropic
	cfg.Analysis.Backend = BackendLocal
	cfg.Analysis.UseAIFallback = true

	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required for the anthropic advisor")
	assert.Contains(t, err.Error(), "AI fallback")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate(ModeServe))
}

func TestValidateAnalyze_SkipsUploadSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Upload.Backend = "bogus"
	cfg.Advisor.Backend = "bogus"

	assert.NoError(t, cfg.Validate(ModeAnalyze))
	assert.Error(t, cfg.Validate(ModeUpload))
}

func TestValidateRemoteNeedsBaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.API.BaseURL = ""

	err := cfg.Validate(ModeAnalyze)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_url is required")

	cfg.Analysis.Backend = BackendLocal
	assert.NoError(t, cfg.Validate(ModeAnalyze))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be positive")
}

func TestValidateThresholds(t *testing.T) {
	cfg := validDefaults()

	cfg.Analysis.ConfidenceThreshold = 101
	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis.confidence_threshold")

	cfg.Analysis.ConfidenceThreshold = 50
	cfg.Upload.QuickUploadThreshold = -1
	err = cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload.quick_upload_threshold")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Server.Port = -1

	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "server.port")
}
