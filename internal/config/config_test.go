package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME", "JSON_BASE_PATH",
		"IMPORT_BATCH_SIZE", "LOG_PATH", "BACKUP_RETENTION_DAYS", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadRequiresDBUserAndName(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	assert.ErrorContains(t, err, "DB_USER")

	t.Setenv("DB_USER", "ingest")
	_, err = Load("")
	assert.ErrorContains(t, err, "DB_NAME")
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "ingest")
	t.Setenv("DB_NAME", "procurement")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, defaultImportBatchSize, cfg.ImportBatchSize)
	assert.Equal(t, defaultSizerMinBatch, cfg.SizerMinBatch)
	assert.Equal(t, defaultSizerMaxBatch, cfg.SizerMaxBatch)
	assert.Equal(t, defaultConnectionPoolSize, cfg.ConnectionPoolSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "logfmt", cfg.LogFormat)
}

func TestEnvOverridesFileOverridesWhichOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "ingest")
	t.Setenv("DB_NAME", "procurement")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
import_batch_size = 50000
log_level = "debug"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50000, cfg.ImportBatchSize)
	assert.Equal(t, "debug", cfg.LogLevel)

	t.Setenv("IMPORT_BATCH_SIZE", "12345")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.ImportBatchSize, "env var must win over file default")
	assert.Equal(t, "debug", cfg.LogLevel, "file value still applies where env is unset")
}

func TestLoadRejectsUnreadableConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "ingest")
	t.Setenv("DB_NAME", "procurement")

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestDSNIncludesTimeouts(t *testing.T) {
	cfg := &Config{
		DBUser: "ingest", DBPassword: "secret", DBHost: "db.internal", DBName: "procurement",
		ConnectTimeoutSecs: 180, ReadTimeoutSecs: 600, WriteTimeoutSecs: 600,
	}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "ingest:secret@tcp(db.internal:3306)/procurement")
	assert.Contains(t, dsn, "timeout=180s")
	assert.Contains(t, dsn, "readTimeout=600s")
	assert.Contains(t, dsn, "writeTimeout=600s")
}
