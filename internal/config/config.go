// Package config loads run configuration from environment variables, with
// an optional TOML file supplying defaults that env vars override. The
// result is an immutable value threaded explicitly through the call chain
// rather than read from process-wide state inside workers.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the immutable run configuration. Construct with Load; never
// mutate a Config after it has been handed to a worker.
type Config struct {
	DBHost               string
	DBUser               string
	DBPassword           string
	DBName               string
	JSONBasePath         string
	ImportBatchSize      int
	LogPath              string
	BackupRetentionDays  int
	SizerMinBatch        int
	SizerMaxBatch        int
	SizerTargetRAMUsage  float64
	ConnectTimeoutSecs   int
	ReadTimeoutSecs      int
	WriteTimeoutSecs     int
	WaitTimeoutSecs      int
	ConnectionPoolSize   int
	InferenceSampleSize  int
	LogLevel             string
	LogFormat            string
}

// fileOverrides is the optional TOML document shape; any field left zero is
// not applied, so a 0 or "" in the file leaves the built-in default in
// place. Env vars are applied after the file (see Load) and win over both.
type fileOverrides struct {
	ImportBatchSize     int     `toml:"import_batch_size"`
	SizerMinBatch       int     `toml:"sizer_min_batch"`
	SizerMaxBatch       int     `toml:"sizer_max_batch"`
	SizerTargetRAMUsage float64 `toml:"sizer_target_ram_usage"`
	ConnectTimeoutSecs  int     `toml:"connect_timeout_secs"`
	ReadTimeoutSecs     int     `toml:"read_timeout_secs"`
	WriteTimeoutSecs    int     `toml:"write_timeout_secs"`
	WaitTimeoutSecs     int     `toml:"wait_timeout_secs"`
	LogLevel            string  `toml:"log_level"`
	LogFormat           string  `toml:"log_format"`
}

// Default values matching the original importer's configuration and the
// adaptive sizer design.
const (
	defaultDBHost              = "localhost"
	defaultJSONBasePath        = "/database/JSON"
	defaultImportBatchSize     = 75000
	defaultLogPath             = "./logs"
	defaultBackupRetentionDays = 7
	defaultSizerMinBatch       = 10_000
	defaultSizerMaxBatch       = 1_000_000
	defaultSizerTargetRAM      = 0.80
	defaultConnectTimeoutSecs  = 180
	defaultReadTimeoutSecs     = 600
	defaultWriteTimeoutSecs    = 600
	defaultWaitTimeoutSecs     = 600
	defaultConnectionPoolSize  = 2
	defaultInferenceSampleSize = 2000
	defaultLogLevel            = "info"
	defaultLogFormat           = "logfmt"
)

// Load builds a Config from environment variables, optionally seeded by the
// TOML file at configPath (pass "" to skip it). Env vars always take
// precedence over the file so CI/CD overrides remain simple.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		DBHost:              defaultDBHost,
		JSONBasePath:        defaultJSONBasePath,
		ImportBatchSize:     defaultImportBatchSize,
		LogPath:             defaultLogPath,
		BackupRetentionDays: defaultBackupRetentionDays,
		SizerMinBatch:       defaultSizerMinBatch,
		SizerMaxBatch:       defaultSizerMaxBatch,
		SizerTargetRAMUsage: defaultSizerTargetRAM,
		ConnectTimeoutSecs:  defaultConnectTimeoutSecs,
		ReadTimeoutSecs:     defaultReadTimeoutSecs,
		WriteTimeoutSecs:    defaultWriteTimeoutSecs,
		WaitTimeoutSecs:     defaultWaitTimeoutSecs,
		ConnectionPoolSize:  defaultConnectionPoolSize,
		InferenceSampleSize: defaultInferenceSampleSize,
		LogLevel:            defaultLogLevel,
		LogFormat:           defaultLogFormat,
	}

	if configPath != "" {
		var fo fileOverrides
		if _, err := toml.DecodeFile(configPath, &fo); err != nil {
			return nil, fmt.Errorf("config: decode %q: %w", configPath, err)
		}
		applyFileOverrides(cfg, &fo)
	}

	applyEnvOverrides(cfg)

	if cfg.DBUser == "" {
		return nil, fmt.Errorf("config: DB_USER is required")
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("config: DB_NAME is required")
	}

	return cfg, nil
}

func applyFileOverrides(cfg *Config, fo *fileOverrides) {
	if fo.ImportBatchSize != 0 {
		cfg.ImportBatchSize = fo.ImportBatchSize
	}
	if fo.SizerMinBatch != 0 {
		cfg.SizerMinBatch = fo.SizerMinBatch
	}
	if fo.SizerMaxBatch != 0 {
		cfg.SizerMaxBatch = fo.SizerMaxBatch
	}
	if fo.SizerTargetRAMUsage != 0 {
		cfg.SizerTargetRAMUsage = fo.SizerTargetRAMUsage
	}
	if fo.ConnectTimeoutSecs != 0 {
		cfg.ConnectTimeoutSecs = fo.ConnectTimeoutSecs
	}
	if fo.ReadTimeoutSecs != 0 {
		cfg.ReadTimeoutSecs = fo.ReadTimeoutSecs
	}
	if fo.WriteTimeoutSecs != 0 {
		cfg.WriteTimeoutSecs = fo.WriteTimeoutSecs
	}
	if fo.WaitTimeoutSecs != 0 {
		cfg.WaitTimeoutSecs = fo.WaitTimeoutSecs
	}
	if fo.LogLevel != "" {
		cfg.LogLevel = fo.LogLevel
	}
	if fo.LogFormat != "" {
		cfg.LogFormat = fo.LogFormat
	}
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("DB_HOST"); ok {
		cfg.DBHost = v
	}
	if v, ok := os.LookupEnv("DB_USER"); ok {
		cfg.DBUser = v
	}
	if v, ok := os.LookupEnv("DB_PASSWORD"); ok {
		cfg.DBPassword = v
	}
	if v, ok := os.LookupEnv("DB_NAME"); ok {
		cfg.DBName = v
	}
	if v, ok := os.LookupEnv("JSON_BASE_PATH"); ok {
		cfg.JSONBasePath = v
	}
	if v, ok := envInt("IMPORT_BATCH_SIZE"); ok {
		cfg.ImportBatchSize = v
	}
	if v, ok := os.LookupEnv("LOG_PATH"); ok {
		cfg.LogPath = v
	}
	if v, ok := envInt("BACKUP_RETENTION_DAYS"); ok {
		cfg.BackupRetentionDays = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok {
		cfg.LogFormat = v
	}
}

func envInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DSN builds a go-sql-driver/mysql data source name from the configuration,
// with the per-connection timeouts wired in as driver parameters.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:3306)/%s?parseTime=true&timeout=%ds&readTimeout=%ds&writeTimeout=%ds&multiStatements=true",
		c.DBUser, c.DBPassword, c.DBHost, c.DBName,
		c.ConnectTimeoutSecs, c.ReadTimeoutSecs, c.WriteTimeoutSecs,
	)
}
