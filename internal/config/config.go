package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"mysql-mirror/internal/database"
	"mysql-mirror/internal/logging"
	"mysql-mirror/internal/replication"
	"mysql-mirror/internal/status"
)

// Config holds the full mysql-mirror configuration
type Config struct {
	Primary database.DatabaseConfig `mapstructure:"primary" yaml:"primary"`
	Backup  database.DatabaseConfig `mapstructure:"backup" yaml:"backup"`
	Engine  EngineConfig            `mapstructure:"engine" yaml:"engine"`
	Server  ServerConfig            `mapstructure:"server" yaml:"server"`
	Log     LogConfig               `mapstructure:"log" yaml:"log"`
}

// EngineConfig tunes backup and restore runs
type EngineConfig struct {
	BatchSize            int      `mapstructure:"batch_size" yaml:"batch_size"`
	StatusTable          string   `mapstructure:"status_table" yaml:"status_table"`
	StatusKey            string   `mapstructure:"status_key" yaml:"status_key"`
	ExcludeTables        []string `mapstructure:"exclude_tables" yaml:"exclude_tables"`
	CreateBackupDatabase bool     `mapstructure:"create_backup_database" yaml:"create_backup_database"`
}

// ServerConfig configures the HTTP layer and the auto-backup scheduler
type ServerConfig struct {
	Listen             string        `mapstructure:"listen" yaml:"listen"`
	AutoBackupInterval time.Duration `mapstructure:"auto_backup_interval" yaml:"auto_backup_interval"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// SetDefaults fills every unset value
func (c *Config) SetDefaults() {
	c.Primary.SetDefaults()
	c.Backup.SetDefaults()
	c.Engine.SetDefaults()
	c.Server.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks the whole configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []error

	if err := c.Primary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	if err := c.Backup.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backup: %w", err))
	}
	if len(errs) == 0 && database.SameTarget(c.Primary, c.Backup) {
		errs = append(errs, fmt.Errorf("primary and backup both point to %s/%s", c.Primary.Address(), c.Primary.DatabaseName()))
	}

	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// SetDefaults sets default values for engine configuration
func (ec *EngineConfig) SetDefaults() {
	if ec.BatchSize <= 0 {
		ec.BatchSize = replication.DefaultBatchSize
	}
	if ec.StatusTable == "" {
		ec.StatusTable = status.DefaultTable
	}
	if ec.StatusKey == "" {
		ec.StatusKey = status.DefaultKey
	}
}

// Validate validates the engine configuration
func (ec *EngineConfig) Validate() error {
	var errs []error

	if ec.BatchSize < 1 || ec.BatchSize > 65535 {
		errs = append(errs, fmt.Errorf("batch_size must be between 1 and 65535, got %d", ec.BatchSize))
	}
	if len(ec.StatusTable) > 64 {
		errs = append(errs, fmt.Errorf("status_table %q is longer than 64 characters", ec.StatusTable))
	}
	if len(ec.StatusKey) > 64 {
		errs = append(errs, fmt.Errorf("status_key %q is longer than 64 characters", ec.StatusKey))
	}
	for _, pattern := range ec.ExcludeTables {
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err))
			continue
		}
		if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(ec.StatusTable)); ok {
			errs = append(errs, fmt.Errorf("exclude pattern %q matches the status table", pattern))
		}
	}

	return errors.Join(errs...)
}

// SetDefaults sets default values for server configuration
func (sc *ServerConfig) SetDefaults() {
	if sc.Listen == "" {
		sc.Listen = ":8080"
	}
	if sc.AutoBackupInterval == 0 {
		sc.AutoBackupInterval = 24 * time.Hour
	}
}

// Validate validates the server configuration. A negative interval turns
// the scheduler off.
func (sc *ServerConfig) Validate() error {
	if sc.AutoBackupInterval > 0 && sc.AutoBackupInterval < time.Minute {
		return fmt.Errorf("auto_backup_interval must be at least 1m, got %s", sc.AutoBackupInterval)
	}
	return nil
}

// SetDefaults sets default values for log configuration
func (lc *LogConfig) SetDefaults() {
	if lc.Level == "" {
		lc.Level = string(logging.LogLevelNormal)
	}
	if lc.Format == "" {
		lc.Format = "text"
	}
}

// Validate validates the log configuration
func (lc *LogConfig) Validate() error {
	var errs []error

	switch logging.LogLevel(strings.ToLower(lc.Level)) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q, must be one of: quiet, normal, verbose, debug", lc.Level))
	}

	switch strings.ToLower(lc.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q, must be text or json", lc.Format))
	}

	return errors.Join(errs...)
}

// LoggerConfig converts the log section for logging.NewLogger
func (lc *LogConfig) LoggerConfig() logging.Config {
	level := logging.ParseLevel(strings.ToLower(lc.Level))
	return logging.Config{
		Level:      level,
		Format:     strings.ToLower(lc.Format),
		ShowCaller: level == logging.LogLevelDebug,
		LogFile:    lc.File,
	}
}
