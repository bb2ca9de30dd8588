package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mysql-mirror/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() Config {
	cfg := Config{}
	cfg.Primary.Username = "root"
	cfg.Primary.Database = "app"
	cfg.Backup.Username = "root"
	cfg.Backup.Database = "app_backup"
	cfg.SetDefaults()
	return cfg
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
primary:
  host: db.internal
  username: app
  database: shop
backup:
  dsn: "app:secret@tcp(backup.internal:3306)/shop_backup"
engine:
  batch_size: 250
  exclude_tables: ["audit_*"]
server:
  auto_backup_interval: 6h
log:
  level: verbose
`)

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Primary.Host)
	assert.Equal(t, 3306, cfg.Primary.Port)
	assert.Equal(t, 30*time.Second, cfg.Primary.Timeout)
	assert.Equal(t, "shop_backup", cfg.Backup.DatabaseName())
	assert.Equal(t, 250, cfg.Engine.BatchSize)
	assert.Equal(t, []string{"audit_*"}, cfg.Engine.ExcludeTables)
	assert.True(t, cfg.Engine.CreateBackupDatabase)
	assert.Equal(t, "backup_status", cfg.Engine.StatusTable)
	assert.Equal(t, 6*time.Hour, cfg.Server.AutoBackupInterval)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "verbose", cfg.Log.Level)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
primary:
  username: app
  database: shop
backup:
  username: app
  database: shop_backup
`)
	t.Setenv("MYSQL_MIRROR_PRIMARY_DSN", "root:pw@tcp(primary.internal:3306)/live")
	t.Setenv("MYSQL_MIRROR_ENGINE_BATCH_SIZE", "42")
	t.Setenv("MYSQL_MIRROR_LOG_FORMAT", "json")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Primary.DatabaseName())
	assert.Equal(t, "primary.internal:3306", cfg.Primary.Address())
	assert.Equal(t, 42, cfg.Engine.BatchSize)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsSameTarget(t *testing.T) {
	path := writeConfig(t, `
primary:
  username: app
  database: shop
backup:
  username: other
  database: shop
`)

	v, err := NewViper(path)
	require.NoError(t, err)
	_, err = Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both point to localhost:3306/shop")
}

func TestSample(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(Sample), &cfg))
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "app", cfg.Primary.Database)
	assert.Equal(t, "app_backup", cfg.Backup.Database)
	assert.Equal(t, 24*time.Hour, cfg.Server.AutoBackupInterval)

	v, err := NewViper(writeConfig(t, Sample))
	require.NoError(t, err)
	loaded, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, cfg.Engine.BatchSize, loaded.Engine.BatchSize)
	assert.Equal(t, cfg.Engine.StatusKey, loaded.Engine.StatusKey)
	assert.Equal(t, cfg.Engine.CreateBackupDatabase, loaded.Engine.CreateBackupDatabase)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name          string
		modify        func(*Config)
		errorContains string
	}{
		{
			name:   "valid",
			modify: func(*Config) {},
		},
		{
			name:          "missing primary database",
			modify:        func(c *Config) { c.Primary.Database = "" },
			errorContains: "primary:",
		},
		{
			name:          "batch size too large",
			modify:        func(c *Config) { c.Engine.BatchSize = 70000 },
			errorContains: "batch_size",
		},
		{
			name:          "bad exclude pattern",
			modify:        func(c *Config) { c.Engine.ExcludeTables = []string{"[a-"} },
			errorContains: "invalid exclude pattern",
		},
		{
			name:          "exclude pattern hides status table",
			modify:        func(c *Config) { c.Engine.ExcludeTables = []string{"backup_*"} },
			errorContains: "matches the status table",
		},
		{
			name:          "interval too short",
			modify:        func(c *Config) { c.Server.AutoBackupInterval = time.Second },
			errorContains: "auto_backup_interval",
		},
		{
			name:   "scheduler disabled",
			modify: func(c *Config) { c.Server.AutoBackupInterval = -1 },
		},
		{
			name:          "unknown log level",
			modify:        func(c *Config) { c.Log.Level = "chatty" },
			errorContains: "invalid log level",
		},
		{
			name:          "unknown log format",
			modify:        func(c *Config) { c.Log.Format = "xml" },
			errorContains: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.errorContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestLoggerConfig(t *testing.T) {
	lc := LogConfig{Level: "DEBUG", Format: "JSON", File: "/tmp/mirror.log"}
	cfg := lc.LoggerConfig()

	assert.Equal(t, logging.LogLevelDebug, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.ShowCaller)
	assert.Equal(t, "/tmp/mirror.log", cfg.LogFile)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MYSQL_MIRROR_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MYSQL_MIRROR_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("MYSQL_MIRROR_TEST_DOTENV"))
}

func TestLoadDotEnv_KeepsExistingVariables(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MYSQL_MIRROR_TEST_KEEP=from-file\n"), 0o600))
	t.Setenv("MYSQL_MIRROR_TEST_KEEP", "from-shell")

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from-shell", os.Getenv("MYSQL_MIRROR_TEST_KEEP"))
}
