package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. MYSQL_MIRROR_PRIMARY_DSN
	EnvPrefix = "MYSQL_MIRROR"
	// DefaultConfigName is the config file looked up in $HOME and the working directory
	DefaultConfigName = ".mysql-mirror"
)

// defaults lists every key so that environment variables reach Unmarshal
// even when no config file sets them.
var defaults = map[string]interface{}{
	"primary.dsn":                   "",
	"primary.host":                  "localhost",
	"primary.port":                  3306,
	"primary.username":              "",
	"primary.password":              "",
	"primary.database":              "",
	"primary.timeout":               "30s",
	"backup.dsn":                    "",
	"backup.host":                   "localhost",
	"backup.port":                   3306,
	"backup.username":               "",
	"backup.password":               "",
	"backup.database":               "",
	"backup.timeout":                "30s",
	"engine.batch_size":             500,
	"engine.status_table":           "backup_status",
	"engine.status_key":             "__backup_status__",
	"engine.exclude_tables":         []string{},
	"engine.create_backup_database": true,
	"server.listen":                 ":8080",
	"server.auto_backup_interval":   "24h",
	"log.level":                     "normal",
	"log.format":                    "text",
	"log.file":                      "",
}

// NewViper returns a viper instance reading MYSQL_MIRROR_* variables and,
// if found, the config file. An explicit configFile must exist; the default
// file is optional.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	RegisterDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		return v, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetConfigName(DefaultConfigName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// RegisterDefaults registers the default of every configuration key on v
func RegisterDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load decodes, completes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv copies variables from .env files into the process environment.
// Missing files are skipped and variables already set are never overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}
