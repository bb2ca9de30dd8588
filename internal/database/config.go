package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Role names one side of the connection pair
type Role string

const (
	// RolePrimary is the live, authoritative database
	RolePrimary Role = "primary"
	// RoleBackup is the mirror database
	RoleBackup Role = "backup"
)

// DatabaseConfig holds the configuration parameters for database connection.
// DSN, when set, takes precedence over the discrete fields.
type DatabaseConfig struct {
	DSN      string        `mapstructure:"dsn" yaml:"dsn"`
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults fills unset discrete fields
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Host == "" {
		dc.Host = "localhost"
	}
	if dc.Port == 0 {
		dc.Port = 3306
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	if dc.DSN != "" {
		cfg, err := mysql.ParseDSN(dc.DSN)
		if err != nil {
			return fmt.Errorf("database configuration validation failed: invalid dsn: %w", err)
		}
		if cfg.DBName == "" {
			return errors.New("database configuration validation failed: dsn must name a database")
		}
		return nil
	}

	var errs []error

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// MySQLConfig builds the driver configuration. Time parsing stays off so
// DATETIME and friends round-trip as the server's own text.
func (dc *DatabaseConfig) MySQLConfig() (*mysql.Config, error) {
	var cfg *mysql.Config
	if dc.DSN != "" {
		parsed, err := mysql.ParseDSN(dc.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid dsn: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = dc.Username
		cfg.Passwd = dc.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
		cfg.DBName = dc.Database
	}

	if dc.Timeout > 0 {
		cfg.Timeout = dc.Timeout
	}
	cfg.ParseTime = false
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}

	return cfg, nil
}

// DataSourceName returns the driver DSN
func (dc *DatabaseConfig) DataSourceName() (string, error) {
	cfg, err := dc.MySQLConfig()
	if err != nil {
		return "", err
	}
	return cfg.FormatDSN(), nil
}

// ServerDataSourceName returns a DSN without a default schema, for statements
// that must run before the database exists.
func (dc *DatabaseConfig) ServerDataSourceName() (string, error) {
	cfg, err := dc.MySQLConfig()
	if err != nil {
		return "", err
	}
	cfg.DBName = ""
	return cfg.FormatDSN(), nil
}

// DatabaseName returns the schema this config points at
func (dc *DatabaseConfig) DatabaseName() string {
	if dc.DSN != "" {
		if cfg, err := mysql.ParseDSN(dc.DSN); err == nil {
			return cfg.DBName
		}
		return ""
	}
	return dc.Database
}

// Address returns host:port for logging, never the credentials
func (dc *DatabaseConfig) Address() string {
	if dc.DSN != "" {
		if cfg, err := mysql.ParseDSN(dc.DSN); err == nil {
			return cfg.Addr
		}
		return ""
	}
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}

// SameTarget reports whether both configs resolve to the same schema on the same server
func SameTarget(a, b DatabaseConfig) bool {
	return a.Address() == b.Address() && a.DatabaseName() == b.DatabaseName()
}
