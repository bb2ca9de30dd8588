package database

import (
	"strings"
	"testing"
	"time"
)

func TestDatabaseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  DatabaseConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Username: "root",
				Password: "password",
				Database: "testdb",
				Timeout:  30 * time.Second,
			},
			wantErr: false,
		},
		{
			name: "missing host",
			config: DatabaseConfig{
				Port:     3306,
				Username: "root",
				Database: "testdb",
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     70000,
				Username: "root",
				Database: "testdb",
			},
			wantErr: true,
		},
		{
			name: "missing username",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Database: "testdb",
			},
			wantErr: true,
		},
		{
			name: "missing database",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Username: "root",
			},
			wantErr: true,
		},
		{
			name:    "valid dsn",
			config:  DatabaseConfig{DSN: "root:secret@tcp(db:3306)/app"},
			wantErr: false,
		},
		{
			name:    "dsn without database",
			config:  DatabaseConfig{DSN: "root:secret@tcp(db:3306)/"},
			wantErr: true,
		},
		{
			name:    "malformed dsn",
			config:  DatabaseConfig{DSN: "root:secret@tcp(db:3306"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	config := DatabaseConfig{Username: "root", Database: "app"}
	config.SetDefaults()

	if config.Host != "localhost" {
		t.Errorf("Expected default host localhost, got %s", config.Host)
	}
	if config.Port != 3306 {
		t.Errorf("Expected default port 3306, got %d", config.Port)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", config.Timeout)
	}
}

func TestDatabaseConfig_MySQLConfig(t *testing.T) {
	config := DatabaseConfig{
		Host:     "db.internal",
		Port:     3307,
		Username: "mirror",
		Password: "secret",
		Database: "app",
		Timeout:  5 * time.Second,
	}

	cfg, err := config.MySQLConfig()
	if err != nil {
		t.Fatalf("MySQLConfig() error = %v", err)
	}
	if cfg.Addr != "db.internal:3307" {
		t.Errorf("Expected addr db.internal:3307, got %s", cfg.Addr)
	}
	if cfg.DBName != "app" || cfg.User != "mirror" || cfg.Passwd != "secret" {
		t.Errorf("Unexpected credentials or schema: %+v", cfg)
	}
	if cfg.ParseTime {
		t.Error("Expected ParseTime to be disabled")
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", cfg.Timeout)
	}
	if cfg.Params["charset"] != "utf8mb4" {
		t.Errorf("Expected utf8mb4 charset, got %q", cfg.Params["charset"])
	}
}

func TestDatabaseConfig_MySQLConfigFromDSN(t *testing.T) {
	config := DatabaseConfig{DSN: "root:secret@tcp(db:3306)/app?parseTime=true&charset=latin1"}

	cfg, err := config.MySQLConfig()
	if err != nil {
		t.Fatalf("MySQLConfig() error = %v", err)
	}
	if cfg.ParseTime {
		t.Error("Expected ParseTime to be forced off")
	}
	if cfg.Params["charset"] != "latin1" {
		t.Errorf("Expected explicit charset to be kept, got %q", cfg.Params["charset"])
	}
	if config.DatabaseName() != "app" {
		t.Errorf("DatabaseName() = %s, want app", config.DatabaseName())
	}
	if config.Address() != "db:3306" {
		t.Errorf("Address() = %s, want db:3306", config.Address())
	}
}

func TestDatabaseConfig_ServerDataSourceName(t *testing.T) {
	config := DatabaseConfig{Host: "localhost", Port: 3306, Username: "root", Database: "app_backup"}

	dsn, err := config.ServerDataSourceName()
	if err != nil {
		t.Fatalf("ServerDataSourceName() error = %v", err)
	}
	if strings.Contains(dsn, "app_backup") {
		t.Errorf("Expected DSN without schema, got %s", dsn)
	}

	full, err := config.DataSourceName()
	if err != nil {
		t.Fatalf("DataSourceName() error = %v", err)
	}
	if !strings.Contains(full, "/app_backup") {
		t.Errorf("Expected DSN with schema, got %s", full)
	}
}

func TestSameTarget(t *testing.T) {
	a := DatabaseConfig{Host: "localhost", Port: 3306, Database: "app"}
	b := DatabaseConfig{DSN: "root:pw@tcp(localhost:3306)/app"}
	c := DatabaseConfig{Host: "localhost", Port: 3306, Database: "app_backup"}

	if !SameTarget(a, b) {
		t.Error("Expected discrete and DSN configs for the same schema to match")
	}
	if SameTarget(a, c) {
		t.Error("Expected different schemas not to match")
	}
}
