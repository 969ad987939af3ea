package database

import (
	"errors"
	"fmt"
	"time"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config defines the database configuration
type Config struct {
	Driver string `mapstructure:"driver"` // postgres, sqlite

	// Connection settings (postgres)
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"` // disable, require, verify-ca, verify-full

	// Path is the sqlite database file, ":memory:" for an in-memory database
	Path string `mapstructure:"path"`

	// Connection pool settings
	MaxIdleConns    int           `mapstructure:"maxidleconns"`    // Maximum idle connections
	MaxOpenConns    int           `mapstructure:"maxopenconns"`    // Maximum open connections
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"` // Connection max lifetime
	ConnMaxIdleTime time.Duration `mapstructure:"connmaxidletime"` // Connection max idle time

	// GORM settings
	LogLevel      string        `mapstructure:"loglevel"`      // silent, error, warn, info
	SlowThreshold time.Duration `mapstructure:"slowthreshold"` // Slow query threshold
	SkipDefaultTx bool          `mapstructure:"skipdefaulttx"` // Skip default transaction
	PrepareStmt   bool          `mapstructure:"preparestmt"`   // Prepare statement cache

	// Additional settings
	Timezone             string `mapstructure:"timezone"`             // Database timezone
	AutoMigrate          bool   `mapstructure:"automigrate"`          // Enable auto migration
	PreferSimpleProtocol bool   `mapstructure:"prefersimpleprotocol"` // Prefer simple protocol
}

// DefaultConfig returns the default database configuration
func DefaultConfig() *Config {
	return &Config{
		Driver:   DriverPostgres,
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "file_service",
		SSLMode:  "disable",

		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,

		LogLevel:      "warn",
		SlowThreshold: 200 * time.Millisecond,
		PrepareStmt:   true,

		Timezone:    "UTC",
		AutoMigrate: true,
	}
}

// MemoryConfig returns a single connection in-memory sqlite configuration.
// One connection keeps every query on the same in-memory database.
func MemoryConfig() *Config {
	return &Config{
		Driver:       DriverSQLite,
		Path:         ":memory:",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		LogLevel:     "silent",
		AutoMigrate:  true,
	}
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate validates the database configuration
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, "":
		if c.Host == "" {
			return errors.New("database host is required")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return errors.New("database port must be between 1 and 65535")
		}
		if c.User == "" {
			return errors.New("database user is required")
		}
		if c.DBName == "" {
			return errors.New("database name is required")
		}
		if !oneOf(c.SSLMode, "disable", "require", "verify-ca", "verify-full") {
			return errors.New("invalid SSL mode, must be one of: disable, require, verify-ca, verify-full")
		}
	case DriverSQLite:
		if c.Path == "" {
			return errors.New("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	if !oneOf(c.LogLevel, "silent", "error", "warn", "info") {
		return errors.New("invalid log level, must be one of: silent, error, warn, info")
	}

	if c.MaxIdleConns < 0 {
		return errors.New("max idle connections must be >= 0")
	}
	if c.MaxOpenConns < 0 {
		return errors.New("max open connections must be >= 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns && c.MaxOpenConns > 0 {
		return errors.New("max idle connections cannot exceed max open connections")
	}
	if c.ConnMaxLifetime < 0 {
		return errors.New("connection max lifetime must be >= 0")
	}
	if c.ConnMaxIdleTime < 0 {
		return errors.New("connection max idle time must be >= 0")
	}
	if c.SlowThreshold < 0 {
		return errors.New("slow threshold must be >= 0")
	}

	return nil
}

// DSN returns the PostgreSQL connection DSN
func (c *Config) DSN() string {
	dsn := "host=" + c.Host +
		" port=" + fmt.Sprintf("%d", c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode

	if c.Timezone != "" {
		dsn += " TimeZone=" + c.Timezone
	}
	if c.PreferSimpleProtocol {
		dsn += " prefer_simple_protocol=true"
	}

	return dsn
}

// Target describes the database for logs without leaking credentials.
func (c *Config) Target() string {
	if c.Driver == DriverSQLite {
		return "sqlite:" + c.Path
	}
	return fmt.Sprintf("postgres://%s:%d/%s", c.Host, c.Port, c.DBName)
}
