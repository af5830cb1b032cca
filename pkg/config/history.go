package config

import "fmt"

// DefaultHistoryPath is the default SQLite database file for report
// history.
const DefaultHistoryPath = "./xctimeline-history.db"

// HistoryConfig enables persisting report summaries between runs.
type HistoryConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Database HistoryDatabaseConfig `yaml:"database"`
}

// HistoryDatabaseConfig contains database connection settings.
type HistoryDatabaseConfig struct {
	Driver   string               `yaml:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

func (c *HistoryConfig) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultHistoryPath
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Postgres.Port == 0 {
			c.Database.Postgres.Port = 5432
		}

		if c.Database.Postgres.SSLMode == "" {
			c.Database.Postgres.SSLMode = "disable"
		}
	}
}

// Validate checks the history configuration.
func (c *HistoryConfig) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	return nil
}
