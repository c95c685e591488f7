package db

import "fmt"

// Dialect names the SQL flavour a connection speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type PostgresConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	DBName   string `env:"DB_NAME" envDefault:"postcards"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Config selects the ledger backend. SQLite is the default so the service
// runs without any external database.
type Config struct {
	Driver     Dialect `env:"DB_DRIVER" envDefault:"sqlite"`
	SQLitePath string  `env:"DB_SQLITE_PATH" envDefault:"postcards.db"`
	Postgres   PostgresConfig
}
