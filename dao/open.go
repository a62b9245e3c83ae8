package dao

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"effect-service/db"
)

// MySQLConfig addresses the production effect database.
type MySQLConfig struct {
	User     string
	Password string
	Addr     string
	Database string
}

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = cfg.Addr
	c.DBName = cfg.Database
	c.ParseTime = true

	connector, err := mysql.NewConnector(c)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	sqlDB := sql.OpenDB(connector)
	if err := mysqlDialect.withRetry(ctx, func() error { return sqlDB.PingContext(ctx) }); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return sqlDB, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file and applies the
// embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	sqlDB, err := ConnectSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ApplyMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

// ConnectSQLite opens a SQLite database file without touching its schema.
func ConnectSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return sqlDB, nil
}

func NewMySQLRepository(sqlDB *sql.DB) *EffectRepository {
	return &EffectRepository{db: sqlDB, dialect: mysqlDialect}
}

func NewSQLiteRepository(sqlDB *sql.DB) *EffectRepository {
	return &EffectRepository{db: sqlDB, dialect: sqliteDialect}
}
