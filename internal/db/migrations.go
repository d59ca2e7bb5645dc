// Package db holds the embedded goose migrations for the settlement schema.
package db

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const dialect = "postgres"

// MigrationsDir is the directory inside Migrations holding the SQL files
const MigrationsDir = "migrations"

//go:embed migrations/*.sql
var Migrations embed.FS

// Open opens a database/sql handle through the pgx stdlib driver
func Open(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return conn, nil
}

// Run executes a goose command against the embedded migrations
func Run(conn *sql.DB, command string, args ...string) error {
	goose.SetBaseFS(Migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Run(command, conn, MigrationsDir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// Up migrates the database to the latest version
func Up(conn *sql.DB) error {
	return Run(conn, "up")
}
