package postgres

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenSQLDB opens a database/sql handle over the pgx stdlib driver for
// migrations, which goose drives directly rather than through a
// pgxpool.Pool.
func OpenSQLDB(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("postgres: open sql db: %w", err)
	}
	return db, nil
}

// Migrate applies every pending migration embedded under migrations/
// using pressly/goose/v3 against a *sql.DB opened for the same
// DATABASE_URL the pgxpool.Pool uses (goose drives plain database/sql,
// not pgx directly).
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: migrate: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
