package cookies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/facebookgo/clock"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cookies (
	origin     TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (origin, name)
);
`

// SQLiteJar persists cookies in a SQLite database.
type SQLiteJar struct {
	db    *sql.DB
	clock clock.Clock
}

// OpenSQLite opens (creating if needed) the cookie database at path.
func OpenSQLite(path string, clk clock.Clock) (*SQLiteJar, error) {
	if clk == nil {
		clk = clock.New()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cookie directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteJar{db: db, clock: clk}, nil
}

// Get implements Jar.
func (j *SQLiteJar) Get(ctx context.Context, rawURL, name string) (string, bool, error) {
	origin, err := Origin(rawURL)
	if err != nil {
		return "", false, err
	}

	var value string
	var expiresAt int64
	err = j.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM cookies WHERE origin = ? AND name = ?",
		origin, name,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cookie %s: %w", name, err)
	}
	if expired(expiresAt, j.clock) {
		return "", false, nil
	}
	return value, true, nil
}

// Set implements Jar.
func (j *SQLiteJar) Set(ctx context.Context, c Cookie) error {
	origin, err := validate(c)
	if err != nil {
		return err
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO cookies (origin, name, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(origin, name) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		origin, c.Name, c.Value, c.ExpirationDate, j.clock.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cookie %s: %w", c.Name, err)
	}
	return nil
}

// Close closes the database.
func (j *SQLiteJar) Close() error {
	return j.db.Close()
}
