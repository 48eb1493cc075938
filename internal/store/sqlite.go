package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id              TEXT PRIMARY KEY,
	position        INTEGER NOT NULL,
	text            TEXT NOT NULL DEFAULT '',
	importance      TEXT NOT NULL DEFAULT 'basic',
	deadline        INTEGER,
	done            INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	changed_at      INTEGER,
	color           TEXT NOT NULL DEFAULT '#000000',
	last_updated_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_items_position ON items(position);
`

// SQLiteBackend persists records in an embedded SQLite database. Insertion
// order is kept in the position column.
type SQLiteBackend struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path and ensures the schema
// exists. The caller must call Close.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPathUnavailable)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %w", ErrPathUnavailable, err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrPathUnavailable, err)
	}

	// One writer keeps SQLITE_BUSY away and makes :memory: usable.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	b := &SQLiteBackend{conn: conn, path: path}

	if path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite:" + b.path }

// Put implements Backend.
func (b *SQLiteBackend) Put(ctx context.Context, it task.Item) error {
	query := `
	INSERT INTO items (
		id, position, text, importance, deadline, done,
		created_at, changed_at, color, last_updated_by
	) VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM items), ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text,
		importance = excluded.importance,
		deadline = excluded.deadline,
		done = excluded.done,
		created_at = excluded.created_at,
		changed_at = excluded.changed_at,
		color = excluded.color,
		last_updated_by = excluded.last_updated_by
	`
	if _, err := b.conn.ExecContext(ctx, query, itemArgs(it)...); err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", it.ID, err)
	}
	return nil
}

// Remove implements Backend.
func (b *SQLiteBackend) Remove(ctx context.Context, id string) error {
	if _, err := b.conn.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

// All implements Backend.
func (b *SQLiteBackend) All(ctx context.Context) ([]task.Item, error) {
	rows, err := b.conn.QueryContext(ctx, `
	SELECT id, text, importance, deadline, done, created_at, changed_at, color, last_updated_by
	FROM items
	ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []task.Item{}
	for rows.Next() {
		var (
			it         task.Item
			importance string
			deadline   sql.NullInt64
			done       int
			created    int64
			changed    sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.Text, &importance, &deadline, &done,
			&created, &changed, &it.Color, &it.LastUpdatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.Importance = task.ParseImportance(importance)
		it.Deadline = nullUnix(deadline)
		it.Done = done != 0
		it.CreatedAt = time.Unix(created, 0)
		it.ChangedAt = nullUnix(changed)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// ReplaceAll implements Backend.
func (b *SQLiteBackend) ReplaceAll(ctx context.Context, items []task.Item) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO items (
		id, position, text, importance, deadline, done,
		created_at, changed_at, color, last_updated_by
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text,
		importance = excluded.importance,
		deadline = excluded.deadline,
		done = excluded.done,
		created_at = excluded.created_at,
		changed_at = excluded.changed_at,
		color = excluded.color,
		last_updated_by = excluded.last_updated_by
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, it := range items {
		args := itemArgs(it)
		args = append([]any{args[0], i + 1}, args[1:]...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the connection.
func (b *SQLiteBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	if b.path != ":memory:" {
		if _, err := b.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	b.conn = nil
	return nil
}

// itemArgs returns the column values of it, without position.
func itemArgs(it task.Item) []any {
	done := 0
	if it.Done {
		done = 1
	}
	color := it.Color
	if color == "" {
		color = task.DefaultColor
	}
	return []any{
		it.ID,
		it.Text,
		it.Importance.WireName(),
		unixOrNull(it.Deadline),
		done,
		it.CreatedAt.Unix(),
		unixOrNull(it.ChangedAt),
		color,
		it.LastUpdatedBy,
	}
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
