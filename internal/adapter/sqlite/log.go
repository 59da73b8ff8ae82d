// Package sqlite implements storage.Log on a single-table SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
)

const schema = `CREATE TABLE IF NOT EXISTS log_entries (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	payload    BLOB    NOT NULL,
	created_at INTEGER NOT NULL
)`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// Log is a storage.Log backed by SQLite.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Log = (*Log)(nil)

// Open opens (creating if needed) a SQLite log at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path = filepath.Clean(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers and keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("sqlite log opened", "path", path)
	return &Log{db: db, logger: logger}, nil
}

func (l *Log) Append(ctx context.Context, payload []byte) (uint64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO log_entries (payload, created_at) VALUES (?, ?)`,
		payload, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert log entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read log entry id: %w", err)
	}
	return uint64(id), nil
}

func (l *Log) ReadAll(ctx context.Context) ([]storage.Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT seq, payload FROM log_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query log entries: %w", err)
	}
	defer rows.Close()

	var out []storage.Entry
	for rows.Next() {
		var e storage.Entry
		var seq int64
		if err := rows.Scan(&seq, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Seq = uint64(seq)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return out, nil
}

func (l *Log) Update(ctx context.Context, seq uint64, payload []byte) error {
	res, err := l.db.ExecContext(ctx, `UPDATE log_entries SET payload = ? WHERE seq = ?`, payload, int64(seq))
	if err != nil {
		return fmt.Errorf("update log entry %d: %w", seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update log entry %d: %w", seq, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (l *Log) Delete(ctx context.Context, seqs ...uint64) (int, error) {
	if len(seqs) == 0 {
		return 0, nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM log_entries WHERE seq = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	var removed int64
	for _, seq := range seqs {
		res, err := stmt.ExecContext(ctx, int64(seq))
		if err != nil {
			return 0, fmt.Errorf("delete log entry %d: %w", seq, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete log entry %d: %w", seq, err)
		}
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return int(removed), nil
}

func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
