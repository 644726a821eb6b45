package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/warden/internal/process"
)

// SQLiteStore keeps the snapshot in a single table, rewritten in one
// transaction per save.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS server_records(
		server_id TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		start_time_unix INTEGER NOT NULL DEFAULT 0,
		last_exit_reason TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, recs []process.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM server_records;`); err != nil {
		return fmt.Errorf("sqlite store: clear: %w", err)
	}
	for _, rec := range recs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO server_records(server_id, pid, status, started_at, start_time_unix, last_exit_reason)
			VALUES(?, ?, ?, ?, ?, ?);`,
			rec.ServerID, rec.PID, string(rec.Status), rec.StartedAt.UTC(), rec.StartTimeUnix, rec.LastExitReason)
		if err != nil {
			return fmt.Errorf("sqlite store: insert %s: %w", rec.ServerID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context) ([]process.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, pid, status, started_at, start_time_unix, last_exit_reason
		FROM server_records ORDER BY server_id;`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []process.Record
	for rows.Next() {
		var rec process.Record
		var status string
		var startedAt time.Time
		if err := rows.Scan(&rec.ServerID, &rec.PID, &status, &startedAt, &rec.StartTimeUnix, &rec.LastExitReason); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		rec.Status = process.Status(status)
		rec.StartedAt = startedAt
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
