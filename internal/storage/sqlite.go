package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "bwkeeper/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_history(run_id, source, started_at, url, speed_limit, bytes, duration_ms, status_code, err, skipped)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Source, r.StartedAt.UTC().Format(time.RFC3339Nano), nullStr(r.URL), nullStr(r.SpeedLimit),
		r.Bytes, r.DurationMS, r.StatusCode, nullStr(r.Error), r.Skipped,
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source, started_at, url, speed_limit, bytes, duration_ms, status_code, err, skipped
		 FROM run_history ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                       RunRecord
			started                 string
			url, limitName, errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Source, &started, &url, &limitName,
			&r.Bytes, &r.DurationMS, &r.StatusCode, &errText, &r.Skipped); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.URL, r.SpeedLimit, r.Error = url.String, limitName.String, errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
