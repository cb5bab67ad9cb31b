package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ingest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	id         TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	file_name  TEXT,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS session_logs (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	ts         DATETIME NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS upload_failures (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	phase       TEXT NOT NULL,
	kind        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	title       TEXT NOT NULL,
	cause       TEXT,
	code        TEXT,
	status_code INTEGER NOT NULL DEFAULT 0,
	attempt     INTEGER NOT NULL DEFAULT 0,
	context     TEXT,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_updated_at ON upload_sessions(updated_at);
CREATE INDEX IF NOT EXISTS idx_upload_failures_session_id ON upload_failures(session_id);
CREATE INDEX IF NOT EXISTS idx_upload_failures_kind ON upload_failures(kind);
`

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, snap model.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}
	now := time.Now().UTC()
	created := snap.CreatedAt.UTC()
	if snap.CreatedAt.IsZero() {
		created = now
	}
	updated := snap.UpdatedAt.UTC()
	if snap.UpdatedAt.IsZero() {
		updated = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO upload_sessions (id, phase, file_name, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   phase = excluded.phase, file_name = excluded.file_name,
		   data = excluded.data, updated_at = excluded.updated_at`,
		snap.ID, string(snap.Phase), fileName(snap), string(data), created, updated,
	)
	return eris.Wrapf(err, "sqlite: save session %s", snap.ID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.SessionSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM upload_sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return decodeSession([]byte(data))
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSnapshot, error) {
	query := `SELECT data FROM upload_sessions`
	var args []any
	if filter.Phase != "" {
		query += ` WHERE phase = ?`
		args = append(args, string(filter.Phase))
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limitOr(filter.Limit, 100), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SessionSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		snap, err := decodeSession([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sessions")
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	n, err := s.deleteSessions(ctx, `id = ?`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteStaleSessions(ctx context.Context, before time.Time) (int, error) {
	return s.deleteSessions(ctx, `updated_at < ?`, before.UTC())
}

// deleteSessions removes matching sessions and their logs. Failures stay
// for inspection.
func (s *SQLiteStore) deleteSessions(ctx context.Context, where string, arg any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_logs WHERE session_id IN (SELECT id FROM upload_sessions WHERE `+where+`)`, arg); err != nil {
		return 0, eris.Wrap(err, "sqlite: delete session logs")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM upload_sessions WHERE `+where, arg)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) SaveLogs(ctx context.Context, sessionID string, logs []model.LogEntry) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_logs (session_id, seq, ts, level, message) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, seq) DO NOTHING`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare log insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, e := range logs {
		if _, err := stmt.ExecContext(ctx, sessionID, i, e.Timestamp.UTC(), string(e.Level), e.Message); err != nil {
			return eris.Wrapf(err, "sqlite: insert log %d of %s", i, sessionID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit logs")
}

func (s *SQLiteStore) ListLogs(ctx context.Context, sessionID string) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, level, message FROM session_logs WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list logs of %s", sessionID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Message); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate logs")
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, f model.FailureRecord) error {
	f = withFailureDefaults(f)
	var fctx sql.NullString
	if len(f.Context) > 0 {
		b, err := json.Marshal(f.Context)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal failure context")
		}
		fctx = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_failures
		   (id, session_id, phase, kind, severity, title, cause, code, status_code, attempt, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SessionID, string(f.Phase), f.Kind, string(f.Severity), f.Title,
		f.Cause, f.Code, f.StatusCode, f.Attempt, fctx, f.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record failure for %s", f.SessionID)
}

func (s *SQLiteStore) ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailureRecord, error) {
	query := `SELECT id, session_id, phase, kind, severity, title, cause, code, status_code, attempt, context, created_at
		FROM upload_failures WHERE 1=1`
	var args []any
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, 100))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FailureRecord
	for rows.Next() {
		var (
			f           model.FailureRecord
			cause, code sql.NullString
			fctx        sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Phase, &f.Kind, &f.Severity, &f.Title,
			&cause, &code, &f.StatusCode, &f.Attempt, &fctx, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		f.Cause, f.Code = cause.String, code.String
		if fctx.Valid {
			if err := json.Unmarshal([]byte(fctx.String), &f.Context); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal failure context")
			}
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate failures")
}
