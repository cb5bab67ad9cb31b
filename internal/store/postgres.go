package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/db"
	"github.com/sells-group/ingest-cli/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to connString.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool so the warehouse can share it.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	id         TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	file_name  TEXT,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_logs (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS upload_failures (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id  TEXT NOT NULL,
	phase       TEXT NOT NULL,
	kind        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	title       TEXT NOT NULL,
	cause       TEXT,
	code        TEXT,
	status_code INTEGER NOT NULL DEFAULT 0,
	attempt     INTEGER NOT NULL DEFAULT 0,
	context     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_updated_at ON upload_sessions(updated_at);
CREATE INDEX IF NOT EXISTS idx_upload_failures_session_id ON upload_failures(session_id);
CREATE INDEX IF NOT EXISTS idx_upload_failures_kind ON upload_failures(kind);
`

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, snap model.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}
	now := time.Now().UTC()
	created, updated := snap.CreatedAt, snap.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO upload_sessions (id, phase, file_name, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   phase = EXCLUDED.phase, file_name = EXCLUDED.file_name,
		   data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		snap.ID, string(snap.Phase), fileName(snap), data, created, updated,
	)
	return eris.Wrapf(err, "postgres: save session %s", snap.ID)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.SessionSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM upload_sessions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return decodeSession(data)
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSnapshot, error) {
	query := `SELECT data FROM upload_sessions`
	var args []any
	if filter.Phase != "" {
		args = append(args, string(filter.Phase))
		query += fmt.Sprintf(` WHERE phase = $%d`, len(args))
	}
	args = append(args, limitOr(filter.Limit, 100), filter.Offset)
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	var out []model.SessionSnapshot
	var data []byte
	_, err = pgx.ForEachRow(rows, []any{&data}, func() error {
		snap, err := decodeSession(data)
		if err != nil {
			return err
		}
		out = append(out, *snap)
		return nil
	})
	return out, eris.Wrap(err, "postgres: scan sessions")
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	n, err := s.deleteSessions(ctx, `id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteStaleSessions(ctx context.Context, before time.Time) (int, error) {
	return s.deleteSessions(ctx, `updated_at < $1`, before.UTC())
}

func (s *PostgresStore) deleteSessions(ctx context.Context, where string, arg any) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM session_logs WHERE session_id IN (SELECT id FROM upload_sessions WHERE `+where+`)`, arg); err != nil {
		return 0, eris.Wrap(err, "postgres: delete session logs")
	}
	tag, err := tx.Exec(ctx, `DELETE FROM upload_sessions WHERE `+where, arg)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete sessions")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit")
	}
	return int(tag.RowsAffected()), nil
}

// SaveLogs writes the whole log in one statement; entries already stored
// are skipped by their sequence number.
func (s *PostgresStore) SaveLogs(ctx context.Context, sessionID string, logs []model.LogEntry) error {
	if len(logs) == 0 {
		return nil
	}
	seqs := make([]int32, len(logs))
	stamps := make([]time.Time, len(logs))
	levels := make([]string, len(logs))
	msgs := make([]string, len(logs))
	for i, e := range logs {
		seqs[i] = int32(i)
		stamps[i] = e.Timestamp.UTC()
		levels[i] = string(e.Level)
		msgs[i] = e.Message
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_logs (session_id, seq, ts, level, message)
		 SELECT $1, u.seq, u.ts, u.level, u.message
		 FROM unnest($2::int[], $3::timestamptz[], $4::text[], $5::text[]) AS u(seq, ts, level, message)
		 ON CONFLICT (session_id, seq) DO NOTHING`,
		sessionID, seqs, stamps, levels, msgs,
	)
	return eris.Wrapf(err, "postgres: save logs of %s", sessionID)
}

func (s *PostgresStore) ListLogs(ctx context.Context, sessionID string) ([]model.LogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, level, message FROM session_logs WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list logs of %s", sessionID)
	}
	var (
		out []model.LogEntry
		e   model.LogEntry
	)
	_, err = pgx.ForEachRow(rows, []any{&e.Timestamp, &e.Level, &e.Message}, func() error {
		out = append(out, e)
		return nil
	})
	return out, eris.Wrap(err, "postgres: scan logs")
}

func (s *PostgresStore) RecordFailure(ctx context.Context, f model.FailureRecord) error {
	f = withFailureDefaults(f)
	var fctx []byte
	if len(f.Context) > 0 {
		b, err := json.Marshal(f.Context)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal failure context")
		}
		fctx = b
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO upload_failures
		   (id, session_id, phase, kind, severity, title, cause, code, status_code, attempt, context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		f.ID, f.SessionID, string(f.Phase), f.Kind, string(f.Severity), f.Title,
		f.Cause, f.Code, f.StatusCode, f.Attempt, fctx, f.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record failure for %s", f.SessionID)
}

func (s *PostgresStore) ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailureRecord, error) {
	query := `SELECT id, session_id, phase, kind, severity, title,
		COALESCE(cause, ''), COALESCE(code, ''), status_code, attempt, context, created_at
		FROM upload_failures WHERE true`
	var args []any
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(` AND session_id = $%d`, len(args))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	args = append(args, limitOr(filter.Limit, 100))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	var (
		out  []model.FailureRecord
		f    model.FailureRecord
		fctx []byte
	)
	_, err = pgx.ForEachRow(rows, []any{&f.ID, &f.SessionID, &f.Phase, &f.Kind, &f.Severity, &f.Title,
		&f.Cause, &f.Code, &f.StatusCode, &f.Attempt, &fctx, &f.CreatedAt}, func() error {
		rec := f
		rec.Context = nil
		if len(fctx) > 0 {
			if err := json.Unmarshal(fctx, &rec.Context); err != nil {
				return eris.Wrap(err, "postgres: unmarshal failure context")
			}
		}
		out = append(out, rec)
		return nil
	})
	return out, eris.Wrap(err, "postgres: scan failures")
}
