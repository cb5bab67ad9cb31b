// Package store persists upload sessions, their audit logs and classified
// failures.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/db"
	"github.com/sells-group/ingest-cli/internal/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = eris.New("store: not found")

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Phase  model.Phase `json:"phase,omitempty"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

// FailureFilter narrows ListFailures.
type FailureFilter struct {
	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Store is the persistence surface of the upload wizard.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, snap model.SessionSnapshot) error
	GetSession(ctx context.Context, id string) (*model.SessionSnapshot, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.SessionSnapshot, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteStaleSessions(ctx context.Context, before time.Time) (int, error)

	// Audit log. Entries are keyed by their position, so saving a log that
	// grew only writes the new entries.
	SaveLogs(ctx context.Context, sessionID string, logs []model.LogEntry) error
	ListLogs(ctx context.Context, sessionID string) ([]model.LogEntry, error)

	// Failures
	RecordFailure(ctx context.Context, f model.FailureRecord) error
	ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailureRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// DefaultSQLitePath is used when the sqlite driver has no URL.
const DefaultSQLitePath = "ingest.db"

// Open creates the configured store. It does not migrate.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		return NewSQLite(dsn)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: postgres driver needs a database_url")
		}
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

func fileName(snap model.SessionSnapshot) string {
	if snap.File == nil {
		return ""
	}
	return snap.File.Name
}

func decodeSession(data []byte) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal session")
	}
	return &snap, nil
}

func withFailureDefaults(f model.FailureRecord) model.FailureRecord {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return f
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
