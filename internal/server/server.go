// Package server exposes upload sessions over a JSON HTTP API for the
// browser wizard. Sessions live in memory and are rebuilt from the store
// when a request names one that is not loaded.
package server

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/poller"
	"github.com/sells-group/ingest-cli/internal/wizard"
)

// Store is what the server needs from session persistence.
type Store interface {
	wizard.Store
	GetSession(ctx context.Context, id string) (*model.SessionSnapshot, error)
	ListLogs(ctx context.Context, sessionID string) ([]model.LogEntry, error)
	DeleteSession(ctx context.Context, id string) error
}

// Deps wires the server to its collaborators. Catalog and Store are
// optional; without a store sessions are not resumable.
type Deps struct {
	Wizard  wizard.Deps
	Catalog analysis.Catalog
	Store   Store
}

// Config tunes the server.
type Config struct {
	AllowedOrigins []string
	// SessionTTL is how long a session may sit idle before the sweep
	// drops it from memory.
	SessionTTL time.Duration
	// UploadDir receives files posted as multipart forms.
	UploadDir      string
	MaxUploadBytes int64
	Wizard         wizard.Config
}

const (
	defaultSessionTTL     = time.Hour
	defaultMaxUploadBytes = 100 << 20
	sweepJob              = "session-sweep"
)

// Server serves the wizard API.
type Server struct {
	deps     Deps
	cfg      Config
	sessions *registry
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. Background uploads run until Close.
func New(deps Deps, cfg Config) *Server {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	if deps.Wizard.Store == nil && deps.Store != nil {
		deps.Wizard.Store = deps.Store
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		deps:     deps,
		cfg:      cfg,
		sessions: newRegistry(),
		log:      zap.L().Named("server"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.len()})
	})

	r.Route("/tables", func(r chi.Router) {
		r.Get("/", s.listTables)
		r.Get("/{table}", s.describeTable)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.withSession(s.getSession))
			r.Delete("/", s.deleteSession)
			r.Get("/logs", s.withSession(s.logs))

			r.Post("/file", s.withSession(s.selectFile))
			r.Put("/target-table", s.withSession(s.changeTargetTable))
			r.Post("/reanalyze", s.withSession(s.reanalyze))
			r.Post("/mode", s.withSession(s.chooseMode))
			r.Post("/compatibility/approve", s.withSession(s.approve))
			r.Post("/compatibility/continue", s.withSession(s.continueCompatibility))

			r.Route("/mappings", func(r chi.Router) {
				r.Get("/", s.withSession(s.mappings))
				r.Delete("/", s.withSession(s.clearMappings))
				r.Post("/auto-apply", s.withSession(s.autoApply))
				r.Post("/reset", s.withSession(s.resetMappings))
				r.Post("/profile", s.withSession(s.applyProfile))
				r.Post("/confirm", s.withSession(s.confirmMappings))
				r.Get("/{source}/options", s.withSession(s.mappingOptions))
				r.Put("/{source}", s.withSession(s.updateMapping))
				r.Delete("/{source}", s.withSession(s.removeMapping))
			})
			r.Get("/preview", s.withSession(s.preview))

			r.Post("/upload", s.withSession(s.startUpload))
			r.Post("/upload/retry", s.withSession(s.retryUpload))
			r.Post("/upload/cancel", s.withSession(s.cancelUpload))
			r.Post("/auto-retry/cancel", s.withSession(s.cancelAutoRetry))
			r.Post("/recover", s.withSession(s.recoverSession))
			r.Post("/dismiss", s.withSession(s.dismiss))
			r.Post("/back", s.withSession(s.back))
			r.Post("/cancel", s.withSession(s.cancelSession))
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Sweep drops sessions idle since before now minus the TTL. Sessions with
// an upload running are kept.
func (s *Server) Sweep(now time.Time) int {
	cutoff := now.Add(-s.cfg.SessionTTL)
	dropped := 0
	for _, e := range s.sessions.idleSince(cutoff) {
		if uploading(e.w) {
			continue
		}
		if s.sessions.remove(e.w.ID()) {
			s.closeEntry(e)
			dropped++
		}
	}
	if dropped > 0 {
		s.log.Info("server: swept idle sessions", zap.Int("dropped", dropped), zap.Duration("ttl", s.cfg.SessionTTL))
	}
	return dropped
}

// Schedule registers the idle-session sweep on p.
func (s *Server) Schedule(p *poller.Poller, interval time.Duration) error {
	return eris.Wrap(p.Every(sweepJob, interval, func(context.Context) {
		s.Sweep(time.Now())
	}), "server: schedule sweep")
}

// Close stops background uploads and closes every loaded session.
func (s *Server) Close() {
	s.cancel()
	for _, e := range s.sessions.drain() {
		s.closeEntry(e)
	}
	s.wg.Wait()
}

func (s *Server) closeEntry(e *entry) {
	e.w.Close()
	e.removeUploads()
}
