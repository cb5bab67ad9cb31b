package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/advisor"
	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/auth"
	"github.com/sells-group/ingest-cli/internal/compat"
	"github.com/sells-group/ingest-cli/internal/config"
	"github.com/sells-group/ingest-cli/internal/db"
	"github.com/sells-group/ingest-cli/internal/filecheck"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/internal/store"
	"github.com/sells-group/ingest-cli/internal/upload"
	"github.com/sells-group/ingest-cli/internal/warehouse"
	"github.com/sells-group/ingest-cli/internal/wizard"
	anthropicpkg "github.com/sells-group/ingest-cli/pkg/anthropic"
	"github.com/sells-group/ingest-cli/pkg/ingestapi"
)

// ingestEnv holds the store, clients and wizard wiring shared by the
// serve, analyze, upload and sessions commands.
type ingestEnv struct {
	Store     store.Store
	API       ingestapi.Client
	Catalog   analysis.Catalog
	Deps      wizard.Deps
	WizardCfg wizard.Config

	warehousePool *pgxpool.Pool
}

// Close releases the store and any warehouse pool.
func (e *ingestEnv) Close() {
	if e.warehousePool != nil {
		e.warehousePool.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured session store.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(config.ModeStore); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, store.Config(cfg.Store))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func tokenStore() *auth.Store {
	return auth.NewStore(cfg.Auth.KeyringService, cfg.Auth.KeyringUser, cfg.Auth.TokenFile)
}

func initAPI() ingestapi.Client {
	opts := []ingestapi.Option{ingestapi.WithBaseURL(cfg.API.BaseURL)}
	if cfg.API.TimeoutSecs > 0 {
		opts = append(opts, ingestapi.WithTimeout(time.Duration(cfg.API.TimeoutSecs)*time.Second))
	}
	if cfg.API.Retries >= 0 {
		opts = append(opts, ingestapi.WithRetries(cfg.API.Retries))
	}
	if cfg.API.RatePerSec > 0 {
		opts = append(opts, ingestapi.WithRateLimit(cfg.API.RatePerSec, cfg.API.Burst))
	}
	return ingestapi.NewClient(tokenStore(), opts...)
}

func wizardConfig() wizard.Config {
	wc := wizard.DefaultConfig()
	wc.QuickUploadThreshold = cfg.Upload.QuickUploadThreshold
	wc.ConfidenceThreshold = cfg.Analysis.ConfidenceThreshold
	wc.AutoRetry = cfg.Upload.AutoRetry
	wc.FileCheck = filecheck.Options{
		AllowedTypes: cfg.Upload.AllowedTypes,
		MaxSizeBytes: int64(cfg.Upload.MaxSizeMB) << 20,
		ValidateName: cfg.Upload.ValidateName,
	}
	if cfg.Upload.TimeoutSecs > 0 {
		wc.UploadTimeout = time.Duration(cfg.Upload.TimeoutSecs) * time.Second
	}
	if cfg.Upload.ProgressIntervalMs > 0 {
		wc.ProgressInterval = time.Duration(cfg.Upload.ProgressIntervalMs) * time.Millisecond
	}
	return wc
}

// initEnv builds everything a session needs for mode. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string) (*ingestEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &ingestEnv{Store: st, API: initAPI(), WizardCfg: wizardConfig()}

	var backend upload.Backend
	switch cfg.Upload.Backend {
	case config.BackendWarehouse:
		pool, err := db.Connect(ctx, cfg.Warehouse.DatabaseURL, cfg.Warehouse.Pool)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "connect warehouse")
		}
		env.warehousePool = pool
		up := warehouse.NewUploader(pool, cfg.Warehouse.Schema)
		backend = up
		env.Catalog = up.Catalog()
	default:
		backend = upload.NewRemoteBackend(env.API)
		env.Catalog = analysis.NewRemoteCatalog(env.API)
	}

	var (
		analyzer  analysis.Analyzer
		previewer analysis.Previewer
	)
	switch cfg.Analysis.Backend {
	case config.BackendLocal:
		opts := []analysis.LocalOption{analysis.WithCatalog(env.Catalog), analysis.WithSampleRows(cfg.Analysis.SampleRows)}
		if cfg.Analysis.UseAIFallback && cfg.Anthropic.Key != "" {
			ai := analysis.NewAIMatcher(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
			opts = append(opts, analysis.WithAIMatcher(ai))
		}
		analyzer = analysis.NewLocal(opts...)
		previewer = analysis.LocalPreviewer{}
	default:
		analyzer = analysis.NewRemote(env.API)
		previewer = analysis.NewRemotePreviewer(env.API)
	}

	var scorer compat.Scorer = compat.LocalScorer{}
	if cfg.Upload.Backend != config.BackendWarehouse {
		scorer = compat.NewRemoteScorer(env.API)
	}

	env.Deps = wizard.Deps{
		Analyzer:  analyzer,
		Previewer: previewer,
		Reviewer:  compat.NewReviewer(initAdvisor()),
		Scorer:    scorer,
		Backend:   backend,
		Store:     st,
	}

	zap.L().Debug("environment ready",
		zap.String("analysis", cfg.Analysis.Backend),
		zap.String("upload", cfg.Upload.Backend),
		zap.String("advisor", cfg.Advisor.Backend),
		zap.String("store", cfg.Store.Driver),
	)
	return env, nil
}

// initAdvisor picks the advisory service. Remote and Claude advisors sit
// behind a circuit breaker.
func initAdvisor() advisor.Advisor {
	breaker := resilience.BreakerConfigFrom("advisor", cfg.Advisor.FailureThreshold, cfg.Advisor.ResetTimeoutSecs)
	switch cfg.Advisor.Backend {
	case config.BackendAnthropic:
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		return advisor.NewGuarded(advisor.NewClaude(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens), breaker)
	case config.BackendNone:
		return advisor.Heuristic{}
	default:
		return advisor.NewGuarded(advisor.NewRemote(initAPI()), breaker)
	}
}
