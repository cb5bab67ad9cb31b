package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/ingest-cli/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Upload    UploadConfig    `yaml:"upload" mapstructure:"upload"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Advisor   AdvisorConfig   `yaml:"advisor" mapstructure:"advisor"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the wizard HTTP API.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	SessionTTLMinutes int      `yaml:"session_ttl_minutes" mapstructure:"session_ttl_minutes"`
	SweepIntervalSecs int      `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// SessionTTL is how long an idle session is kept.
func (c ServerConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// SweepInterval is how often idle sessions are looked for.
func (c ServerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// WarehouseConfig configures the direct Postgres upload target.
type WarehouseConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Schema      string        `yaml:"schema" mapstructure:"schema"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// APIConfig configures the ingest backend client.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	Retries     int     `yaml:"retries" mapstructure:"retries"`
}

// AuthConfig locates the stored bearer token.
type AuthConfig struct {
	KeyringService string `yaml:"keyring_service" mapstructure:"keyring_service"`
	KeyringUser    string `yaml:"keyring_user" mapstructure:"keyring_user"`
	TokenFile      string `yaml:"token_file" mapstructure:"token_file"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// UploadConfig configures validation and execution of uploads.
type UploadConfig struct {
	AllowedTypes         []string `yaml:"allowed_types" mapstructure:"allowed_types"`
	MaxSizeMB            int      `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	ValidateName         bool     `yaml:"validate_name" mapstructure:"validate_name"`
	TimeoutSecs          int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ProgressIntervalMs   int      `yaml:"progress_interval_ms" mapstructure:"progress_interval_ms"`
	QuickUploadThreshold float64  `yaml:"quick_upload_threshold" mapstructure:"quick_upload_threshold"`
	AutoRetry            bool     `yaml:"auto_retry" mapstructure:"auto_retry"`
	Backend              string   `yaml:"backend" mapstructure:"backend"`
}

// AnalysisConfig selects and tunes file analysis.
type AnalysisConfig struct {
	Backend             string  `yaml:"backend" mapstructure:"backend"`
	UseAIFallback       bool    `yaml:"use_ai_fallback" mapstructure:"use_ai_fallback"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	SampleRows          int     `yaml:"sample_rows" mapstructure:"sample_rows"`
}

// AdvisorConfig selects the column advisory service.
type AdvisorConfig struct {
	Backend          string `yaml:"backend" mapstructure:"backend"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Backend names.
const (
	BackendRemote    = "remote"
	BackendLocal     = "local"
	BackendWarehouse = "warehouse"
	BackendAnthropic = "anthropic"
	BackendNone      = "none"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.session_ttl_minutes", 60)
	v.SetDefault("server.sweep_interval_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ingest.db")
	v.SetDefault("warehouse.schema", "public")
	v.SetDefault("api.base_url", "http://localhost:8000/api")
	v.SetDefault("api.timeout_secs", 30)
	v.SetDefault("api.rate_per_sec", 10)
	v.SetDefault("api.burst", 5)
	v.SetDefault("api.retries", 2)
	v.SetDefault("auth.keyring_service", "ingest-cli")
	v.SetDefault("auth.keyring_user", "default")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("upload.allowed_types", []string{".csv", ".xlsx"})
	v.SetDefault("upload.max_size_mb", 100)
	v.SetDefault("upload.validate_name", true)
	v.SetDefault("upload.timeout_secs", 300)
	v.SetDefault("upload.progress_interval_ms", 500)
	v.SetDefault("upload.quick_upload_threshold", 90)
	v.SetDefault("upload.auto_retry", true)
	v.SetDefault("upload.backend", BackendRemote)
	v.SetDefault("analysis.backend", BackendRemote)
	v.SetDefault("analysis.use_ai_fallback", true)
	v.SetDefault("analysis.confidence_threshold", 50)
	v.SetDefault("analysis.sample_rows", 1000)
	v.SetDefault("advisor.backend", BackendRemote)
	v.SetDefault("advisor.failure_threshold", 3)
	v.SetDefault("advisor.reset_timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validation modes name what a command is about to do.
const (
	ModeServe   = "serve"
	ModeUpload  = "upload"
	ModeAnalyze = "analyze"
	ModeStore   = "store"
)

// Validate checks the settings the given mode depends on.
func (c *Config) Validate(mode string) error {
	switch mode {
	case ModeServe, ModeUpload, ModeAnalyze, ModeStore:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	switch c.Store.Driver {
	case "sqlite", "":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	default:
		add("store.driver must be sqlite or postgres")
	}
	if mode == ModeStore {
		return joinProblems(problems)
	}

	usesAPI := false
	switch c.Analysis.Backend {
	case BackendRemote:
		usesAPI = true
	case BackendLocal:
	default:
		add("analysis.backend must be remote or local")
	}
	if c.Analysis.ConfidenceThreshold < 0 || c.Analysis.ConfidenceThreshold > 100 {
		add("analysis.confidence_threshold must be between 0 and 100")
	}
	if c.Analysis.Backend == BackendLocal && c.Analysis.UseAIFallback && c.Anthropic.Key == "" {
		add("anthropic.key is required for the local analyzer's AI fallback (or disable analysis.use_ai_fallback)")
	}

	if mode == ModeServe || mode == ModeUpload {
		switch c.Upload.Backend {
		case BackendRemote:
			usesAPI = true
		case BackendWarehouse:
			if c.Warehouse.DatabaseURL == "" {
				add("warehouse.database_url is required for the warehouse upload backend")
			}
		default:
			add("upload.backend must be remote or warehouse")
		}
		if c.Upload.QuickUploadThreshold < 0 || c.Upload.QuickUploadThreshold > 100 {
			add("upload.quick_upload_threshold must be between 0 and 100")
		}
		switch c.Advisor.Backend {
		case BackendRemote:
			usesAPI = true
		case BackendAnthropic:
			if c.Anthropic.Key == "" {
				add("anthropic.key is required for the anthropic advisor")
			}
		case BackendNone:
		default:
			add("advisor.backend must be remote, anthropic or none")
		}
	}
	if mode == ModeServe && c.Server.Port <= 0 {
		add("server.port must be positive")
	}
	if usesAPI && c.API.BaseURL == "" {
		add("api.base_url is required for remote backends")
	}
	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return eris.Errorf("config: %s", strings.Join(problems, "; "))
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
