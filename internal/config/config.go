// Package config loads engine configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/identity"
	"github.com/Smitty-01/ChainGaurd/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all engine configuration.
type Config struct {
	// Server
	Port      string `validate:"required,numeric"`
	Env       string `validate:"oneof=development staging production"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	// Offline artifacts. DATA_DIR may be a local directory or s3://bucket/prefix.
	DataDir         string `validate:"required"`
	ScoresPath      string
	ClassesPath     string
	EdgesPath       string
	ModelPath       string
	ShadowModelPath string
	SecureIDSalt    string `validate:"required"`

	// Optional collaborators
	DatabaseURL string // audit trail disabled when empty
	NATSURL     string // event publishing disabled when empty

	// AuditQueueSize bounds pending audit writes; further writes are dropped.
	AuditQueueSize int `validate:"gte=0"`

	// Security. Auth is mandatory outside development.
	APIAuthToken    string `validate:"required_unless=Env development"`
	AllowedOrigins  []string
	RateLimitPerMin int `validate:"gte=1"`
	RateLimitBurst  int `validate:"gte=1"`

	// Engine bounds
	BulkWorkers     int           `validate:"gte=0,lte=256"` // 0 = GOMAXPROCS
	GraphMaxNodes   int           `validate:"gte=1,lte=500"`
	GraphMaxSteps   int           `validate:"gte=100"`
	ExportRetention time.Duration `validate:"gte=1m"`
}

const (
	DefaultPort            = "5339"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultDataDir         = "data"
	DefaultRateLimitPerMin = 120
	DefaultRateLimitBurst  = 20
	DefaultGraphMaxNodes   = 150
	DefaultGraphMaxSteps   = 20000
	DefaultExportRetention = time.Hour
	DefaultAuditQueueSize  = 1024
)

var validate = validator.New()

// Load reads configuration from the environment, loading a .env file first
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", DefaultLogLevel)),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", DefaultLogFormat)),
		DataDir:         getEnv("DATA_DIR", DefaultDataDir),
		ScoresPath:      os.Getenv("SCORES_PATH"),
		ClassesPath:     os.Getenv("CLASSES_PATH"),
		EdgesPath:       os.Getenv("EDGES_PATH"),
		ModelPath:       os.Getenv("MODEL_PATH"),
		ShadowModelPath: os.Getenv("SHADOW_MODEL_PATH"),
		SecureIDSalt:    getEnv("SECURE_ID_SALT", identity.DefaultSalt),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		AuditQueueSize:  getEnvInt("AUDIT_QUEUE_SIZE", DefaultAuditQueueSize, &errs),
		NATSURL:         os.Getenv("NATS_URL"),
		APIAuthToken:    os.Getenv("API_AUTH_TOKEN"),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", DefaultRateLimitPerMin, &errs),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", DefaultRateLimitBurst, &errs),
		BulkWorkers:     getEnvInt("BULK_WORKERS", 0, &errs),
		GraphMaxNodes:   getEnvInt("GRAPH_MAX_NODES", DefaultGraphMaxNodes, &errs),
		GraphMaxSteps:   getEnvInt("GRAPH_MAX_STEPS", DefaultGraphMaxSteps, &errs),
		ExportRetention: getEnvDuration("EXPORT_RETENTION", DefaultExportRetention, &errs),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// ArtifactPaths resolves the artifact locations, explicit paths winning
// over the DATA_DIR layout.
func (c *Config) ArtifactPaths() store.Paths {
	p := store.DefaultPaths(c.DataDir)
	if c.ScoresPath != "" {
		p.Scores = c.ScoresPath
	}
	if c.ClassesPath != "" {
		p.Classes = c.ClassesPath
	}
	if c.EdgesPath != "" {
		p.Edges = c.EdgesPath
	}
	if c.ModelPath != "" {
		p.Model = c.ModelPath
	}
	return p
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return i
}

func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
