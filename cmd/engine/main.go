package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/api"
	"github.com/Smitty-01/ChainGaurd/internal/artifact"
	"github.com/Smitty-01/ChainGaurd/internal/config"
	"github.com/Smitty-01/ChainGaurd/internal/db"
	"github.com/Smitty-01/ChainGaurd/internal/events"
	"github.com/Smitty-01/ChainGaurd/internal/export"
	"github.com/Smitty-01/ChainGaurd/internal/logging"
	"github.com/Smitty-01/ChainGaurd/internal/risk"
	"github.com/Smitty-01/ChainGaurd/internal/shadow"
	"github.com/Smitty-01/ChainGaurd/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	loadTimeout     = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	// ─── Configuration ──────────────────────────────────────────────────
	// Everything comes from the environment (or a local .env). Secrets have
	// no defaults outside development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	logger.Info("Starting ChainGuard Risk Engine",
		zap.String("env", cfg.Env),
		zap.String("data_dir", cfg.DataDir))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Optional collaborators ─────────────────────────────────────────
	var dbStore *db.PostgresStore
	if cfg.DatabaseURL != "" {
		dbStore, err = db.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("[DB] Connection failed, continuing without audit trail", zap.Error(err))
		} else {
			defer dbStore.Close()
			if err := dbStore.InitSchema(ctx); err != nil {
				logger.Warn("[DB] Schema init failed", zap.Error(err))
			}
		}
	}

	// Audit rows are written off the request path.
	var audit *db.AsyncWriter
	if dbStore != nil {
		audit = db.NewAsyncWriter(dbStore, cfg.AuditQueueSize, db.DefaultWriteTimeout, logger)
	}

	var sink events.Sink
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("[NATS] Connection failed, alerts stay local", zap.Error(err))
		} else {
			defer pub.Close()
			sink = pub
		}
	}

	wsHub := api.NewHub(cfg.AllowedOrigins, logger)
	go wsHub.Run()
	defer wsHub.Close()

	alerts := events.NewManager(wsHub.BroadcastAlert, sink, logger)

	// ─── Dataset ────────────────────────────────────────────────────────
	// The listener does not start until the artifacts load; a corrupt or
	// missing artifact aborts startup.
	opener := artifact.NewRouter()
	loadCtx, cancelLoad := context.WithTimeout(ctx, loadTimeout)
	ds, err := store.LoadDataset(loadCtx, opener, cfg.ArtifactPaths(), cfg.SecureIDSalt, logger)
	cancelLoad()
	if err != nil {
		logger.Fatal("[Loader] Dataset load failed", zap.Error(err))
	}

	opts := []risk.Option{
		risk.WithNotifier(alerts),
		risk.WithExports(export.NewStore(cfg.ExportRetention, export.DefaultMaxEntries)),
	}
	if audit != nil {
		opts = append(opts, risk.WithAuditor(audit))
	}

	var shadowRunner *shadow.Runner
	if cfg.ShadowModelPath != "" {
		candidate, err := shadow.LoadCandidate(ctx, opener, cfg.ShadowModelPath, ds.Store)
		if err != nil {
			logger.Warn("[Shadow] Candidate model not loaded", zap.Error(err))
		} else {
			var recorder shadow.Recorder
			if audit != nil {
				recorder = audit
			}
			shadowRunner = shadow.NewRunner(candidate, ds.Stats.ModelVersion, recorder, logger)
			opts = append(opts, risk.WithObserver(shadowRunner))
			logger.Info("[Shadow] Evaluating candidate model",
				zap.String("candidate", candidate.Version()),
				zap.String("production", ds.Stats.ModelVersion))
		}
	}

	svc := risk.NewService(risk.Options{
		BulkWorkers:   cfg.BulkWorkers,
		GraphMaxNodes: cfg.GraphMaxNodes,
		GraphMaxSteps: cfg.GraphMaxSteps,
	}, logger, opts...)
	svc.Publish(ds)

	// ─── HTTP ───────────────────────────────────────────────────────────
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := api.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)
	defer limiter.Stop()

	deps := api.Deps{
		Service:        svc,
		Hub:            wsHub,
		Alerts:         alerts,
		Shadow:         shadowRunner,
		Limiter:        limiter,
		AuthToken:      cfg.APIAuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}
	if dbStore != nil {
		deps.Runs = dbStore
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.SetupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Engine listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	if audit != nil {
		if err := audit.Close(shutdownCtx); err != nil {
			logger.Warn("[DB] Pending audit writes abandoned", zap.Error(err))
		}
	}
}
