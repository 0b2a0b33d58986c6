package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blueprint-labs/blueprint/internal/dispatch"
	"github.com/blueprint-labs/blueprint/internal/orchestrator"
	"github.com/blueprint-labs/blueprint/internal/platform/auditlog"
	"github.com/blueprint-labs/blueprint/internal/platform/env"
	"github.com/blueprint-labs/blueprint/internal/platform/httpserver"
	platformstore "github.com/blueprint-labs/blueprint/internal/platform/objectstore"
	"github.com/blueprint-labs/blueprint/internal/platform/postgres"
	repopg "github.com/blueprint-labs/blueprint/internal/repo/postgres"
	"github.com/blueprint-labs/blueprint/internal/storage"
	"github.com/blueprint-labs/blueprint/internal/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("BLUEPRINT_API_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("BLUEPRINT_API_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	maxTemplateBytes, err := env.Int64("BLUEPRINT_API_MAX_TEMPLATE_BYTES", 1<<20)
	if err != nil || maxTemplateBytes <= 0 {
		logger.Error("invalid env", "env", "BLUEPRINT_API_MAX_TEMPLATE_BYTES", "error", err)
		os.Exit(2)
	}
	maxAssetBytes, err := env.Int64("BLUEPRINT_API_MAX_ASSET_BYTES", 32<<20)
	if err != nil || maxAssetBytes <= 0 {
		logger.Error("invalid env", "env", "BLUEPRINT_API_MAX_ASSET_BYTES", "error", err)
		os.Exit(2)
	}
	presignTTL, err := env.Duration("BLUEPRINT_API_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	orchCfg, err := orchestrator.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid orchestrator config", "error", err)
		os.Exit(2)
	}
	dispatchCfg, err := dispatch.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid dispatcher config", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if err := repopg.Migrate(ctx, db); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	minioClient, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}
	if err := platformstore.EnsureBuckets(ctx, minioClient, storeCfg); err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	minioStore, err := objectstore.NewMinioStoreWithClient(minioClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}
	assets, err := objectstore.NewAssetStore(minioStore, objectstore.AssetStoreConfig{
		AssetsBucket:  storeCfg.BucketAssets,
		OutputsBucket: storeCfg.BucketOutputs,
		MaxAssetBytes: maxAssetBytes,
	})
	if err != nil {
		logger.Error("asset store init failed", "error", err)
		os.Exit(2)
	}

	runs := repopg.NewRunStore(db)
	packs := repopg.NewPackStore(db)
	catalog, err := storage.NewCatalog(packs, assets)
	if err != nil {
		logger.Error("catalog init failed", "error", err)
		os.Exit(2)
	}

	orch, err := orchestrator.New(orchCfg, orchestrator.Deps{
		Catalog:   catalog,
		Fetcher:   assets,
		Describer: assets,
		Outputs:   assets,
		Runs:      runs,
		Recorder:  newAuditRecorder(db),
		Logger:    logger,
	})
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		os.Exit(2)
	}
	dispatcher, err := dispatch.New(dispatchCfg, orch, logger)
	if err != nil {
		logger.Error("dispatcher init failed", "error", err)
		os.Exit(2)
	}

	api := &compositorAPI{
		logger:     logger,
		runs:       runs,
		packs:      packs,
		assets:     assets,
		dispatcher: dispatcher,
		audit: func(ctx context.Context, event auditlog.Event) error {
			_, err := auditlog.Insert(ctx, db, event)
			return err
		},
		maxTemplateBytes: maxTemplateBytes,
		maxAssetBytes:    maxAssetBytes,
		presignTTL:       presignTTL,
		now:              time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("compositor-api"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"compositor-api",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return platformstore.CheckBuckets(checkCtx, minioClient, storeCfg)
				},
			},
		),
	)
	api.register(mux)

	var workers sync.WaitGroup
	workers.Go(func() {
		if err := dispatcher.Run(ctx); err != nil {
			logger.Error("dispatcher stopped", "error", err)
		}
	})

	handler := httpserver.Wrap(logger, "compositor-api", mux)
	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         "compositor-api",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, handler); err != nil {
		logger.Error("server stopped", "error", err)
		stop()
		workers.Wait()
		os.Exit(1)
	}
	workers.Wait()
}
