package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"clipforge/internal/adapter/repo"
	"clipforge/internal/costmodel"
	"clipforge/internal/credential"
	"clipforge/internal/dispatch"
	"clipforge/internal/http/handlers"
	"clipforge/internal/http/httpapi"
	"clipforge/internal/infra"
	"clipforge/internal/providers/generation"
	"clipforge/internal/statuscache"
	"clipforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	provider, err := generation.NewHTTPClient(generation.Options{
		BaseURL: cfg.ProviderBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure provider client")
	}

	cache, err := statuscache.New(ctx, cfg.RedisURL, cfg.StatusCacheTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer cache.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure blob storage")
	}

	credRepo := repo.NewCredentialRepository(dbpool)
	jobRepo := repo.NewJobRepository(dbpool)
	costs := costmodel.Default()
	pool := credential.NewPool(credRepo, provider, logger)

	app := &handlers.App{
		Logger:     logger,
		Dispatcher: dispatch.NewDispatcher(costs, pool, jobRepo, provider, logger),
		Extensions: dispatch.NewExtensionResolver(costs),
		Reconciler: dispatch.NewReconciler(jobRepo, credRepo, pool, provider, blobs, logger, cfg.ReconcileJobTTL),
		Pool:       pool,
		Jobs:       jobRepo,
		Cache:      cache,
	}

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newBlobStore(ctx context.Context, cfg *infra.Config) (storage.BlobStore, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
}
