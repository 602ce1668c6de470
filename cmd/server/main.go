package main

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"imageprocessor/cache"
	"imageprocessor/config"
	"imageprocessor/fetcher"
	"imageprocessor/handlers"
	"imageprocessor/middleware"
	"imageprocessor/renderer"
	"imageprocessor/repository"
	"imageprocessor/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	repo, err := openRepository(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer repo.Close()

	var resultCache *cache.ResultCache
	if cfg.RedisAddr != "" {
		resultCache, err = cache.Connect(cfg.RedisAddr)
		if err != nil {
			logger.Fatal("Failed to connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer resultCache.Close()
	}

	f := fetcher.New(cfg.ScratchDir, cfg.MaxDownloadMB, cfg.AllowedTypes, cfg.FetchTimeout, logger)
	r := renderer.New(cfg.OutputDir, logger)

	svc := service.NewTaskService(repo, f, r, resultCache, logger, service.Options{
		PriceMin:     cfg.PriceMin,
		PriceMax:     cfg.PriceMax,
		TargetWidths: cfg.TargetWidths,
	})
	handler := handlers.NewTaskHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", handler.Create)
	mux.HandleFunc("GET /tasks/{taskID}", handler.Get)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	chain := middleware.Recovery(logger)(middleware.Logging(logger)(middleware.TraceID(mux)))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      chain,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("Server starting",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.String("output_dir", cfg.OutputDir),
	)

	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func openRepository(cfg *config.Config) (repository.Repository, error) {
	switch cfg.StoreBackend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return repository.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return repository.NewBolt(filepath.Clean(cfg.BoltPath))
	}
}
