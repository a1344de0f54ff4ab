package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carcare/internal/api"
	"carcare/internal/auth"
	"carcare/internal/config"
	"carcare/internal/idempotency"
	"carcare/internal/ingest"
	"carcare/internal/redis"
	"carcare/internal/service/ai"
	"carcare/internal/service/diagnose"
	"carcare/internal/spectrogram"
	"carcare/internal/storage"
	"carcare/internal/tutorial"
	"carcare/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("CARCARE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("opening store", "database", cfg.BasicConfig.Database)
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalw("open store", "error", err)
	}
	defer store.Close()

	idem, closeIdem := newIdempotencyStore(cfg, logger)
	defer closeIdem()

	ing, err := ingest.New(cfg.BasicConfig.TempDir, cfg.BasicConfig.MaxUploadBytes(), logger.Named("ingest"))
	if err != nil {
		logger.Fatalw("init ingest", "error", err)
	}
	cleanInterval := time.Duration(cfg.BasicConfig.TempCleanInterval) * time.Minute
	if cleanInterval <= 0 {
		cleanInterval = ingest.DefaultTempFileCleanupInterval
	}
	tempTTL := time.Duration(cfg.BasicConfig.TempFileTTL) * time.Minute
	if tempTTL <= 0 {
		tempTTL = ingest.DefaultTempFileTTL
	}
	ing.StartTempFileCleaner(ctx, cleanInterval, tempTTL)

	// fail fast when ffmpeg is missing
	transcoder, err := spectrogram.NewTranscoder(cfg.Spectrogram, cfg.BasicConfig.TempDir, logger.Named("spectrogram"))
	if err != nil {
		logger.Fatalw("init spectrogram transcoder", "error", err)
	}
	pool := worker.NewPool(cfg.BasicConfig.TranscodeWorkers, cfg.BasicConfig.QueueSize, logger.Named("worker"))
	pool.Start()
	defer pool.Stop()

	aiClient, err := ai.New(ctx, cfg.Providers[config.ProviderGemini], cfg.AI, logger.Named("ai"))
	if err != nil {
		logger.Fatalw("init gemini client", "error", err)
	}
	tutorials, err := tutorial.New(ctx, cfg.Providers[config.ProviderYouTube], cfg.Tutorial, logger.Named("tutorial"))
	if err != nil {
		logger.Fatalw("init tutorial client", "error", err)
	}

	authService, err := auth.NewService(store, cfg.Auth, logger.Named("auth"))
	if err != nil {
		logger.Fatalw("init auth", "error", err)
	}

	pipeline := diagnose.New(diagnose.Deps{
		Ingestor:   ing,
		Transcoder: transcoder,
		Runner:     pool,
		Diagnoser:  aiClient,
		Tutorials:  tutorials,
		Records:    store,
	}, logger)

	handlers := api.NewHandler(api.Options{
		Pipeline:       pipeline,
		Auth:           authService,
		Records:        store,
		Users:          store,
		Idempotency:    idem,
		Health:         store,
		MaxUploadBytes: cfg.BasicConfig.MaxUploadBytes(),
		Logger:         logger,
	})

	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(logger.Named("http")), api.Metrics())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infow("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down")
	// the AI call alone may take its full timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AI.Timeout()+cfg.Spectrogram.Timeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	dbType := cfg.BasicConfig.Database
	if !storage.IsSQL(dbType) {
		mongoCfg := cfg.Databases["mongo"]
		ms, err := storage.OpenMongo(ctx, mongoCfg.URI, mongoCfg.DBName)
		if err != nil {
			return nil, err
		}
		return ms, nil
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, err
	}
	return storage.NewSQLStore(db), nil
}

// newIdempotencyStore prefers redis so keys are shared across replicas and
// falls back to process memory.
func newIdempotencyStore(cfg *config.Config, logger *zap.SugaredLogger) (idempotency.Store, func()) {
	ttl := time.Duration(cfg.Redis.IdempotencyTTL) * time.Minute
	// a reservation outlives the slowest request, not the stored response
	pendingTTL := cfg.AI.Timeout() + cfg.Spectrogram.Timeout() + cfg.Tutorial.Timeout() + time.Minute
	if cfg.Redis.Host != "" {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err == nil {
			logger.Infow("idempotency keys stored in redis", "host", cfg.Redis.Host)
			return idempotency.NewRedisStore(rdb, ttl, pendingTTL), func() { rdb.Close() }
		}
		logger.Warnw("redis unavailable, keeping idempotency keys in memory", "error", err)
	}
	return idempotency.NewMemoryStore(4096, ttl, pendingTTL), func() {}
}
