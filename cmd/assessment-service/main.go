package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asterion-health/platform/pkg/answers"
	"github.com/asterion-health/platform/pkg/archive"
	"github.com/asterion-health/platform/pkg/common/config"
	"github.com/asterion-health/platform/pkg/common/database"
	"github.com/asterion-health/platform/pkg/common/kafka"
	"github.com/asterion-health/platform/pkg/common/logger"
	"github.com/asterion-health/platform/pkg/instrument"
	"github.com/asterion-health/platform/pkg/platform"
	"github.com/asterion-health/platform/pkg/reconcile"
	"github.com/asterion-health/platform/pkg/session"
	"github.com/asterion-health/platform/pkg/subjects"
	"github.com/asterion-health/platform/pkg/tasks"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	catalog, err := instrument.Load(cfg.InstrumentCatalog)
	if err != nil {
		logger.Log.WithError(err).Fatal("instrument catalog load failed")
	}

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("postgres connection failed")
	}
	defer func() { _ = database.ClosePostgres(db) }()

	subjectRepo := subjects.NewGormRepository(db)
	taskRepo := tasks.NewGormRepository(db)
	durableTier := answers.NewGormTier(db)
	archiveRepo := archive.NewGormRepository(db)
	for name, migrate := range map[string]func() error{
		"subjects":  subjectRepo.AutoMigrate,
		"tasks":     taskRepo.AutoMigrate,
		"answers":   durableTier.AutoMigrate,
		"responses": archiveRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("schema", name).Fatal("migration failed")
		}
	}

	// Redis is optional: without it the ephemeral tier runs in-process.
	var ephemeralTier answers.EphemeralTier
	redisClient, err := database.ConnectRedis(cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("redis unavailable, using in-process ephemeral tier")
		ephemeralTier = answers.NewMemoryTier()
	} else {
		defer func() { _ = database.CloseRedis(redisClient) }()
		ephemeralTier = answers.NewRedisTier(redisClient, cfg.EphemeralTTL)
	}

	producer := kafka.NewProducer(cfg)
	defer func() { _ = producer.Close() }()

	registry := subjects.NewService(subjectRepo)
	taskSvc := tasks.NewService(taskRepo, cfg.TaskReuseWindow)
	answerStore := answers.NewStore(ephemeralTier, durableTier, catalog)
	archiveSvc := archive.NewService(archiveRepo, taskSvc, catalog, producer)
	pass := reconcile.NewPass(durableTier, archiveRepo, cfg.DedupTolerance)
	guard := session.NewGuard(cfg.SessionTTL)

	store := platform.NewStore(guard, registry, taskSvc, answerStore, archiveSvc, pass, catalog, producer)

	router := mux.NewRouter()
	router.Use(platform.RecoveryMiddleware, platform.LoggingMiddleware)
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	platform.NewHandler(store).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.ServerHost + ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", server.Addr).Info("assessment service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("shutdown incomplete")
	}
}
