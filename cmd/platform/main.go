package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/app"
	"github.com/unionlegal/platform/internal/shared/config"
	"github.com/unionlegal/platform/internal/shared/database"
	"github.com/unionlegal/platform/internal/shared/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.Env, cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Database is optional; without it the platform runs on memory stores.
	stores := app.MemoryStores()
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warn("database not available, running in limited mode", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		if err := database.Migrate(ctx, db.Pool, logger.Component(log, "migrate")); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		stores = app.PostgresStores(db)
	}

	a, err := app.New(ctx, cfg, stores, db, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	log.Info("server starting",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("database", db != nil),
		zap.Bool("kurrentdb", cfg.KurrentDB.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("queue", cfg.Queue.Enabled),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server error", zap.Error(err))
	}

	<-done
	log.Info("server stopped")
}
