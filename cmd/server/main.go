package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"backoffice/backend/internal/cache"
	"backoffice/backend/internal/config"
	"backoffice/backend/internal/httpapi"
	"backoffice/backend/internal/lock"
	"backoffice/backend/internal/logger"
	"backoffice/backend/internal/register"
	"backoffice/backend/internal/report"
	"backoffice/backend/internal/service"
	"backoffice/backend/internal/store"
	"backoffice/backend/internal/store/memory"
	pgstore "backoffice/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	policy, err := register.ParseCarryForwardPolicy(cfg.CarryForwardPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("close error", zap.Error(err))
			}
		}
	}()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := pgstore.Migrate(cfg.DatabaseURL, log); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, policy)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository ready", zap.String("backend", "postgres"))
	} else {
		mem, err := memory.NewSeeded(policy, log)
		if err != nil {
			return err
		}
		repo = mem
		log.Info("repository ready", zap.String("backend", "memory"))
	}

	var weekCache cache.WeekCache = cache.NoopWeekCache{}
	var locker register.WeekLocker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisWeekCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache and local finalize lock", zap.Error(err))
			_ = client.Close()
		} else {
			weekCache = redisCache
			locker = lock.NewRedisLocker(client, cfg.FinalizeLockTTL(), log)
			closers = append(closers, client.Close)
			log.Info("redis ready", zap.String("addr", cfg.RedisAddr))
		}
	}

	var printer register.Printer
	if cfg.PrintSpoolDir != "" {
		printer = report.NewSpoolPrinter(cfg.PrintSpoolDir, cfg.CurrencySymbol, log)
		log.Info("printing enabled", zap.String("spool_dir", cfg.PrintSpoolDir))
	}

	svc := service.New(repo, weekCache, cfg.WeekCacheTTL(), locker, printer, log)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, log)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, cfg.CurrencySymbol, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("back office listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
