package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cliccoins/internal/api"
	"cliccoins/internal/auth"
	"cliccoins/internal/clock"
	"cliccoins/internal/config"
	"cliccoins/internal/db"
	"cliccoins/internal/game"
	"cliccoins/internal/session"
	"cliccoins/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	catalog := game.DefaultCatalog()
	if cfg.CatalogPath != "" {
		catalog, err = game.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			logger.Error("catalog rejected", "path", cfg.CatalogPath, "err", err)
			os.Exit(1)
		}
	}
	logger.Info("catalog loaded", "buildings", len(catalog.Buildings()), "upgrades", len(catalog.Upgrades()))

	gw, closeStore, err := openGateway(ctx, cfg)
	if err != nil {
		logger.Error("store init failed", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	sessions := session.NewManager(catalog, store.NewPlayers(gw, catalog), clock.Real{}, logger, session.Options{
		TickEvery:       cfg.TickEvery,
		AutosaveEvery:   cfg.AutosaveEvery,
		ClickFlushEvery: cfg.ClickFlushEvery,
		IdleTimeout:     cfg.IdleTimeout,
		SaveTimeout:     5 * time.Second,
		FlushWorkers:    4,
	})
	if err := sessions.Start(ctx); err != nil {
		logger.Error("session manager start failed", "err", err)
		os.Exit(1)
	}

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	server := api.New(cfg, logger, authClient, sessions)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "err", err)
		}
		if err := server.CloseStreams(shutdownCtx); err != nil {
			logger.Warn("streams still open at shutdown", "err", err)
		}
	}()

	logger.Info("cliccoins api listening", "addr", cfg.Addr, "store", cfg.StoreDriver)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	// ListenAndServe returns as soon as Shutdown starts; handlers may still be running.
	<-drained

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sessions.Stop(stopCtx); err != nil {
		logger.Error("final save incomplete", "err", err)
	}
}

func openGateway(ctx context.Context, cfg config.APIConfig) (store.Gateway, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	case "sqlite":
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		lite := store.NewSQLite(sqlDB)
		if err := lite.EnsureSchema(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return lite, func() { _ = sqlDB.Close() }, nil
	case "memory":
		return store.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
