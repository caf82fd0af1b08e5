package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hard-gainer/voting-ledger/internal/api"
	"github.com/hard-gainer/voting-ledger/internal/config"
	"github.com/hard-gainer/voting-ledger/internal/db"
	"github.com/hard-gainer/voting-ledger/internal/ledger"
	"github.com/hard-gainer/voting-ledger/internal/logger"
	"github.com/hard-gainer/voting-ledger/internal/mattermost"
	"github.com/hard-gainer/voting-ledger/internal/metrics"
	"github.com/hard-gainer/voting-ledger/internal/service"
	"github.com/tarantool/go-tarantool"
)

func main() {
	cfg := config.NewConfig()
	logger.InitLogger(cfg.LogConfig)
	slog.Info("Starting voting ledger...")

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Config loaded",
		"storage_driver", cfg.StorageDriver,
		"owner_id", cfg.OwnerID,
		"mattermost_enabled", cfg.MattermostEnabled(),
		"http_port", cfg.MattermostBotHTTPPort,
	)

	storage, err := openStorage(cfg)
	if err != nil {
		slog.Error("Failed to open journal storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			slog.Error("Error closing journal storage", "error", err)
		}
	}()

	m := metrics.NewMetrics()
	l := ledger.New(cfg.OwnerID, ledger.WithJournal(storage))
	svc := service.NewService(l, storage, m, cfg.NotifyChannelID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = svc.Restore(ctx)
	cancel()
	if err != nil {
		slog.Error("Failed to restore ledger", "error", err)
		os.Exit(1)
	}

	mmClient := mattermost.NewClient(svc)
	defer mmClient.Close()

	if cfg.MattermostEnabled() {
		slog.Info("Connecting to Mattermost...")
		if err := mmClient.Connect(cfg.MattermostConfig); err != nil {
			slog.Error("Failed to connect to Mattermost", "error", err)
			os.Exit(1)
		}
		svc.SetNotifier(mmClient)
		slog.Info("Connected to Mattermost successfully")

		if err := mmClient.RegisterCommands(cfg.MattermostConfig); err != nil {
			slog.Error("Failed to register commands", "error", err)
			os.Exit(1)
		}

		mmClient.StartListening()
	} else {
		slog.Warn("MATTERMOST_TOKEN is not set, running without the chat bot")
	}

	httpHandler := api.NewHTTPHandler(cfg.MattermostConfig, svc, mmClient, m)
	httpHandler.Start()

	slog.Info("Ledger is now running. Press CTRL+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("Shutting down ledger...")
	if err := httpHandler.Stop(); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
}

// openStorage opens the journal backend selected by STORAGE_DRIVER
func openStorage(cfg *config.Config) (db.Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		return db.NewSQLiteStorage(cfg.SQLitePath)
	case config.StoragePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return db.NewPostgresStorage(ctx, cfg.PostgresDSN)
	case config.StorageTarantool:
		return connectTarantool(cfg.TarantoolConfig)
	default:
		slog.Warn("Using in-memory journal, state is lost on restart")
		return db.NewMemoryStorage(), nil
	}
}

func connectTarantool(cfg config.TarantoolConfig) (db.Storage, error) {
	opts := tarantool.Opts{
		User:          cfg.TarantoolUser,
		Pass:          cfg.TarantoolPass,
		Timeout:       5 * time.Second,
		Reconnect:     1 * time.Second,
		MaxReconnects: 5,
	}

	var lastErr error
	for attempts := 1; attempts <= 3; attempts++ {
		slog.Info("Connection attempt", "attempt", attempts)

		store, err := db.NewTarantoolStorage(cfg.TarantoolAddr, opts)
		if err == nil {
			return store, nil
		}

		lastErr = err
		slog.Error("Failed to connect to Tarantool", "error", err, "attempt", attempts)

		if attempts < 3 {
			slog.Info("Retrying in 2 seconds...")
			time.Sleep(2 * time.Second)
		}
	}

	return nil, fmt.Errorf("all connection attempts to Tarantool failed: %w", lastErr)
}
