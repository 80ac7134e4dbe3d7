package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"searchindex/internal/bluesky"
	"searchindex/internal/config"
	"searchindex/internal/domain"
	"searchindex/internal/firehose"
	"searchindex/internal/httpserver"
	"searchindex/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up the store (implements Store, CursorRepository and HistoryRepository)
	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("opened store", "path", cfg.DatabasePath)

	// Set up the ingestion engine and the search service around it
	ingestor := domain.NewIngestor(store, logger)
	history := domain.NewHistory(cfg.HistorySize, logger)
	fetcher := bluesky.NewClient(cfg.AppViewURL)
	service := domain.NewSearchService(fetcher, ingestor, history, store, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.RestoreHistory(ctx); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Consume history evictions and purge the evicted terms' references
	go service.RunPurger(ctx)

	// Start the firehose subscriber in the background
	if cfg.FirehoseEnabled {
		subscriber := firehose.NewSubscriber(cfg.FirehoseURL, history, ingestor, store, logger)
		go func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firehose subscriber exited with error", "error", err)
			}
		}()
	}

	// Start the HTTP server
	server := httpserver.NewServer(cfg, service, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "addr", cfg.HTTPAddr, "history_size", cfg.HistorySize)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
