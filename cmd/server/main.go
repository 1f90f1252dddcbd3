package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldmemo/memo-service/internal/audio"
	"github.com/fieldmemo/memo-service/internal/config"
	"github.com/fieldmemo/memo-service/internal/jobs"
	"github.com/fieldmemo/memo-service/internal/metrics"
	"github.com/fieldmemo/memo-service/internal/minutes"
	"github.com/fieldmemo/memo-service/internal/server"
	"github.com/fieldmemo/memo-service/internal/storage"
	"github.com/fieldmemo/memo-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "memo-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("transcription_provider", cfg.Transcription.Provider),
		slog.Int64("size_threshold_bytes", cfg.Audio.SizeThresholdBytes),
		slog.Int64("target_chunk_bytes", cfg.Audio.TargetChunkBytes),
		slog.Int("batch_size", cfg.Transcription.BatchSize),
		slog.Bool("minutes_enabled", cfg.Minutes.Enabled),
		slog.String("database_path", cfg.Storage.DatabasePath),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	if err := run(cfg, logger, appMetrics); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger, appMetrics *metrics.Metrics) error {
	backend, stats, closeBackend, err := newTranscriber(cfg.Transcription, cfg.TranscriptionConcurrency(), appMetrics)
	if err != nil {
		return fmt.Errorf("creating transcription backend: %w", err)
	}
	defer closeBackend()

	orchestrator, err := transcription.NewOrchestrator(backend, transcription.OrchestratorConfig{
		SizeThresholdBytes: cfg.Audio.SizeThresholdBytes,
		BatchSize:          cfg.Transcription.BatchSize,
		Chunking: audio.ChunkingConfig{
			TargetChunkBytes: cfg.Audio.TargetChunkBytes,
			MinChunkSeconds:  cfg.Audio.MinChunkDuration,
			MaxChunkSeconds:  cfg.Audio.MaxChunkDuration,
		},
	}, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	records, err := storage.NewRecordStore(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer records.Close()

	objects, err := storage.NewObjectStore(cfg.Storage.ObjectPath, []byte(cfg.Storage.SigningKey), "/objects")
	if err != nil {
		return err
	}
	defer objects.Close()

	deps := jobs.Dependencies{
		Transcriber: orchestrator,
		Records:     records,
		Objects:     objects,
	}

	if cfg.Minutes.Enabled {
		generator, err := minutes.NewGenerator(minutes.Config{
			APIKey:  cfg.Minutes.APIKey,
			BaseURL: cfg.Minutes.BaseURL,
			Model:   cfg.Minutes.Model,
			Timeout: cfg.Minutes.GetTimeoutDuration(),
		}, logger, appMetrics)
		if err != nil {
			return fmt.Errorf("creating minutes generator: %w", err)
		}
		deps.Summarizer = generator
		logger.Info("Minutes generation enabled", slog.String("model", cfg.Minutes.Model))
	}

	jobManager, err := jobs.NewManager(logger, jobs.ManagerConfig{
		MaxConcurrent:   cfg.Jobs.MaxConcurrent,
		Retention:       cfg.Jobs.GetRetention(),
		CleanupInterval: cfg.Jobs.GetCleanupInterval(),
	}, deps, appMetrics)
	if err != nil {
		return fmt.Errorf("creating job manager: %w", err)
	}

	httpServer := server.NewHTTPServer(cfg.HTTP, logger, server.Dependencies{
		Config:             cfg,
		Jobs:               jobManager,
		Records:            records,
		Objects:            objects,
		Metrics:            appMetrics,
		TranscriptionStats: stats,
	})

	if err := httpServer.Start(); err != nil {
		jobManager.Stop()
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop accepting uploads before cancelling jobs in flight
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	jobManager.Stop()

	jobStats := jobManager.Stats()
	logger.Info("Final job statistics",
		slog.Int("completed", jobStats[jobs.StatusCompleted]),
		slog.Int("failed", jobStats[jobs.StatusFailed]),
	)

	return nil
}

// newTranscriber builds the configured single-request transcription backend
func newTranscriber(cfg config.TranscriptionConfig, concurrency int, m *metrics.Metrics) (transcription.Transcriber, func() transcription.ClientStats, func(), error) {
	switch cfg.Provider {
	case "openai":
		client, err := transcription.NewOpenAIClient(transcription.OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
			Timeout:  cfg.GetTimeoutDuration(),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return client, nil, func() {}, nil

	default:
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:       cfg.Endpoint,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			Language:       cfg.Language,
			Timeout:        cfg.GetTimeoutDuration(),
			MaxRetries:     cfg.MaxRetries,
			RetryBackoff:   cfg.GetRetryBackoff(),
			MaxConcurrent:  concurrency,
			ResponseFormat: cfg.OutputFormat,
		}, m)
		if err != nil {
			return nil, nil, nil, err
		}
		return client, client.GetStats, func() { client.Close() }, nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
