package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidsync/vidsync-server/internal/api"
	"github.com/vidsync/vidsync-server/internal/config"
	"github.com/vidsync/vidsync-server/internal/db"
	"github.com/vidsync/vidsync-server/internal/events"
	"github.com/vidsync/vidsync-server/internal/export"
	"github.com/vidsync/vidsync-server/internal/expose"
	"github.com/vidsync/vidsync-server/internal/history"
	"github.com/vidsync/vidsync-server/internal/logging"
	"github.com/vidsync/vidsync-server/internal/media"
	"github.com/vidsync/vidsync-server/internal/queue"
	"github.com/vidsync/vidsync-server/internal/resynth"
	"github.com/vidsync/vidsync-server/internal/store"
)

// Exposed inputs only need to live long enough for the remote service to
// fetch them; expiry is a backstop for handles never revoked.
const exposureLifetime = time.Hour

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.WorkDir(), cfg.ClipsDir(), cfg.ExportsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting vidsync server", "version", config.Version, "work_dir", cfg.WorkDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	ledger := history.NewLedger(database.Conn())

	authToken, err := ensureAuthToken(ledger)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	logger.Info("api ready", "port", cfg.Port(), "auth_token", logging.SanitizeToken(authToken))
	fmt.Printf("vidsync server listening on :%d\nauth token: %s\n", cfg.Port(), authToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobStore := store.New(cfg.SessionIdleTimeout(), logger)
	go jobStore.RunEviction(ctx, 5*time.Minute)

	toolkit := media.NewFFmpegToolkit(cfg.FFmpegPath(), cfg.FFprobePath(), logger)

	publicBaseURL := cfg.PublicBaseURL()
	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Port())
	}
	exposer := expose.NewStaticExposer(publicBaseURL, exposureLifetime, logger)

	client := resynth.NewHTTPClient(
		cfg.ResynthBaseURL(),
		cfg.ResynthAccessKey(),
		cfg.ResynthSecretKey(),
		exposer,
		resynth.Options{
			PollIntervalSubmitted:  cfg.PollIntervalSubmitted(),
			PollIntervalProcessing: cfg.PollIntervalProcessing(),
			TimeoutFloor:           cfg.TaskTimeoutFloor(),
			TimeoutPerSecond:       cfg.TaskTimeoutPerSecond(),
		},
		logger,
	)

	bus := events.NewBus(1000)

	scheduler := queue.NewScheduler(queue.Config{
		Store:       jobStore,
		Toolkit:     toolkit,
		Client:      client,
		Exposer:     exposer,
		Sink:        bus,
		Recorder:    ledger,
		Logger:      logger,
		ClipsDir:    cfg.ClipsDir(),
		Concurrency: cfg.QueueConcurrency(),
	})

	exporter := export.New(export.Config{
		Store:       jobStore,
		Toolkit:     toolkit,
		Sink:        bus,
		Recorder:    ledger,
		Logger:      logger,
		ExportsDir:  cfg.ExportsDir(),
		GracePeriod: cfg.ExportGracePeriod(),
	})

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Store:     jobStore,
		Toolkit:   toolkit,
		Scheduler: scheduler,
		Exporter:  exporter,
		Files:     exposer,
		Bus:       bus,
		History:   ledger,
		Logger:    logger,
		StartTime: startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(ledger *history.Ledger) (string, error) {
	ctx := context.Background()

	existing, err := ledger.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := ledger.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
