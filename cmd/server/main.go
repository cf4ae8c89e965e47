package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/tasksync/internal/server/handlers"
	"github.com/iudanet/tasksync/internal/server/hub"
	"github.com/iudanet/tasksync/internal/server/middleware"
	"github.com/iudanet/tasksync/internal/server/storage/sqlite"
	"github.com/iudanet/tasksync/internal/store"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", ":8080", "Listen address")
	dbPath := flag.String("db", "tasksync.db", "Path to SQLite database")
	jwtSecret := flag.String("jwt-secret", os.Getenv("TASKSYNC_JWT_SECRET"), "JWT signing secret")
	retention := flag.Duration("retention", 30*24*time.Hour, "Change log retention before compaction")
	compactEvery := flag.Duration("compact-every", time.Hour, "Compaction interval")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger, *addr, *dbPath, *jwtSecret, *retention, *compactEvery); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, dbPath, jwtSecret string, retention, compactEvery time.Duration) error {
	if jwtSecret == "" {
		return errors.New("jwt secret is required (flag -jwt-secret or TASKSYNC_JWT_SECRET)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncStorage, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer syncStorage.Close()

	sessions := hub.New(logger)
	entityStore := store.New(syncStorage, logger, store.WithNotifier(sessions))

	jwtConfig := handlers.JWTConfig{
		Secret:         []byte(jwtSecret),
		AccessTokenTTL: 24 * time.Hour,
	}

	syncHandler := handlers.NewSyncHandler(logger, syncStorage, entityStore, sessions, handlers.DefaultSyncSettings())
	healthHandler := handlers.NewHealthHandler(logger, syncStorage.DB(), Version)

	authMW := middleware.AuthMiddleware(logger, jwtConfig)
	rateMW := middleware.RateLimitMiddleware(600, time.Minute, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", healthHandler.Health)
	mux.Handle("/api/v1/sync", rateMW(authMW(http.HandlerFunc(syncHandler.HandleSync))))

	handler := middleware.RecoveryMiddleware(logger)(
		middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(mux))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go compactLoop(ctx, logger, syncStorage, retention, compactEvery)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", addr, "version", Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

// compactLoop периодически уплотняет журнал изменений: записи старше
// retention заменяются снапшотами, отставшие клиенты получают resync.
func compactLoop(ctx context.Context, logger *slog.Logger, syncStorage *sqlite.Storage, retention, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped, err := syncStorage.CompactBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("Compaction failed", "error", err)
				continue
			}
			if dropped > 0 {
				logger.Info("Change log compacted", "dropped", dropped)
			}
		}
	}
}

func printVersion() {
	fmt.Printf("TaskSync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
