package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/tasksync/internal/client/cli"
	"github.com/iudanet/tasksync/internal/client/queue"
	"github.com/iudanet/tasksync/internal/client/storage/boltdb"
	"github.com/iudanet/tasksync/internal/client/sync"
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
	serverURL := flag.String("server", "ws://localhost:8080/api/v1/sync", "Server websocket URL")
	dbPath := flag.String("db", "tasksync-client.db", "Path to local database")
	workspace := flag.String("workspace", "personal", "Workspace id")
	token := flag.String("token", os.Getenv("TASKSYNC_TOKEN"), "Access token")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		os.Exit(1)
	}

	if err := run(args, *serverURL, *dbPath, *workspace, *token); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, serverURL, dbPath, workspace, token string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	boltStorage, err := boltdb.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	clientID, err := boltStorage.ClientID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get client id: %w", err)
	}

	entityStore := store.New(boltStorage, logger)
	offlineQueue := queue.New(boltStorage, 0, logger)

	engine := sync.NewEngine(sync.Config{
		Store:      entityStore,
		Entities:   boltStorage,
		Meta:       boltStorage,
		Queue:      offlineQueue,
		Logger:     logger,
		ServerURL:  serverURL,
		Token:      token,
		ClientID:   clientID,
		Workspaces: []string{workspace},
	})

	app := &cli.App{
		Engine:    engine,
		Store:     entityStore,
		Entities:  boltStorage,
		Meta:      boltStorage,
		Workspace: workspace,
	}

	command := args[0]
	switch command {
	case "run":
		return app.RunSync(ctx)
	case "add":
		return app.RunAdd(ctx, args[1:])
	case "list":
		return app.RunList(ctx, args[1:])
	case "done":
		return app.RunDone(ctx, args[1:])
	case "tag":
		return app.RunTag(ctx, args[1:])
	case "untag":
		return app.RunUntag(ctx, args[1:])
	case "track":
		return app.RunTrack(ctx, args[1:])
	case "delete":
		return app.RunDelete(ctx, args[1:])
	case "recover":
		return app.RunRecover(ctx, args[1:])
	case "status":
		return app.RunStatus(ctx)
	default:
		cli.PrintUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printVersion() {
	fmt.Printf("TaskSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
