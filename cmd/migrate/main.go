// Command migrate applies or tears down the Postgres NotebookStore schema.
// It has no effect on the file-backed store, which needs no schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/cellmesh/cellmesh/internal/infrastructure/store"
)

var (
	command     string
	databaseURL string
)

func init() {
	flag.StringVar(&command, "command", "up", "Migration command: up, down")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL database URL (overrides CELLMESH_DATABASE_URL env var)")
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	dbURL := databaseURL
	if dbURL == "" {
		dbURL = os.Getenv("CELLMESH_DATABASE_URL")
	}
	if dbURL == "" {
		slog.Error("CELLMESH_DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := store.NewDB(store.DBConfig{
		DSN:             dbURL,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		Debug:           os.Getenv("DEBUG") == "true",
	})
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	migrator := store.NewMigrator(db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := executeCommand(ctx, migrator, command); err != nil {
		slog.Error("migration command failed", slog.String("command", command), slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("migration command completed successfully", slog.String("command", command))
}

func executeCommand(ctx context.Context, migrator *store.Migrator, cmd string) error {
	switch cmd {
	case "up":
		return migrator.Up(ctx)
	case "down":
		return migrator.Down(ctx)
	default:
		return fmt.Errorf("unknown command: %s (available: up, down)", cmd)
	}
}
