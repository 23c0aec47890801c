// Command courier-import replays exported webhook payload files into the
// message store. Point it at a directory of *.json payloads:
//
//	COURIER_DATABASE_URL=postgres://... courier-import ./payloads
//
// Without COURIER_DATABASE_URL it runs against an in-memory store, which is
// useful as a dry run to validate payload files before touching the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"courier/cmd/internal/app"
	"courier/cmd/internal/chat"
	"courier/cmd/internal/importer"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "courier-import:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	flag.Parse()
	dir := flag.Arg(0)
	if dir == "" {
		return fmt.Errorf("usage: courier-import <payload-dir>")
	}

	cfg := app.LoadConfig()
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store chat.Store
	var pool *pgxpool.Pool

	if cfg.DatabaseURL == "" {
		log.Warn("import.dry_run", "reason", "no database configured")
		store = chat.NewMemoryStore()
	} else {
		var err error
		pool, err = app.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err = chat.NewPostgresStore(pool)
		if err != nil {
			return err
		}
	}
	defer func() { _ = store.Close() }()

	im := importer.New(log, store)
	stats, err := im.ImportDir(ctx, dir)
	if err != nil {
		return err
	}

	log.Info("import.done",
		"files", stats.Files,
		"messages", stats.Messages,
		"status_records", stats.StatusRecords,
		"status_advances", stats.StatusAdvances,
		"skipped", stats.Skipped,
	)
	return nil
}
