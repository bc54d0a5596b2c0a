// reconcile repairs image records whose update re-uploaded the blob but never re-indexed it.
// By default it runs one pass inline. With -enqueue it inserts a River job instead, for the
// API server's reconcile worker to pick up.
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

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/mechlib/catalog/internal/config"
	"github.com/mechlib/catalog/internal/service"
	"github.com/mechlib/catalog/internal/wiring"
	"github.com/mechlib/catalog/internal/workers"
	"github.com/mechlib/catalog/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	staleAfter := fs.Duration("stale-after", 0, "only repair markers older than this (default RECONCILE_STALE_AFTER)")
	limit := fs.Int("limit", service.DefaultReconcileBatch, "maximum markers to examine")
	enqueue := fs.Bool("enqueue", false, "insert a River job instead of running inline")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	if *staleAfter <= 0 {
		*staleAfter = cfg.ReconcileStaleAfter
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DatabaseURL, database.SchemaOptions{
		Dimensions: cfg.EmbeddingDimensions,
		Language:   cfg.KeywordLanguage,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)

		return exitFailure
	}
	defer db.Close()

	if *enqueue {
		// Insert-only client: no queues or workers are started here.
		riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{})
		if err != nil {
			slog.Error("Failed to create River client", "error", err)

			return exitFailure
		}

		res, err := riverClient.Insert(ctx, workers.ReconcileArgs{StaleAfter: *staleAfter, Limit: *limit}, nil)
		if err != nil {
			slog.Error("Failed to enqueue reconcile job", "error", err)

			return exitFailure
		}

		if res.UniqueSkippedAsDuplicate {
			fmt.Println("A reconcile pass is already queued.")
		} else {
			fmt.Printf("Enqueued reconcile job %d.\n", res.Job.ID)
		}

		return exitSuccess
	}

	components, err := wiring.Build(ctx, cfg, db, nil)
	if err != nil {
		slog.Error("Failed to wire catalog", "error", err)

		return exitFailure
	}

	defer func() {
		if err := components.Close(); err != nil {
			slog.Warn("close components", "error", err)
		}
	}()

	start := time.Now()

	report, err := components.Reconcile.Run(ctx, *staleAfter, *limit)
	if err != nil {
		slog.Error("Reconcile failed", "error", err)

		return exitFailure
	}

	slog.Info("Reconcile complete", "duration", time.Since(start))
	fmt.Printf("repaired=%d dropped=%d failed=%d\n", report.Repaired, report.Dropped, report.Failed)

	if report.Failed > 0 {
		return exitFailure
	}

	return exitSuccess
}
