// mcp exposes catalog search to MCP clients (assistants, IDEs) as the search_images tool.
// It speaks JSON-RPC over stdin/stdout, so all logging goes to stderr.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mechlib/catalog/internal/config"
	"github.com/mechlib/catalog/internal/mcp"
	"github.com/mechlib/catalog/internal/wiring"
	"github.com/mechlib/catalog/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	logger := newStderrLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DatabaseURL, database.SchemaOptions{
		Dimensions: cfg.EmbeddingDimensions,
		Language:   cfg.KeywordLanguage,
	})
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)

		return exitFailure
	}
	defer db.Close()

	components, err := wiring.Build(ctx, cfg, db, nil)
	if err != nil {
		logger.Error("Failed to wire catalog", "error", err)

		return exitFailure
	}

	defer func() {
		if err := components.Close(); err != nil {
			logger.Warn("close components", "error", err)
		}
	}()

	server := mcp.NewServer(mcp.ServerParams{Searcher: components.Search, Logger: logger})

	logger.Info("MCP server ready on stdio", "tool", mcp.SearchToolName)

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("MCP server stopped", "error", err)

		return exitFailure
	}

	return exitSuccess
}

func newStderrLogger(level string) *slog.Logger {
	var logLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
