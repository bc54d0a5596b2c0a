// ingest catalogs local image files: it embeds the given tags, uploads each file and indexes it.
//
// Usage:
//
//	ingest -description "spur gear, 20 teeth" -brand Misumi -materials steel,brass -dir gears ./photos/gear1.png ./photos/more
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mechlib/catalog/internal/config"
	"github.com/mechlib/catalog/internal/models"
	"github.com/mechlib/catalog/internal/wiring"
	"github.com/mechlib/catalog/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

var errDescriptionRequired = errors.New("-description is required")

// options holds the parsed command line.
type options struct {
	Directory string
	Fields    models.ImageFields
	Paths     []string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
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

	processed, err := components.Catalog.Process(ctx, opts.Paths, opts.Directory, opts.Fields)
	for _, p := range processed {
		fmt.Printf("%s\t%s\n", p.Filename, p.S3URI)
	}

	if err != nil {
		slog.Error("Ingest failed", "processed", len(processed), "error", err)

		return exitFailure
	}

	slog.Info("Ingest complete", "processed", len(processed))

	return exitSuccess
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)

	var (
		opts      options
		materials string
		process   string
	)

	fs.StringVar(&opts.Directory, "dir", "", "object key prefix (defaults to the folder name for directory arguments)")
	fs.StringVar(&opts.Fields.Description, "description", "", "description of the pictured part (required)")
	fs.StringVar(&opts.Fields.Brand, "brand", "", "manufacturer or brand")
	fs.StringVar(&materials, "materials", "", "comma-separated materials")
	fs.StringVar(&process, "process", "", "comma-separated manufacturing processes")
	fs.StringVar(&opts.Fields.Mechanism, "mechanism", "", "mechanism type")
	fs.StringVar(&opts.Fields.Project, "project", "", "project name")
	fs.StringVar(&opts.Fields.Person, "person", "", "person responsible")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(opts.Fields.Description) == "" {
		return options{}, errDescriptionRequired
	}

	opts.Paths = fs.Args()
	if len(opts.Paths) == 0 {
		return options{}, errors.New("at least one file or directory is required")
	}

	opts.Fields.Materials = splitList(materials)
	opts.Fields.Process = splitList(process)

	return opts, nil
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}
