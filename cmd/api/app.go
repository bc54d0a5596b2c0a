package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mechlib/catalog/internal/api/handlers"
	"github.com/mechlib/catalog/internal/api/middleware"
	"github.com/mechlib/catalog/internal/config"
	"github.com/mechlib/catalog/internal/observability"
	"github.com/mechlib/catalog/internal/service"
	"github.com/mechlib/catalog/internal/wiring"
	"github.com/mechlib/catalog/internal/workers"
)

const serviceName = "mechlib-catalog"

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	server         *http.Server
	river          *river.Client[pgx.Tx] // nil when reconcile is disabled
	components     *wiring.Components
	meterProvider  *observability.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// setupMetrics creates the meter provider and catalog metrics when metrics are enabled.
func setupMetrics(ctx context.Context, cfg *config.Config) (*observability.MeterProvider, *observability.Metrics, error) {
	if !cfg.MetricsEnabled {
		slog.Warn("metrics not enabled (METRICS_ENABLED=false)")

		return nil, nil, nil
	}

	mp, err := observability.NewMeterProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	metrics, err := observability.NewMetrics(mp.Meter())
	if err != nil {
		if err2 := mp.Shutdown(context.Background()); err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, metrics, nil
}

// NewApp builds and wires all components. It does not start the HTTP server or River;
// call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (*App, error) {
	meterProvider, metrics, err := setupMetrics(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	}

	tracerProvider, err := observability.NewTracerProvider(ctx, cfg.OtelTracesExporter)
	if err != nil {
		shutdownObservability(context.Background(), nil, meterProvider)

		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	// Installed unconditionally so request_id (and trace_id/span_id when tracing is on) appear in logs.
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(slog.Default().Handler())))

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider.Provider())
	}

	components, err := wiring.Build(ctx, cfg, db, metrics)
	if err != nil {
		shutdownObservability(context.Background(), tracerProvider, meterProvider)

		return nil, fmt.Errorf("wire catalog: %w", err)
	}

	var riverClient *river.Client[pgx.Tx]

	if cfg.ReconcileEnabled {
		riverClient, err = newRiverClient(db, cfg, components.Reconcile)
		if err != nil {
			if err2 := components.Close(); err2 != nil {
				slog.Error("close components after River client error", "error", err2)
			}

			shutdownObservability(context.Background(), tracerProvider, meterProvider)

			return nil, fmt.Errorf("create River client: %w", err)
		}

		slog.Info("update-marker reconcile enabled",
			"interval", cfg.ReconcileInterval, "stale_after", cfg.ReconcileStaleAfter)
	}

	var apiMetrics observability.APIMetrics
	if metrics != nil {
		apiMetrics = metrics.API
	}

	router := newRouter(routerParams{
		cfg:        cfg,
		health:     handlers.NewHealthHandler(db),
		images:     handlers.NewImagesHandler(components.Catalog),
		search:     handlers.NewSearchHandler(components.Search),
		apiMetrics: apiMetrics,
		metrics:    meterProvider,
	})

	return &App{
		cfg:            cfg,
		server:         newHTTPServer(cfg, router, meterProvider, tracerProvider),
		river:          riverClient,
		components:     components,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
	}, nil
}

// newRiverClient registers the reconcile worker and its periodic job. River's tables must be
// migrated beforehand (river migrate-up).
func newRiverClient(db *pgxpool.Pool, cfg *config.Config, reconcile *service.ReconcileService) (*river.Client[pgx.Tx], error) {
	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewReconcileWorker(reconcile, 0))

	client, err := river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			workers.ReconcileQueueName: {MaxWorkers: 1},
		},
		Workers:      riverWorkers,
		ErrorHandler: &workers.ErrorHandler{},
		PeriodicJobs: []*river.PeriodicJob{
			workers.PeriodicReconcileJob(cfg.ReconcileInterval, cfg.ReconcileStaleAfter, service.DefaultReconcileBatch),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new river client: %w", err)
	}

	return client, nil
}

type routerParams struct {
	cfg        *config.Config
	health     *handlers.HealthHandler
	images     *handlers.ImagesHandler
	search     *handlers.SearchHandler
	apiMetrics observability.APIMetrics
	metrics    *observability.MeterProvider
}

// newRouter registers the public routes and the API-key protected /v1 routes.
func newRouter(p routerParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", p.health.Check)

	if p.metrics != nil {
		r.Handle("/metrics", p.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(p.cfg.APIKey, p.apiMetrics))
		r.Use(middleware.MaxBody(p.cfg.MaxBodySize, p.apiMetrics))

		r.Post("/images/process", p.images.Process)
		r.Post("/images/search", p.search.Search)
		r.Get("/images", p.images.Get)
		r.Put("/images/metadata", p.images.UpdateMetadata)
		r.Delete("/images", p.images.Delete)
	})

	return r
}

// newHTTPServer wraps the router with RequestID -> otelhttp(Logging(router)) so access logs
// carry trace_id/span_id from the request context.
func newHTTPServer(
	cfg *config.Config,
	router http.Handler,
	meterProvider *observability.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for health checks and scrapes to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider.Provider()))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	inner := middleware.Logging(router)
	handler := otelhttp.NewHandler(inner, "catalog-api", otelOpts...)
	handler = middleware.RequestID(handler)

	// Processing a batch tags, uploads and embeds every file inline, so writes get a long timeout.
	const (
		readTimeout  = 15 * time.Second
		writeTimeout = 5 * time.Minute
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server and River (when enabled), then blocks until ctx is cancelled
// or a component fails. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	riverCtx, cancelRiver := context.WithCancel(ctx)
	defer cancelRiver()

	if a.river != nil {
		go func() {
			if err := a.river.Start(riverCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// shutdownObservability shuts down tracer and meter providers, logging failures.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *observability.MeterProvider) {
	if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
		slog.Error("shutdown tracer provider", "error", err)
	}

	if err := meter.Shutdown(ctx); err != nil {
		slog.Error("shutdown meter provider", "error", err)
	}
}

// Shutdown stops the server, then River, then releases the wired components and observability.
func (a *App) Shutdown(ctx context.Context) error {
	defer shutdownObservability(ctx, a.tracerProvider, a.meterProvider)

	defer func() {
		if err := a.components.Close(); err != nil {
			slog.Error("close components", "error", err)
		}
	}()

	var errs []error

	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if a.river != nil {
		if err := a.river.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("river stop: %w", err))
		}
	}

	return errors.Join(errs...)
}
