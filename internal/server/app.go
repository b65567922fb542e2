// Package server wires configuration, storage, processors and the HTTP API
// into a runnable importer process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/api"
	"github.com/JakeFAU/bulk-importer/internal/clock/system"
	"github.com/JakeFAU/bulk-importer/internal/config"
	"github.com/JakeFAU/bulk-importer/internal/engine"
	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/events/sinks"
	"github.com/JakeFAU/bulk-importer/internal/hash/sha256"
	"github.com/JakeFAU/bulk-importer/internal/history"
	"github.com/JakeFAU/bulk-importer/internal/id/uuid"
	"github.com/JakeFAU/bulk-importer/internal/importer"
	"github.com/JakeFAU/bulk-importer/internal/logging"
	"github.com/JakeFAU/bulk-importer/internal/policy/ratelimit"
	"github.com/JakeFAU/bulk-importer/internal/processor/remote"
	"github.com/JakeFAU/bulk-importer/internal/processor/scrape"
	memorypublisher "github.com/JakeFAU/bulk-importer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/bulk-importer/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/bulk-importer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/bulk-importer/internal/storage/local"
	memorystorage "github.com/JakeFAU/bulk-importer/internal/storage/memory"
	pgstore "github.com/JakeFAU/bulk-importer/internal/storage/postgres"
	redisstore "github.com/JakeFAU/bulk-importer/internal/storage/redis"
	"github.com/JakeFAU/bulk-importer/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer
	processor  importer.Processor

	engine      *engine.Engine
	apiServer   *api.Server
	bus         *events.Bus
	hub         *events.Hub
	unsubscribe func()
	history     history.Repository

	pool            *pgxpool.Pool
	redis           *goredis.Client
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubNotifier  *gcppublisher.Notifier
	tracerProvider  *sdktrace.TracerProvider
	readinessChecks []func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer sets the Prometheus registry for the event metrics sink.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithProcessor bypasses processor.kind and uses p. Rate limiting still applies.
func WithProcessor(p importer.Processor) Option {
	return func(a *App) { a.processor = p }
}

// Build creates the application's dependencies. Resources opened before a
// failure are released before the error is returned.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(app.logger)
	}
	if app.registerer == nil {
		app.registerer = prometheus.DefaultRegisterer
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("processor", cfg.Processor.Kind),
	)
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
			app.closeObservability(context.WithoutCancel(ctx))
		}
	}()

	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	store, err := setupStore(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupHistory(app); err != nil {
		return nil, err
	}
	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupEvents(ctx, app); err != nil {
		return nil, err
	}
	processor, err := setupProcessor(app)
	if err != nil {
		return nil, err
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.Options = cfg.ImportOptions()
	engineCfg.StateKey = cfg.Import.StateKey
	engineCfg.StaleAfter = cfg.StaleAfter()
	app.engine = engine.New(
		processor,
		store,
		notifier,
		app.bus,
		system.New(),
		uuid.New(),
		engineCfg,
		app.logger.Named("engine"),
	)

	app.apiServer = api.NewServer(
		app.engine,
		app.history,
		api.Config{
			AuthEnabled: cfg.Auth.Enabled,
			APIKey:      cfg.Auth.APIKey,
		},
		app.logger,
		api.WithReadiness(app.ready),
	)
	return app, nil
}

// Engine exposes the import engine for one-shot commands.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// History returns the configured run history repository.
func (a *App) History() history.Repository {
	return a.history
}

// Run restores any interrupted run, serves the API and blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.engine.Restore(ctx) {
		a.logger.Info("interrupted run restored, resume it through the API",
			zap.String("run_id", a.engine.RunID()),
			zap.Int("items", len(a.engine.Items())),
		)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close pauses an active run so its snapshot survives the restart, then
// releases every resource. Later calls return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.close(ctx) })
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		if a.engine.State() == importer.RunProcessing && a.engine.Pause() {
			a.logger.Info("active run paused for shutdown", zap.String("run_id", a.engine.RunID()))
		}
		if err := a.engine.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.pubsubNotifier != nil {
		a.pubsubNotifier.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) ready(ctx context.Context) error {
	for _, check := range a.readinessChecks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func setupDatabase(ctx context.Context, app *App) error {
	db := app.cfg.Database
	if db.DSN == "" {
		app.logger.Debug("no database DSN configured, skipping postgres")
		return nil
	}
	if app.cfg.Store.Backend != config.StorePostgres && !db.HistoryEnabled {
		app.logger.Debug("postgres configured but unused by store and history")
		return nil
	}
	var err error
	app.pool, err = pgstore.Connect(ctx, pgstore.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	if db.AutoMigrate {
		if err = pgstore.EnsureSchema(ctx, app.pool, db.KVTable, db.HistoryEnabled); err != nil {
			return fmt.Errorf("postgres schema init failed: %w", err)
		}
		app.logger.Info("postgres schema ensured",
			zap.String("kv_table", db.KVTable),
			zap.Bool("history", db.HistoryEnabled),
		)
	}
	app.readinessChecks = append(app.readinessChecks, func(ctx context.Context) error {
		if err := app.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		return nil
	})
	return nil
}

func setupStore(ctx context.Context, app *App) (importer.Store, error) {
	cfg := app.cfg.Store
	switch cfg.Backend {
	case config.StoreLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir}, sha256.New())
		if err != nil {
			return nil, fmt.Errorf("local store init failed: %w", err)
		}
		app.logger.Info("using local snapshot store", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	case config.StoreRedis:
		rcfg := redisstore.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      time.Duration(cfg.Redis.TTLHours) * time.Hour,
		}
		client, err := redisstore.NewClient(rcfg)
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		app.redis = client
		store, err := redisstore.NewStore(client, rcfg)
		if err != nil {
			return nil, fmt.Errorf("redis store init failed: %w", err)
		}
		app.readinessChecks = append(app.readinessChecks, func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		})
		app.logger.Info("using redis snapshot store", zap.String("address", cfg.Redis.Address))
		return store, nil
	case config.StorePostgres:
		if app.pool == nil {
			return nil, errors.New("postgres store requires database.dsn")
		}
		store, err := pgstore.NewStore(app.pool, app.cfg.Database.KVTable)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.logger.Info("using postgres snapshot store", zap.String("table", app.cfg.Database.KVTable))
		return store, nil
	case config.StoreGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: cfg.GCS.Bucket,
			Prefix: cfg.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs store init failed: %w", err)
		}
		app.logger.Info("using GCS snapshot store", zap.String("bucket", cfg.GCS.Bucket))
		return store, nil
	default:
		app.logger.Info("using in-memory snapshot store")
		return memorystorage.NewStore(), nil
	}
}

func setupHistory(app *App) error {
	if app.cfg.Database.HistoryEnabled && app.pool != nil {
		repo, err := pgstore.NewHistoryRepository(app.pool)
		if err != nil {
			return fmt.Errorf("history repository init failed: %w", err)
		}
		app.history = repo
		app.logger.Info("run history stored in postgres")
		return nil
	}
	app.history = memorystorage.NewHistoryRepository()
	app.logger.Debug("run history kept in memory")
	return nil
}

func setupNotifier(ctx context.Context, app *App) (importer.Notifier, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory notifier")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubNotifier, err = gcppublisher.NewFromClient(app.pubsubClient, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub notifier init failed: %w", err)
	}
	app.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubNotifier, nil
}

func setupEvents(ctx context.Context, app *App) error {
	app.bus = events.NewBus(app.logger.Named("events"))
	cfg := app.cfg.Progress
	if !cfg.Enabled {
		app.logger.Info("event hub disabled")
		return nil
	}
	var sinkList []events.Sink
	if cfg.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(app.logger.Named("event_log")))
	}
	if cfg.MetricsEnabled {
		promSink, err := sinks.NewPrometheusSink(app.registerer)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if app.history != nil {
		sinkList = append(sinkList, sinks.NewHistorySink(app.history, app.logger.Named("event_history")))
	}
	if len(sinkList) == 0 {
		app.logger.Warn("event hub enabled but no sinks configured")
		return nil
	}
	hubCfg := events.HubConfig{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("event_hub"),
	}
	app.hub = events.NewHub(hubCfg, sinkList...)
	app.unsubscribe = app.bus.SubscribeAll(app.hub.Emit)
	app.logger.Info("event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func setupProcessor(app *App) (importer.Processor, error) {
	cfg := app.cfg.Processor
	processor := app.processor
	if processor == nil {
		switch cfg.Kind {
		case config.ProcessorRemote:
			p, err := remote.New(remote.Config{
				Endpoint:  cfg.Endpoint,
				APIKey:    cfg.APIKey,
				Timeout:   app.cfg.ProcessorTimeout(),
				UserAgent: cfg.UserAgent,
			}, nil, app.logger)
			if err != nil {
				return nil, fmt.Errorf("remote processor init failed: %w", err)
			}
			app.logger.Info("using remote processor", zap.String("endpoint", cfg.Endpoint))
			processor = p
		default:
			processor = scrape.New(scrape.Config{
				UserAgent: cfg.UserAgent,
				Timeout:   app.cfg.ProcessorTimeout(),
			}, app.logger)
			app.logger.Info("using scrape processor", zap.String("user_agent", cfg.UserAgent))
		}
	}
	if cfg.RateLimit.RPS > 0 {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		processor = limiter.Wrap(processor)
	}
	return processor, nil
}
