// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/slack-history-crawler/internal/checkpoint"
	"github.com/JakeFAU/slack-history-crawler/internal/clock/system"
	"github.com/JakeFAU/slack-history-crawler/internal/config"
	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
	"github.com/JakeFAU/slack-history-crawler/internal/id/uuid"
	"github.com/JakeFAU/slack-history-crawler/internal/metrics"
	"github.com/JakeFAU/slack-history-crawler/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/slack-history-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/slack-history-crawler/internal/sink/csvfile"
	"github.com/JakeFAU/slack-history-crawler/internal/sink/postgres"
	"github.com/JakeFAU/slack-history-crawler/internal/sink/sqlstore"
	"github.com/JakeFAU/slack-history-crawler/internal/slackapi"
	"github.com/JakeFAU/slack-history-crawler/internal/storage"
	"github.com/JakeFAU/slack-history-crawler/internal/storage/gcs"
	"github.com/JakeFAU/slack-history-crawler/internal/storage/local"
)

// Output modes accepted by OpenSink.
const (
	ModeCSV = "csv"
	ModeDB  = "db"
)

// Workspace is the chat platform surface the commands use.
type Workspace interface {
	crawler.API
	AuthTest(ctx context.Context) (team, user string, err error)
}

// Checkpoints is the resume store surface the commands use.
type Checkpoints interface {
	crawler.Checkpointer
	Pending() (crawler.Window, error)
	LastUntil() (time.Time, bool, error)
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and closed by a Cobra hook.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	workspace   Workspace
	checkpoints *checkpoint.Store
	uploader    *storage.Uploader
	publisher   publisher.Publisher
	metrics     *metrics.Server
	clock       *system.Clock
	ids         *uuid.Generator
	closers     []func() error
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetWorkspace returns the chat platform client.
func (a *App) GetWorkspace() Workspace {
	return a.workspace
}

// GetCheckpoints returns the resume store for mode's destination, or nil
// when checkpoints are disabled. Each csv directory and each database keeps
// its own progress.
func (a *App) GetCheckpoints(mode string) Checkpoints {
	if a.checkpoints == nil {
		return nil
	}
	return a.checkpoints.Scoped(a.checkpointScope(mode))
}

func (a *App) checkpointScope(mode string) string {
	switch mode {
	case ModeCSV:
		return checkpoint.Scope(ModeCSV, a.cfg.Output.Dir)
	case ModeDB:
		return checkpoint.Scope(ModeDB, a.cfg.DB.Driver, a.cfg.DB.DSN)
	default:
		return checkpoint.Scope(mode)
	}
}

// GetUploader returns the artifact uploader.
func (a *App) GetUploader() *storage.Uploader {
	return a.uploader
}

// GetPublisher returns the run-summary publisher.
func (a *App) GetPublisher() publisher.Publisher {
	return a.publisher
}

// Now reports wall time in the crawl timezone.
func (a *App) Now() time.Time {
	return a.clock.Now()
}

// NewRunID returns a fresh run identifier.
func (a *App) NewRunID() string {
	return a.ids.MustID()
}

// NewApp creates and initializes the App from cfg. It fails fast if any
// configured service cannot be initialized and releases whatever it had
// already opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing application services...")

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		clock:     system.New(loc),
		ids:       uuid.New(),
		publisher: publisher.Noop{},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. Chat platform client.
	ws, err := slackapi.New(slackapi.Config{
		Token:        cfg.Slack.Token,
		APIURL:       cfg.Slack.APIURL,
		PageLimit:    cfg.Slack.PageLimit,
		ChannelTypes: cfg.Slack.ChannelTypes,
	}, logger.Named("slackapi"))
	if err != nil {
		return nil, fmt.Errorf("init slack client: %w", err)
	}
	a.workspace = ws

	// 2. Checkpoint store.
	if cfg.Checkpoint.Path != "" {
		store, err := checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			return nil, err
		}
		a.checkpoints = store
		a.closers = append(a.closers, store.Close)
		logger.Info("Using checkpoint store", zap.String("path", cfg.Checkpoint.Path))
	}

	// 3. Artifact storage.
	var blobs storage.BlobStore
	switch cfg.Storage.Provider {
	case "gcs":
		logger.Info("Using GCS storage provider", zap.String("bucket", cfg.Storage.GCSBucket))
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		blobs = store
		a.closers = append(a.closers, store.Close)
	case "local":
		logger.Info("Using local storage provider", zap.String("dir", cfg.Storage.LocalDir))
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		blobs = store
	case "none", "":
		blobs = storage.NoOp{}
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
	a.uploader = storage.NewUploader(blobs, cfg.Storage.Prefix, logger.Named("storage"))

	// 4. Run-summary publisher.
	if cfg.PubSub.Topic != "" {
		logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", cfg.PubSub.Topic))
		pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
			ProjectID: cfg.PubSub.ProjectID,
			Topic:     cfg.PubSub.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	// 5. Metrics and health endpoint.
	metrics.Init()
	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, logger.Named("metrics"))
		if _, err := srv.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		a.metrics = srv
	}

	logger.Info("Application services initialized successfully.")
	return a, nil
}

// OpenSink builds the MergeSink for mode. The csv sink is scoped to w so its
// artifacts carry the window in their names.
func (a *App) OpenSink(ctx context.Context, mode string, w crawler.Window) (crawler.MergeSink, error) {
	switch mode {
	case ModeCSV:
		loc, err := a.cfg.Location()
		if err != nil {
			return nil, err
		}
		sink, err := csvfile.New(csvfile.Config{Dir: a.cfg.Output.Dir, Window: w, Location: loc}, a.logger.Named("csv"))
		if err != nil {
			return nil, err
		}
		return sink, nil
	case ModeDB:
		return a.openDatabase(ctx)
	default:
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}
}

func (a *App) openDatabase(ctx context.Context) (crawler.MergeSink, error) {
	db := a.cfg.DB
	switch db.Driver {
	case "postgres":
		a.logger.Info("Connecting to PostgreSQL...")
		sink, err := postgres.New(ctx, postgres.Config{
			DSN:      db.DSN,
			MaxConns: int32(db.MaxConns), //nolint:gosec // small pool sizes only
			Migrate:  db.Migrate,
		}, a.logger.Named("postgres"))
		if err != nil {
			return nil, err
		}
		return sink, nil
	case sqlstore.DriverMySQL, sqlstore.DriverSQLite:
		a.logger.Info("Connecting to database", zap.String("driver", db.Driver))
		sink, err := sqlstore.New(ctx, sqlstore.Config{
			Driver:   db.Driver,
			DSN:      db.DSN,
			MaxConns: db.MaxConns,
			Migrate:  db.Migrate,
		}, a.logger.Named("sqlstore"))
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", db.Driver)
	}
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("Error stopping metrics server", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	// Sync errors on stdout/stderr are expected on some platforms.
	_ = a.logger.Sync()
}
