// Package app builds the scraper's long-lived services from configuration and
// shuts them down again. Both the HTTP server and the one-shot CLI commands
// run on top of it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/court-case-scraper/internal/api"
	"github.com/JakeFAU/court-case-scraper/internal/browser"
	"github.com/JakeFAU/court-case-scraper/internal/casetypes"
	"github.com/JakeFAU/court-case-scraper/internal/clock/system"
	"github.com/JakeFAU/court-case-scraper/internal/config"
	"github.com/JakeFAU/court-case-scraper/internal/court"
	"github.com/JakeFAU/court-case-scraper/internal/hash/sha256"
	"github.com/JakeFAU/court-case-scraper/internal/id/uuid"
	"github.com/JakeFAU/court-case-scraper/internal/logging"
	"github.com/JakeFAU/court-case-scraper/internal/metrics"
	"github.com/JakeFAU/court-case-scraper/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/court-case-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/court-case-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/court-case-scraper/internal/scrape"
	"github.com/JakeFAU/court-case-scraper/internal/sink"
	gcsstorage "github.com/JakeFAU/court-case-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/court-case-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/court-case-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/court-case-scraper/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/court-case-scraper/internal/storage/sqlite"
	"github.com/JakeFAU/court-case-scraper/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	chrome         *browser.Chromedp
	scraper        *scrape.Scraper
	sink           *sink.Sink
	queryLog       court.QueryLog
	gcs            *gcsstorage.BlobStore
	publisher      *gcppublisher.Publisher
	published      *pubmemory.Publisher
	apiServer      *api.Server
	tracerShutdown func(context.Context) error
	closeOnce      sync.Once
}

// Build creates a logger from cfg and then every other dependency.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger. On error every
// service opened so far is closed again.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.closeInfrastructure(closeCtx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.Int("server_port", a.cfg.Server.Port),
		zap.String("storage_driver", a.cfg.Storage.Driver),
		zap.String("archive_driver", a.cfg.Archive.Driver),
	)
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	if err := a.setupQueryLog(ctx); err != nil {
		return err
	}
	blobs, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}

	deps := sink.Deps{
		Log:    a.queryLog,
		Logger: a.logger.Named("sink"),
	}
	if blobs != nil {
		deps.Blobs = blobs
		deps.Hasher = sha256.NewTruncated(16)
	}
	switch {
	case a.publisher != nil:
		deps.Publisher = a.publisher
	case a.published != nil:
		deps.Publisher = a.published
	}
	a.sink, err = sink.New(sink.Options{
		Timeout:       a.cfg.Persist.Timeout,
		Topic:         a.cfg.PubSub.TopicName,
		ArchivePrefix: a.cfg.Archive.Prefix,
	}, deps)
	if err != nil {
		return fmt.Errorf("sink init failed: %w", err)
	}

	if err := a.setupScraper(); err != nil {
		return err
	}

	apiOpts := api.Options{
		RequestTimeout: a.cfg.Server.RequestTimeout,
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
	}
	a.apiServer = api.NewServer(a.scraper, a.queryLog, apiOpts, a.logger.Named("api"))
	return nil
}

func (a *App) setupQueryLog(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "postgres":
		log, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.Storage.PostgresDSN,
			Table:    a.cfg.Storage.Table,
			MaxConns: a.cfg.Storage.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres query log init failed: %w", err)
		}
		a.queryLog = log
		a.logger.Info("using postgres query log", zap.String("table", a.cfg.Storage.Table))
	case "memory":
		a.queryLog = memorystorage.NewQueryLog()
		a.logger.Warn("using in-memory query log, history is lost on exit")
	default:
		log, err := sqlitestore.New(a.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite query log init failed: %w", err)
		}
		a.queryLog = log
		a.logger.Info("using sqlite query log", zap.String("path", a.cfg.Storage.SQLitePath))
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (court.BlobStore, error) {
	switch a.cfg.Archive.Driver {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("archiving failure snapshots to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving failure snapshots locally", zap.String("path", a.cfg.Archive.LocalDir))
		return store, nil
	default:
		a.logger.Info("failure snapshot archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Driver == "memory" {
		a.published = pubmemory.New(a.cfg.PubSub.MemoryLimit)
		a.logger.Info("publishing results in memory", zap.Int("limit", a.cfg.PubSub.MemoryLimit))
		return nil
	}
	if !a.cfg.PubSub.Enabled() {
		a.logger.Info("no Pub/Sub topic configured, results are not published")
		return nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupScraper() error {
	var b court.Browser
	if a.cfg.Browser.Enabled {
		chrome, err := browser.NewChromedp(browser.Config{
			Headless:      a.cfg.Browser.Headless,
			NoSandbox:     a.cfg.Browser.NoSandbox,
			ExecPath:      a.cfg.Browser.ExecPath,
			UserAgent:     a.cfg.Browser.UserAgent,
			MaxParallel:   a.cfg.Browser.MaxParallel,
			ActionTimeout: a.cfg.Browser.ActionTimeout,
		}, a.logger.Named("browser"))
		if err != nil {
			return fmt.Errorf("browser init failed: %w", err)
		}
		a.chrome = chrome
		b = chrome
		a.logger.Info("using chromedp browser",
			zap.Bool("headless", a.cfg.Browser.Headless),
			zap.Int("max_parallel", a.cfg.Browser.MaxParallel),
		)
	} else {
		b = browser.NewDisabled()
		a.logger.Warn("browser disabled, scrapes will fail with SessionUnavailable")
	}

	deps := scrape.Deps{
		Browser: b,
		Clock:   system.New(),
		IDs:     uuid.New(),
		Sink:    a.sink,
		Logger:  a.logger.Named("scrape"),
	}
	if a.cfg.Fanout.HostRPS > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Fanout.HostRPS,
			DefaultBurst: a.cfg.Fanout.HostBurst,
		})
		a.logger.Info("detail rate limiter enabled",
			zap.Float64("host_rps", a.cfg.Fanout.HostRPS),
			zap.Int("host_burst", a.cfg.Fanout.HostBurst),
		)
	}
	if a.cfg.Site.CaseTypesSource == "http" {
		lister, err := casetypes.New(casetypes.Config{
			URL:       a.cfg.Site.EntryURL,
			Selector:  a.cfg.Selectors.CaseType,
			UserAgent: a.cfg.Browser.UserAgent,
			Timeout:   a.cfg.Browser.NavTimeout,
		}, a.logger.Named("casetypes"))
		if err != nil {
			return fmt.Errorf("case type lister init failed: %w", err)
		}
		deps.CaseTypes = lister
	}

	var err error
	a.scraper, err = scrape.New(scrape.Options{
		EntryURL:          a.cfg.Site.EntryURL,
		DetailPattern:     a.cfg.Site.DetailPattern,
		Selectors:         selectorsFromConfig(a.cfg.Selectors),
		NavTimeout:        a.cfg.Browser.NavTimeout,
		ChallengeTimeout:  a.cfg.Browser.ChallengeTimeout,
		SettleDelay:       a.cfg.Poll.SettleDelay,
		Poll:              scrape.Budget{MaxAttempts: a.cfg.Poll.MaxAttempts, Interval: a.cfg.Poll.Interval},
		FanoutConcurrency: a.cfg.Fanout.Concurrency,
	}, deps)
	if err != nil {
		return fmt.Errorf("scraper init failed: %w", err)
	}
	return nil
}

func selectorsFromConfig(c config.SelectorConfig) scrape.Selectors {
	s := scrape.DefaultSelectors()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.CaseType, c.CaseType)
	set(&s.CaseNumber, c.CaseNumber)
	set(&s.FilingYear, c.FilingYear)
	set(&s.Challenge, c.Challenge)
	set(&s.ChallengeInput, c.ChallengeInput)
	set(&s.ChallengeError, c.ChallengeError)
	set(&s.Submit, c.Submit)
	set(&s.SummaryTable, c.SummaryTable)
	set(&s.DetailTable, c.DetailTable)
	set(&s.EmptyMarker, c.EmptyMarker)
	set(&s.FilingDate, c.FilingDate)
	set(&s.NextHearingDate, c.NextHearingDate)
	return s
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Scraper returns the configured scrape pipeline.
func (a *App) Scraper() *scrape.Scraper {
	return a.scraper
}

// Service returns the scraper as the API's service interface.
func (a *App) Service() api.Service {
	return a.scraper
}

// QueryLog returns the configured query log.
func (a *App) QueryLog() court.QueryLog {
	return a.queryLog
}

// PublishedResults returns the in-memory publisher, or nil unless
// pubsub.driver is memory.
func (a *App) PublishedResults() *pubmemory.Publisher {
	return a.published
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or a signal arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return closeErr
	}
}

// Close waits for pending result writes and releases every service. Calls
// after the first are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.logger.Warn("sink drain failed", zap.Error(err))
		}
	}
	if a.chrome != nil {
		a.chrome.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.queryLog != nil {
		if err := a.queryLog.Close(); err != nil {
			a.logger.Warn("query log close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stderr/stdout for most terminals.
	_ = a.logger.Sync()
}
