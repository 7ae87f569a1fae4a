package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/lapforge/ingest/internal/api"
	"github.com/lapforge/ingest/internal/clock/system"
	"github.com/lapforge/ingest/internal/config"
	"github.com/lapforge/ingest/internal/discovery"
	collyfetcher "github.com/lapforge/ingest/internal/fetcher/colly"
	"github.com/lapforge/ingest/internal/hash/sha256"
	"github.com/lapforge/ingest/internal/id/uuid"
	"github.com/lapforge/ingest/internal/importer"
	"github.com/lapforge/ingest/internal/logging"
	memorypublisher "github.com/lapforge/ingest/internal/publisher/memory"
	pubsubpublisher "github.com/lapforge/ingest/internal/publisher/pubsub"
	"github.com/lapforge/ingest/internal/scrape"
	"github.com/lapforge/ingest/internal/storage/gcs"
	"github.com/lapforge/ingest/internal/storage/local"
	memorystorage "github.com/lapforge/ingest/internal/storage/memory"
	"github.com/lapforge/ingest/internal/storage/postgres"
	"github.com/lapforge/ingest/internal/telemetry"
	"github.com/lapforge/ingest/internal/timing"
	"github.com/lapforge/ingest/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()
	sink := telemetry.NewSink()

	deps, cleanup, err := buildBackends(ctx, cfg, clock, idGen, logger)
	if err != nil {
		logger.Fatal("backend init failed", zap.Error(err))
	}
	defer cleanup()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Scrape.UserAgent,
		Timeout:   cfg.ScrapeTimeout(),
	})
	client := scrape.New(scrape.Config{
		ResultsBaseURL: cfg.Scrape.ResultsBaseURL,
		UserAgent:      cfg.Scrape.UserAgent,
		Timeout:        cfg.ScrapeTimeout(),
		MaxAttempts:    cfg.Scrape.MaxRetries + 1,
		BackoffBase:    time.Duration(cfg.Scrape.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Scrape.BackoffMaxMs) * time.Millisecond,
	}, fetcher, logger.Named("scrape"))

	imp := importer.New(client, importer.Repositories{
		Events:   deps.events,
		Classes:  deps.classes,
		Sessions: deps.sessions,
		Drivers:  deps.drivers,
		Entrants: deps.entrants,
		Laps:     deps.laps,
		Results:  deps.results,
	}, deps.blobs, hasher, sink, importer.Config{}, logger.Named("importer"))

	disc := discovery.New(deps.clubs, client, deps.events, deps.sessions, deps.jobs,
		idGen, clock, sink, discovery.Config{
			MaxSelectedEvents:    cfg.Discovery.MaxSelectedEvents,
			MaxEstimatedLaps:     cfg.Discovery.MaxEstimatedLaps,
			LapsPerEventEstimate: cfg.Discovery.LapsPerEventEstimate,
		}, logger.Named("discovery"))

	jobWorker := worker.New(deps.jobs, imp, deps.publisher, sink, clock, worker.Config{
		PollInterval:    cfg.PollInterval(),
		ItemDelay:       cfg.ItemDelay(),
		CompletionTopic: cfg.Worker.CompletionTopic,
	}, logger.Named("worker"))

	apiServer := api.NewServer(deps.jobs, disc, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker started")
		jobWorker.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// backends bundles the storage, blob and publisher implementations
// selected by configuration.
type backends struct {
	events    timing.EventRepository
	classes   timing.RaceClassRepository
	sessions  timing.SessionRepository
	drivers   timing.DriverRepository
	entrants  timing.EntrantRepository
	laps      timing.LapRepository
	results   timing.ResultRowRepository
	clubs     timing.ClubRepository
	jobs      timing.ImportJobRepository
	blobs     timing.BlobStore
	publisher timing.Publisher
}

func buildBackends(
	ctx context.Context,
	cfg config.Config,
	clock timing.Clock,
	idGen timing.IDGenerator,
	logger *zap.Logger,
) (*backends, func(), error) {
	deps := &backends{}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	switch cfg.DB.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.LifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("postgres pool: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		store, err := postgres.NewStore(pool, idGen, clock)
		if err != nil {
			return nil, cleanup, fmt.Errorf("postgres store: %w", err)
		}
		jobs, err := postgres.NewJobStore(pool, clock)
		if err != nil {
			return nil, cleanup, fmt.Errorf("postgres job store: %w", err)
		}
		deps.events = store.Events()
		deps.classes = store.Classes()
		deps.sessions = store.Sessions()
		deps.drivers = store.Drivers()
		deps.entrants = store.Entrants()
		deps.laps = store.Laps()
		deps.results = store.Results()
		deps.clubs = store.Clubs()
		deps.jobs = jobs
	default:
		repos := memorystorage.NewRepos(idGen, clock)
		deps.events = repos.Events
		deps.classes = repos.Classes
		deps.sessions = repos.Sessions
		deps.drivers = repos.Drivers
		deps.entrants = repos.Entrants
		deps.laps = repos.Laps
		deps.results = repos.Results
		deps.clubs = repos.Clubs
		deps.jobs = memorystorage.NewJobStore(clock)
	}

	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, cleanup, fmt.Errorf("gcs client: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := client.Close(); err != nil {
				logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		blobs, err := gcs.New(client, gcs.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("gcs blob store: %w", err)
		}
		deps.blobs = blobs
	case "local":
		blobs, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, cleanup, fmt.Errorf("local blob store: %w", err)
		}
		deps.blobs = blobs
	default:
		deps.blobs = memorystorage.NewBlobStore()
	}

	switch cfg.PubSub.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, cleanup, fmt.Errorf("pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		cleanups = append(cleanups, func() {
			pub.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		deps.publisher = pub
	default:
		deps.publisher = memorypublisher.New()
	}

	return deps, cleanup, nil
}
