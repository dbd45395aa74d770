package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/pkg/blockfinder"
	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/indexer"
	"github.com/autopool-labs/autopool-warehouse/pkg/pgutil"
	"github.com/autopool-labs/autopool-warehouse/pkg/quotes"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
	"github.com/autopool-labs/autopool-warehouse/pkg/solver"
	syncpkg "github.com/autopool-labs/autopool-warehouse/pkg/sync"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	runOnce    = flag.Bool("once", false, "Run a single sync pass and exit")
)

// chainWorker holds everything one chain's sync pass needs
type chainWorker struct {
	cfg          config.ChainConfig
	store        *warehouse.Store
	client       *chain.Client
	orchestrator *syncpkg.Orchestrator
	reconciler   *solver.Reconciler
	sampler      *quotes.Sampler
}

func main() {
	flag.Parse()

	// Local/dev convenience; production supplies real environment variables
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Autopool warehouse syncer")

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := warehouse.VerifySchema(ctx, db, warehouse.Models()...); err != nil {
		logger.Fatal("Warehouse schema does not match models, run migrations first", zap.Error(err))
	}
	logger.Info("Database connection established, schema verified")

	store := warehouse.NewStore(db, logger)
	retryCfg := retryConfig(cfg.Sync)
	finder := blockfinder.NewFinder(cfg.Sync.BlockLookupURL, chainSlugs(cfg.Chains), retryCfg, logger)

	workers := make([]*chainWorker, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		worker, err := buildChainWorker(cfg, chainCfg, store, finder, retryCfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize chain",
				zap.String("chain", chainCfg.Name), zap.Error(err))
		}
		defer worker.client.Close()
		workers = append(workers, worker)
	}

	if *runOnce {
		if err := runPass(ctx, workers, logger); err != nil {
			logger.Error("Sync pass finished with errors", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("Sync pass complete")
		return
	}

	var ready atomic.Bool
	var passRunning atomic.Bool

	scheduler := cron.New()
	pass := func() {
		if !passRunning.CompareAndSwap(false, true) {
			logger.Warn("Previous sync pass still running, skipping this tick")
			return
		}
		defer passRunning.Store(false)

		if err := runPass(ctx, workers, logger); err != nil {
			logger.Error("Sync pass finished with errors", zap.Error(err))
		}
		ready.Store(true)
	}
	if _, err := scheduler.AddFunc(cfg.Scheduler.CronSpec, pass); err != nil {
		logger.Fatal("Invalid cron spec", zap.String("spec", cfg.Scheduler.CronSpec), zap.Error(err))
	}
	scheduler.Start()
	logger.Info("Scheduler started", zap.String("cron_spec", cfg.Scheduler.CronSpec))

	// First pass immediately instead of waiting for the first tick
	go pass()

	server := opsServer(cfg.Server, &ready)
	go func() {
		logger.Info("Starting ops HTTP server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, gracefully shutting down...")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Syncer stopped")
}

func buildChainWorker(
	cfg *config.Config,
	chainCfg config.ChainConfig,
	store *warehouse.Store,
	finder *blockfinder.Finder,
	retryCfg retry.Config,
	logger *zap.Logger,
) (*chainWorker, error) {
	client, err := chain.NewClient(chainCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("chain client: %w", err)
	}

	syncer := syncpkg.NewSyncer(store, client, finder, cfg.Sync, chainCfg, logger)
	orchestrator, err := syncpkg.NewOrchestrator(chainCfg.Name, syncer.Updaters(), logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	worker := &chainWorker{
		cfg:          chainCfg,
		store:        store,
		client:       client,
		orchestrator: orchestrator,
	}

	if cfg.Solver.BucketURL != "" && cfg.Indexer.URL != "" {
		bucket := solver.NewBucket(cfg.Solver, retryCfg, logger)
		events := indexer.NewClient(cfg.Indexer, retryCfg, logger)
		worker.reconciler = solver.NewReconciler(
			cfg.Solver, store, client, bucket, events, syncer, retryCfg, logger)
	} else {
		logger.Info("Solver reconciliation disabled, bucket or indexer URL not configured",
			zap.String("chain", chainCfg.Name))
	}

	if cfg.Quotes.Enabled {
		worker.sampler = quotes.NewSampler(cfg.Quotes, store, chainCfg.ChainID, retryCfg, logger)
	}

	return worker, nil
}

// runPass runs one full pass for every chain. A chain failing does not stop
// the others; all errors are joined.
func runPass(ctx context.Context, workers []*chainWorker, logger *zap.Logger) error {
	var errs []error
	for _, w := range workers {
		start := time.Now()
		logger.Info("Starting sync pass", zap.String("chain", w.cfg.Name))

		if err := w.orchestrator.RunPass(ctx); err != nil {
			errs = append(errs, fmt.Errorf("chain %s: sync: %w", w.cfg.Name, err))
		}
		if w.reconciler != nil {
			if err := w.reconciler.Run(ctx); err != nil {
				errs = append(errs, fmt.Errorf("chain %s: solver: %w", w.cfg.Name, err))
			}
		}
		if w.sampler != nil {
			if err := sampleQuotes(ctx, w); err != nil {
				errs = append(errs, fmt.Errorf("chain %s: quotes: %w", w.cfg.Name, err))
			}
		}

		logger.Info("Sync pass finished",
			zap.String("chain", w.cfg.Name),
			zap.Duration("elapsed", time.Since(start)))
	}
	return errors.Join(errs...)
}

// sampleQuotes quotes one unit of each autopool's base asset against every
// token its destinations hold, and snapshots exposure for all of them.
func sampleQuotes(ctx context.Context, w *chainWorker) error {
	store := w.store

	autopools, err := store.ListAutopools(ctx, w.cfg.ChainID)
	if err != nil {
		return err
	}

	seenPair := make(map[string]bool)
	seenToken := make(map[string]bool)
	var pairs []quotes.Pair
	var tokens []string

	addToken := func(addr string) {
		addr = strings.ToLower(addr)
		if !seenToken[addr] {
			seenToken[addr] = true
			tokens = append(tokens, addr)
		}
	}

	for _, pool := range autopools {
		addToken(pool.BaseAsset)
		destinations, err := store.ListDestinations(ctx, w.cfg.ChainID, pool.VaultAddress)
		if err != nil {
			return err
		}
		for _, dest := range destinations {
			destTokens, err := store.ListDestinationTokens(ctx, w.cfg.ChainID, dest.DestinationAddress)
			if err != nil {
				return err
			}
			for _, dt := range destTokens {
				addToken(dt.TokenAddress)
				if strings.EqualFold(dt.TokenAddress, pool.BaseAsset) {
					continue
				}
				key := strings.ToLower(pool.BaseAsset) + ">" + strings.ToLower(dt.TokenAddress)
				if seenPair[key] {
					continue
				}
				seenPair[key] = true
				pairs = append(pairs, quotes.Pair{
					TokenIn:  strings.ToLower(pool.BaseAsset),
					TokenOut: strings.ToLower(dt.TokenAddress),
					AmountIn: 1.0,
				})
			}
		}
	}

	if len(pairs) == 0 && len(tokens) == 0 {
		return nil
	}
	return w.sampler.Sample(ctx, pairs, tokens)
}

func retryConfig(cfg config.SyncConfig) retry.Config {
	rc := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		rc.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryInitialDelay > 0 {
		rc.InitialDelay = cfg.RetryInitialDelay
	}
	if cfg.RetryMaxDelay > 0 {
		rc.MaxDelay = cfg.RetryMaxDelay
	}
	return rc
}

// chainSlugs maps chain ids to the names the block lookup service keys on
func chainSlugs(chains []config.ChainConfig) map[int64]string {
	slugs := make(map[int64]string, len(chains))
	for _, c := range chains {
		slugs[c.ChainID] = strings.ToLower(c.Name)
	}
	return slugs
}

func opsServer(cfg config.ServerConfig, ready *atomic.Bool) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness flips after the first completed sync pass
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
