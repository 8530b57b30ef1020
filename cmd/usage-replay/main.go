package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
	"github.com/xenking/campaign-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL   string
		pattern       string
		workers       int
		bloomCapacity uint
		bloomFPR      float64
		lockTimeout   time.Duration
		maxAttempts   uint
		verbose       bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&pattern, "input", "data/completions-*.ndjson.gz", "glob of gzipped NDJSON order-completion logs")
	flag.IntVar(&workers, "workers", 4, "files replayed concurrently")
	flag.UintVar(&bloomCapacity, "bloom-capacity", 10_000_000, "expected number of distinct orders; sizes the filter behind the suspected_redeliveries summary")
	flag.Float64Var(&bloomFPR, "bloom-fpr", 0.001, "false positive rate of suspected_redeliveries; duplicates are always confirmed by the store")
	flag.DurationVar(&lockTimeout, "lock-timeout", 2*time.Second, "Postgres lock_timeout for usage commits")
	flag.UintVar(&maxAttempts, "max-attempts", 8, "max store attempts per usage commit")
	flag.BoolVar(&verbose, "verbose", false, "log every suspected redelivery at debug level")
	flag.Parse()

	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := campaign.DefaultRecorderConfig()
	cfg.MaxAttempts = maxAttempts

	rep, err := run(ctx, databaseURL, pattern, workers, bloomCapacity, bloomFPR, lockTimeout, cfg)
	slog.Info("replay summary",
		slog.Uint64("lines", rep.Lines),
		slog.Uint64("committed", rep.Committed),
		slog.Uint64("duplicates", rep.Duplicates),
		slog.Uint64("suspected_redeliveries", rep.Suspected),
		slog.Uint64("malformed", rep.Malformed),
	)
	if err != nil {
		slog.Error("usage replay failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("usage replay completed successfully")
}

func run(
	ctx context.Context,
	databaseURL, pattern string,
	workers int,
	bloomCapacity uint,
	bloomFPR float64,
	lockTimeout time.Duration,
	cfg campaign.RecorderConfig,
) (report, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return report{}, errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return report{}, errors.Errorf("no files match %s", pattern)
	}

	slog.Info("connecting to database", slog.Int("files", len(files)))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return report{}, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	recorder, err := campaign.NewRecorder(postgres.NewCampaignRepository(pool, lockTimeout), cfg)
	if err != nil {
		return report{}, errors.Wrap(err, "create recorder")
	}

	return newReplayer(recorder, bloomCapacity, bloomFPR, workers).Run(ctx, files)
}
