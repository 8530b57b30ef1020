package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
)

const (
	progressEvery = 100_000
	maxLineBytes  = 1 << 20
)

type committer interface {
	Commit(ctx context.Context, req campaign.CommitRequest) (*campaign.CommitResult, error)
}

// report summarizes a replay run. Suspected counts come from the bloom filter
// and may include false positives; Duplicates are the orders the recorder
// confirmed as already committed.
type report struct {
	Lines      uint64
	Committed  uint64
	Duplicates uint64
	Suspected  uint64
	Malformed  uint64
}

type replayer struct {
	recorder committer
	workers  int

	mu   sync.Mutex
	seen *bloom.BloomFilter

	lines      atomic.Uint64
	committed  atomic.Uint64
	duplicates atomic.Uint64
	suspected  atomic.Uint64
	malformed  atomic.Uint64
}

func newReplayer(recorder committer, capacity uint, fpr float64, workers int) *replayer {
	if workers < 1 {
		workers = 1
	}
	return &replayer{
		recorder: recorder,
		workers:  workers,
		seen:     bloom.NewWithEstimates(capacity, fpr),
	}
}

// Run replays every file concurrently. Each file is processed in order so
// redeliveries within one file hit the recorder after the original.
func (r *replayer) Run(ctx context.Context, files []string) (report, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, f := range files {
		g.Go(func() error {
			return r.replayFile(ctx, i, f)
		})
	}
	if err := g.Wait(); err != nil {
		return r.report(), err
	}
	return r.report(), nil
}

func (r *replayer) report() report {
	return report{
		Lines:      r.lines.Load(),
		Committed:  r.committed.Load(),
		Duplicates: r.duplicates.Load(),
		Suspected:  r.suspected.Load(),
		Malformed:  r.malformed.Load(),
	}
}

// markSeen records the key and reports whether it was probably seen before.
func (r *replayer) markSeen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen.TestOrAddString(key)
}

func (r *replayer) replayFile(ctx context.Context, idx int, path string) error {
	lg := slog.With(slog.Int("file", idx+1), slog.String("path", path))
	var count uint64

	err := streamGzFile(ctx, path, func(line []byte) error {
		if len(line) == 0 {
			return nil
		}
		r.lines.Add(1)
		count++
		if count%progressEvery == 0 {
			lg.Info("replay progress", slog.Uint64("lines", count))
		}

		c, err := decodeCompletion(line)
		if err != nil {
			r.malformed.Add(1)
			lg.Warn("skipping malformed line",
				slog.Uint64("line", count),
				slog.String("error", err.Error()),
			)
			return nil
		}

		if r.markSeen(c.key()) {
			r.suspected.Add(1)
			lg.Debug("suspected redelivery",
				slog.String("order_id", c.OrderID),
				slog.String("campaign_id", c.CampaignID),
			)
		}

		res, err := r.recorder.Commit(ctx, c.request())
		switch {
		case errors.Is(err, campaign.ErrInvalidCommit), errors.Is(err, campaign.ErrCampaignNotFound):
			r.malformed.Add(1)
			lg.Warn("skipping unrecordable completion",
				slog.String("order_id", c.OrderID),
				slog.String("error", err.Error()),
			)
			return nil
		case err != nil:
			return errors.Wrapf(err, "commit order %s", c.OrderID)
		case res.Duplicate:
			r.duplicates.Add(1)
		default:
			r.committed.Add(1)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "replay file %d", idx+1)
	}

	lg.Info("file complete", slog.Uint64("lines", count))
	return nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
