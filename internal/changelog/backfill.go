package changelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/marcusrt/ai-session-export/internal/runlog"
)

// DefaultConcurrency bounds parallel evaluator subprocesses.
const DefaultConcurrency = 5

// Job is one backfill unit: a session export directory, and when the
// directory has a run ledger, one specific run from it. A zero Run
// means the directory predates the ledger and the window must be
// reconstructed from its contents.
type Job struct {
	SessionDir string
	Run        runlog.Run
	HasRun     bool
}

// EnumerateJobs walks the export root and yields one job per recorded
// export run, or a single ledger-less job for directories without one.
func EnumerateJobs(root string) ([]Job, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read export root: %w", err)
	}

	var jobs []Job
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		dir := filepath.Join(root, name)
		runs, err := runlog.ReadAll(dir)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			jobs = append(jobs, Job{SessionDir: dir})
			continue
		}
		for _, r := range runs {
			jobs = append(jobs, Job{SessionDir: dir, Run: r, HasRun: true})
		}
	}
	return jobs, nil
}

// BackfillResult tallies one batch.
type BackfillResult struct {
	BatchID    string
	Written    int
	Duplicates int
	Failed     int
	Skipped    int
	Halted     bool
}

// Backfiller replays session exports that never produced a changelog
// entry. BuildRequest turns a job into a summarization request; it
// returns ok=false for directories that cannot be reconstructed, which
// are counted as skipped.
type Backfiller struct {
	Gen          Generator
	Log          zerolog.Logger
	Concurrency  int
	BuildRequest func(ctx context.Context, job Job) (Request, bool, error)
}

// Run processes jobs through a bounded pool. Dedup makes the whole
// batch idempotent. A rate-limited evaluator halts dispatch of pending
// jobs; in-flight ones finish, and the result marks the batch halted
// so the caller knows a re-run is needed.
func (b Backfiller) Run(ctx context.Context, jobs []Job) (BackfillResult, error) {
	concurrency := b.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	seen, err := b.Gen.LoadRunSet()
	if err != nil {
		return BackfillResult{}, err
	}

	result := BackfillResult{BatchID: uuid.NewString()}
	log := b.Log.With().Str("batch_id", result.BatchID).Logger()
	log.Info().Int("jobs", len(jobs)).Int("concurrency", concurrency).Msg("backfill batch start")

	var (
		halted                               atomic.Bool
		written, duplicates, failed, skipped atomic.Int64
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, job := range jobs {
		if halted.Load() {
			skipped.Add(1)
			continue
		}
		job := job
		g.Go(func() error {
			if halted.Load() || ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}

			req, ok, err := b.BuildRequest(ctx, job)
			if err != nil {
				log.Warn().Str("session_dir", job.SessionDir).Err(err).Msg("backfill job unreadable, skipping")
				skipped.Add(1)
				return nil
			}
			if !ok {
				skipped.Add(1)
				return nil
			}

			outcome, err := b.Gen.Generate(ctx, req, seen)
			if err != nil {
				return err
			}
			switch outcome.Status {
			case StatusWritten:
				written.Add(1)
			case StatusDuplicate:
				duplicates.Add(1)
			case StatusFailed:
				failed.Add(1)
			case StatusRateLimited:
				halted.Store(true)
				skipped.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BackfillResult{}, err
	}

	result.Written = int(written.Load())
	result.Duplicates = int(duplicates.Load())
	result.Failed = int(failed.Load())
	result.Skipped = int(skipped.Load())
	result.Halted = halted.Load()

	log.Info().
		Int("written", result.Written).
		Int("duplicates", result.Duplicates).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Bool("halted", result.Halted).
		Msg("backfill batch done")
	return result, nil
}

// ErrHalted is returned by callers that treat a halted batch as a
// failure exit.
var ErrHalted = errors.New("backfill halted by evaluator rate limit")
