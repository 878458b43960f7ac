package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcusrt/ai-session-export/internal/changelog"
	"github.com/marcusrt/ai-session-export/internal/config"
	"github.com/marcusrt/ai-session-export/internal/evaluator"
	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/parse"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

func backfillCmd() *cobra.Command {
	var root, repoDir, actor string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate changelog entries for past exports that never got one",
		Long: `Walk the export root and summarize every recorded run whose run ID
is missing from the changelog. Dedup makes re-runs safe. A rate-limited
evaluator halts dispatch of pending work; in-flight jobs finish and the
command exits non-zero so the batch can be retried.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			if repoDir == "" {
				repoDir, _ = os.Getwd()
			}
			cfg, err := config.Load(repoDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if root == "" {
				root = cfg.ExportRoot
			}
			if actor == "" {
				actor = cfg.Actor
			}
			if concurrency <= 0 {
				concurrency = cfg.Concurrency
			}

			jobs, err := changelog.EnumerateJobs(root)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(os.Stderr, "Nothing to backfill.")
				return nil
			}

			eval, err := evaluator.New(cfg.Evaluator, cfg.EvaluatorModel)
			if err != nil {
				return err
			}
			b := changelog.Backfiller{
				Gen: changelog.Generator{
					Store: changelog.Store{Root: repoDir, Log: log},
					Eval:  eval,
					Log:   log,
				},
				Log:          log,
				Concurrency:  concurrency,
				BuildRequest: backfillRequestBuilder(actor),
			}

			result, err := b.Run(cmd.Context(), jobs)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Backfill %s: written=%d duplicates=%d failed=%d skipped=%d\n",
				result.BatchID, result.Written, result.Duplicates, result.Failed, result.Skipped)
			if result.Halted {
				return changelog.ErrHalted
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Export root to walk (default: configured export root)")
	cmd.Flags().StringVar(&repoDir, "repo", "", "Repository holding the changelog (default: current directory)")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor recorded on backfilled entries")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel evaluator invocations")

	return cmd
}

// backfillRequestBuilder reconstructs a summarization request per job.
// Runs from the ledger carry everything; ledger-less directories fall
// back to source_match.json with format auto-detection.
func backfillRequestBuilder(actor string) func(context.Context, changelog.Job) (changelog.Request, bool, error) {
	return func(ctx context.Context, job changelog.Job) (changelog.Request, bool, error) {
		var (
			tool         logline.Tool
			sourceJSONL  string
			startStr     string
			endStr       string
			continuation string
		)
		if job.HasRun {
			tool = logline.Tool(job.Run.Tool)
			sourceJSONL = job.Run.SourceJSONL
			startStr = job.Run.Start
			endStr = job.Run.End
			continuation = job.Run.ChangelogRunID
		} else {
			sm, err := readSourceMatch(job.SessionDir)
			if err != nil {
				return changelog.Request{}, false, nil
			}
			sourceJSONL = sm.Best.Path
			startStr = sm.Best.StartTS
			endStr = sm.Best.EndTS
		}

		if _, err := os.Stat(sourceJSONL); err != nil {
			// source log rotated away since the export
			return changelog.Request{}, false, nil
		}
		if tool == "" {
			detected, err := parse.DetectFile(sourceJSONL)
			if err != nil {
				return changelog.Request{}, false, nil
			}
			tool = detected
		}

		start := timeutil.Parse(startStr)
		end := timeutil.Parse(endStr)
		if start.IsZero() || end.IsZero() {
			return changelog.Request{}, false, nil
		}

		req, _, _, err := buildRequest(tool, actor, job.SessionDir, sourceJSONL, start, end, continuation)
		if err != nil {
			return changelog.Request{}, false, err
		}
		matchPath := filepath.Join(job.SessionDir, sourceMatchFileName)
		if _, err := os.Stat(matchPath); err == nil {
			req.SourceMatchJSON = matchPath
		}
		return req, true, nil
	}
}
